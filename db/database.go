package db

import (
	"context"
	"fmt"
	"net/url"

	"consenthub/config"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Initialize sets up the global database connection.
// A Turso/libSQL URL takes precedence over the local SQLite file.
func Initialize(cfg *config.Config) error {
	conn, err := Open(cfg)
	if err != nil {
		return err
	}
	DB = conn
	return nil
}

// Open returns a new connection without touching the global handle
func Open(cfg *config.Config) (*gorm.DB, error) {
	// Determine log level based on environment
	logLevel := logger.Info
	if cfg.IsProduction() {
		logLevel = logger.Warn
	}
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	if cfg.TursoDatabaseURL != "" {
		dsn, err := libsqlDSN(cfg.TursoDatabaseURL, cfg.TursoAuthToken)
		if err != nil {
			return nil, err
		}
		conn, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "libsql", DSN: dsn}), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to libsql database: %w", err)
		}
		zap.S().Infow("database connection established", "driver", "libsql")
		return conn, nil
	}

	// Enable WAL mode for better concurrency support
	dsn := cfg.DBPath + "?_journal_mode=WAL&_busy_timeout=5000"

	conn, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	zap.S().Infow("database connection established", "driver", "sqlite", "path", cfg.DBPath)
	return conn, nil
}

// libsqlDSN appends the auth token the libsql driver expects as a query parameter
func libsqlDSN(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid TURSO_DATABASE_URL: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("authToken", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// AutoMigrate runs database migrations for the provided models
func AutoMigrate(models ...interface{}) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := DB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	zap.S().Info("database migrations completed")
	return nil
}

// Ping checks that the connection is alive
func Ping(ctx context.Context) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	return sqlDB.Close()
}
