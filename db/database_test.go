package db

import (
	"context"
	"path/filepath"
	"testing"

	"consenthub/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type migrationProbe struct {
	ID   uint `gorm:"primarykey"`
	Name string
}

func TestLibsqlDSN(t *testing.T) {
	dsn, err := libsqlDSN("libsql://consenthub-org.turso.io", "tok123")
	require.NoError(t, err)
	assert.Equal(t, "libsql://consenthub-org.turso.io?authToken=tok123", dsn)

	dsn, err = libsqlDSN("libsql://consenthub-org.turso.io", "")
	require.NoError(t, err)
	assert.Equal(t, "libsql://consenthub-org.turso.io", dsn)
}

func TestInitializeAndMigrate(t *testing.T) {
	DB = nil
	assert.Error(t, AutoMigrate(&migrationProbe{}))
	assert.Error(t, Ping(context.Background()))

	cfg := &config.Config{
		DBPath:      filepath.Join(t.TempDir(), "test.db"),
		Environment: "production",
	}
	require.NoError(t, Initialize(cfg))
	defer Close()

	require.NoError(t, Ping(context.Background()))
	require.NoError(t, AutoMigrate(&migrationProbe{}))
	assert.True(t, DB.Migrator().HasTable(&migrationProbe{}))
}
