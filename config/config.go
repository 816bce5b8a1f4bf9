package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// MinJWTSecretLength is the minimum required length for the token signing secret in production
	MinJWTSecretLength = 32
)

type Config struct {
	ServerPort  string
	DBPath      string
	Environment string
	LogLevel    string
	UploadDir   string
	HTTPTimeout time.Duration
	// Auth boundary: tokens are issued by the auth service and verified here
	JWTSecret string
	// Email (Resend)
	ResendAPIKey  string
	EmailFrom     string
	EmailFromName string
	EmailTestMode bool // When true, emails are logged instead of sent

	// Security alerts are emailed here when set
	SecurityAlertEmail string

	// Other
	AllowedOrigins   []string
	AppURL           string
	TursoDatabaseURL string
	TursoAuthToken   string
	RedisURL         string
	ChromePath       string
	// DSAR defaults
	DefaultJurisdiction string
	OverdueSweepSpec    string
	// Cloudflare R2 Storage
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string
}

func Load() *Config {
	// Load .env file (ignore error if not present - use system env vars)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	environment := getEnv("ENVIRONMENT", "development")
	jwtSecret := getEnv("AUTH_JWT_SECRET", "")

	if err := ValidateJWTSecret(jwtSecret, environment); err != nil {
		log.Fatalf("[CRITICAL] %v", err)
	}

	// In development, generate a secret if none provided
	if jwtSecret == "" && environment != "production" {
		jwtSecret = GenerateSecureSecret()
		log.Println("[INFO] Generated temporary AUTH_JWT_SECRET for development. Tokens will not survive a restart.")
	}

	return &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		DBPath:              getEnv("DB_PATH", "db/consenthub.db"),
		Environment:         environment,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		UploadDir:           getEnv("UPLOAD_DIR", "storage/dsar"),
		HTTPTimeout:         getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		JWTSecret:           jwtSecret,
		ResendAPIKey:        getEnv("RESEND_API_KEY", ""),
		EmailFrom:           getEnv("EMAIL_FROM", "privacy@consenthub.local"),
		EmailFromName:       getEnv("EMAIL_FROM_NAME", "ConsentHub Privacy Office"),
		EmailTestMode:       getEnvBool("EMAIL_TEST_MODE", true), // Default true for safety
		SecurityAlertEmail:  getEnv("SECURITY_ALERT_EMAIL", ""),
		AllowedOrigins:      strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		AppURL:              getEnv("APP_URL", "http://localhost:8080"),
		TursoDatabaseURL:    getEnv("TURSO_DATABASE_URL", ""),
		TursoAuthToken:      getEnv("TURSO_AUTH_TOKEN", ""),
		RedisURL:            getEnv("REDIS_URL", ""),
		ChromePath:          getEnv("CHROME_PATH", ""),
		DefaultJurisdiction: getEnv("DSAR_DEFAULT_JURISDICTION", "Sri Lanka"),
		OverdueSweepSpec:    getEnv("DSAR_OVERDUE_SWEEP", "@hourly"),
		R2AccountID:         getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:       getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey:   getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:        getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:         getEnv("R2_PUBLIC_URL", ""),
	}
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// R2Configured reports whether all Cloudflare R2 credentials are present
func (c *Config) R2Configured() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept common boolean representations
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare integers are treated as seconds
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	log.Printf("[WARNING] Invalid duration for %s: %q, using %s", key, value, defaultValue)
	return defaultValue
}

// ValidateJWTSecret checks the token signing secret.
// In production it must be at least 32 bytes and not a known insecure default.
func ValidateJWTSecret(secret string, environment string) error {
	insecureDefaults := []string{
		"change-me",
		"secret",
		"development",
		"test",
	}

	for _, insecure := range insecureDefaults {
		if strings.EqualFold(secret, insecure) {
			if environment == "production" {
				return fmt.Errorf("AUTH_JWT_SECRET is set to an insecure default value")
			}
			log.Printf("[WARNING] AUTH_JWT_SECRET is set to an insecure default value. This is acceptable only in development.")
			return nil
		}
	}

	if environment == "production" && len(secret) < MinJWTSecretLength {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least %d characters in production (current: %d)", MinJWTSecretLength, len(secret))
	}

	return nil
}

// GenerateSecureSecret generates a cryptographically secure random secret
// This is used only for development when no secret is provided
func GenerateSecureSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		log.Printf("[WARNING] Failed to generate secure secret: %v", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(bytes)
}
