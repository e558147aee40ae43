package config

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MasterKeySize is the required length of the decoded MESSAGE_MASTER_KEY.
const MasterKeySize = 32

// Config holds all environment configuration values for the application.
// These values are loaded from a .env file at startup.
type Config struct {
	// SupabaseURL is the URL of your Supabase project.
	// When empty the server runs against a local SQLite database instead.
	SupabaseURL string

	// SupabaseKey is the service role key for backend operations
	// This key has elevated privileges and should never be exposed to clients
	SupabaseKey string

	// ServerPort is the port the HTTP server listens on
	ServerPort string

	// CorsOrigins lists the browser origins allowed to call the API
	CorsOrigins []string

	// MasterKey is the root secret message keys are derived from.
	// Never shipped to clients.
	MasterKey []byte

	// LegacyPassphrase decodes messages written by the old web client.
	// Optional; empty disables legacy decoding.
	LegacyPassphrase string

	// MaxMessageLength bounds plaintext size in bytes
	MaxMessageLength int

	// MessageRate and MessageBurst limit sends per participant
	MessageRate  float64
	MessageBurst int

	// ResyncInterval is how often open chat sessions re-fetch from the backend
	ResyncInterval time.Duration

	// SQLitePath is the local database used when SupabaseURL is empty
	SQLitePath string

	// MediaBucket is the storage bucket chat attachments are uploaded to
	MediaBucket string

	// PaymentVANumber and PaymentAccountName are shown on order summaries
	PaymentVANumber    string
	PaymentAccountName string
}

// Load reads environment variables and returns a populated Config struct.
// It will load from a .env file if present, then read from environment variables.
// Falls back to sensible defaults if values are not set.
func Load() (*Config, error) {
	// Attempt to load .env file - not an error if it doesn't exist
	// as we may be running in production with real environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		SupabaseURL:        strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseKey:        getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		ServerPort:         getEnv("PORT", "8080"),
		CorsOrigins:        splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		LegacyPassphrase:   os.Getenv("LEGACY_MESSAGE_PASSPHRASE"),
		SQLitePath:         getEnv("SQLITE_PATH", "joakey.db"),
		MediaBucket:        getEnv("MEDIA_BUCKET", "chat-media"),
		PaymentVANumber:    getEnv("PAYMENT_VA_NUMBER", "3901085797009915"),
		PaymentAccountName: getEnv("PAYMENT_ACCOUNT_NAME", "Admin Joakey"),
	}

	rawKey := os.Getenv("MESSAGE_MASTER_KEY")
	if rawKey == "" {
		return nil, fmt.Errorf("MESSAGE_MASTER_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(rawKey)
	if err != nil {
		return nil, fmt.Errorf("MESSAGE_MASTER_KEY is not valid base64: %w", err)
	}
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("MESSAGE_MASTER_KEY must decode to %d bytes, got %d", MasterKeySize, len(key))
	}
	cfg.MasterKey = key

	if cfg.MaxMessageLength, err = getInt("MESSAGE_MAX_LENGTH", 4000); err != nil {
		return nil, err
	}
	if cfg.MessageBurst, err = getInt("MESSAGE_RATE_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.MessageRate, err = getFloat("MESSAGE_RATE_PER_SECOND", 5); err != nil {
		return nil, err
	}
	if cfg.ResyncInterval, err = getDuration("RESYNC_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxMessageLength <= 0 {
		return nil, fmt.Errorf("MESSAGE_MAX_LENGTH must be positive")
	}

	if cfg.SupabaseURL != "" && cfg.SupabaseKey == "" {
		log.Println("WARNING: SUPABASE_SERVICE_ROLE_KEY is not set")
	}

	return cfg, nil
}

// UseSupabase reports whether the hosted backend is configured.
func (c *Config) UseSupabase() bool {
	return c.SupabaseURL != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// splitList splits comma-separated values and trims whitespace
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
