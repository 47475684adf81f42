package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the full configuration surface for the proxy: the ambient
// stack (environment, encryption key, credential store, bind address, log
// level) plus the domain stack (session store, pool sizing, keep-alive
// cadence, transformer bounds).
type Config struct {
	Environment         string
	EncryptionKeyBase64 string

	// Credential Resolver (C1) backing store.
	DBHost     string
	DBPort     string
	DBUsername string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Session Store (C2).
	StoreURL              string
	SessionTTLSeconds     int
	KeepaliveIntervalSecs int

	// Connection pools (C3/C4).
	MaxLiveHandlesPerProtocol int
	IdleProbeThresholdSeconds int

	// Message Transformer (C6).
	BodyCharLimit        int
	AttachmentCharLimit  int
	TrackingHostPatterns []string

	// Thin HTTP adapter (C7).
	BindAddr string
	LogLevel string
}

// NewConfig loads configuration from the environment (and .env in
// development), applies defaults, and validates the result. It fails fast:
// an invalid or incomplete configuration is a startup error, not a
// degradation.
func NewConfig() (*Config, error) {
	env := os.Getenv("MAILPROXY_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	cfg := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("MAILPROXY_ENCRYPTION_KEY_BASE64"),

		DBHost:     getEnvOrDefault("MAILPROXY_DB_HOST", "localhost"),
		DBPort:     getEnvOrDefault("MAILPROXY_DB_PORT", "5432"),
		DBUsername: getEnvOrDefault("MAILPROXY_DB_USER", "mailproxy"),
		DBPassword: os.Getenv("MAILPROXY_DB_PASSWORD"),
		DBName:     getEnvOrDefault("MAILPROXY_DB_NAME", "mailproxy"),
		DBSSLMode:  getEnvOrDefault("MAILPROXY_DB_SSLMODE", "disable"),

		StoreURL:              getEnvOrDefault("MAILPROXY_STORE_URL", "redis://localhost:6379/0"),
		SessionTTLSeconds:     getEnvIntOrDefault("MAILPROXY_SESSION_TTL_SECONDS", 300),
		KeepaliveIntervalSecs: getEnvIntOrDefault("MAILPROXY_KEEPALIVE_INTERVAL_SECONDS", 25),

		MaxLiveHandlesPerProtocol: getEnvIntOrDefault("MAILPROXY_MAX_LIVE_HANDLES_PER_PROTOCOL", 512),
		IdleProbeThresholdSeconds: getEnvIntOrDefault("MAILPROXY_IDLE_PROBE_THRESHOLD_SECONDS", 60),

		BodyCharLimit:        getEnvIntOrDefault("MAILPROXY_TRANSFORMER_BODY_CHAR_LIMIT", 5000),
		AttachmentCharLimit:  getEnvIntOrDefault("MAILPROXY_TRANSFORMER_ATTACHMENT_CHAR_LIMIT", 2000),
		TrackingHostPatterns: splitNonEmpty(os.Getenv("MAILPROXY_TRANSFORMER_TRACKING_HOST_PATTERNS")),

		BindAddr: getEnvOrDefault("MAILPROXY_BIND_ADDR", ":8080"),
		LogLevel: getEnvOrDefault("MAILPROXY_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILPROXY_ENCRYPTION_KEY_BASE64 is required")
	}

	key, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("MAILPROXY_ENCRYPTION_KEY_BASE64 is not valid base64")
	}
	if len(key) != 32 {
		return fmt.Errorf("MAILPROXY_ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d", len(key))
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILPROXY_DB_PASSWORD is required")
	}

	if c.StoreURL == "" {
		return fmt.Errorf("MAILPROXY_STORE_URL is required")
	}

	if !validPort(c.DBPort) {
		return fmt.Errorf("MAILPROXY_DB_PORT is not a valid port number")
	}

	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("MAILPROXY_SESSION_TTL_SECONDS must be positive")
	}

	if c.KeepaliveIntervalSecs <= 0 {
		return fmt.Errorf("MAILPROXY_KEEPALIVE_INTERVAL_SECONDS must be positive")
	}

	return nil
}

// GetDatabaseURL builds the credential store's connection string.
func (c *Config) GetDatabaseURL() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUsername, c.DBPassword),
		Host:   fmt.Sprintf("%s:%s", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", c.DBSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func validPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 1 && n <= 65535
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
