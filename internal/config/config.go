// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Stream protocols of the chat client.
const (
	ProtocolSSE       = "sse"
	ProtocolWebSocket = "websocket"
)

// Config holds the development backend configuration.
type Config struct {
	Port           string
	FrontendURL    string
	AppEnv         string
	AllowedOrigins []string

	StoreDriver      string
	DBPath           string
	ConversationTTL  time.Duration
	TTLSweepInterval time.Duration

	// GRPCPort serves the gRPC health service; empty disables it.
	GRPCPort string

	ReplyDelay    time.Duration
	ChunkInterval time.Duration
	TurnThreshold int
	FixturesPath  string

	RateLimit RateLimitConfig
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load reads the backend configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "3001"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		AppEnv:           getEnv("APP_ENV", "development"),
		AllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		DBPath:           getEnv("DB_PATH", "./data/ttakmal.db"),
		ConversationTTL:  getEnvDuration("CONVERSATION_TTL", 60*time.Minute),
		TTLSweepInterval: getEnvDuration("TTL_SWEEP_INTERVAL", 5*time.Minute),
		GRPCPort:         getEnv("GRPC_PORT", "3002"),
		ReplyDelay:       getEnvDuration("MOCK_REPLY_DELAY", 2*time.Second),
		ChunkInterval:    getEnvDuration("STREAM_CHUNK_INTERVAL", 100*time.Millisecond),
		TurnThreshold:    getEnvInt("TURN_THRESHOLD", 4),
		FixturesPath:     getEnv("FIXTURES_PATH", ""),
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH cannot be empty with the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of memory, sqlite", c.StoreDriver))
	}
	if c.ConversationTTL <= 0 {
		errs = append(errs, errors.New("CONVERSATION_TTL must be > 0"))
	}
	if c.TTLSweepInterval <= 0 {
		errs = append(errs, errors.New("TTL_SWEEP_INTERVAL must be > 0"))
	}
	if c.ReplyDelay < 0 {
		errs = append(errs, errors.New("MOCK_REPLY_DELAY cannot be negative"))
	}
	if c.ChunkInterval < 0 {
		errs = append(errs, errors.New("STREAM_CHUNK_INTERVAL cannot be negative"))
	}
	if c.TurnThreshold <= 0 {
		errs = append(errs, errors.New("TURN_THRESHOLD must be > 0"))
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must be > 0"))
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be > 0"))
	}
	if len(c.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("CORS_ALLOWED_ORIGINS cannot be empty"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.AppEnv != "" {
		return c.AppEnv == "development"
	}
	return isLocalURL(c.FrontendURL)
}

// ClientConfig holds the terminal chat client configuration.
type ClientConfig struct {
	APIBaseURL      string
	PollingInterval time.Duration
	EnableStreaming bool
	StreamProtocol  string
	AppEnv          string
	OfflineMode     bool
	ResultBaseURL   string
	MaxUserTurns    int
	NavigateDelay   time.Duration
	LogFile         string
	RequestTimeout  time.Duration
}

// LoadClient reads the chat client configuration from environment variables.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		APIBaseURL:      getEnv("API_BASE_URL", "http://localhost:3001/api"),
		PollingInterval: getEnvDuration("POLLING_INTERVAL", 3*time.Second),
		EnableStreaming: getEnvBool("ENABLE_STREAMING", false),
		StreamProtocol:  strings.ToLower(getEnv("STREAM_PROTOCOL", ProtocolSSE)),
		AppEnv:          getEnv("APP_ENV", "development"),
		OfflineMode:     getEnvBool("OFFLINE_MODE", false),
		ResultBaseURL:   getEnv("RESULT_BASE_URL", "http://localhost:3001"),
		MaxUserTurns:    getEnvInt("MAX_USER_TURNS", 20),
		NavigateDelay:   getEnvDuration("NAVIGATE_DELAY", 2*time.Second),
		LogFile:         getEnv("CHAT_LOG_FILE", "./data/logs/chat.log"),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the client configuration.
func (c *ClientConfig) Validate() error {
	var errs []error
	if !c.OfflineMode {
		if u, err := url.Parse(c.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("API_BASE_URL %q is not an absolute URL", c.APIBaseURL))
		}
	}
	if c.PollingInterval <= 0 {
		errs = append(errs, errors.New("POLLING_INTERVAL must be > 0"))
	}
	if c.StreamProtocol != ProtocolSSE && c.StreamProtocol != ProtocolWebSocket {
		errs = append(errs, fmt.Errorf("STREAM_PROTOCOL %q is not one of sse, websocket", c.StreamProtocol))
	}
	if c.MaxUserTurns <= 0 {
		errs = append(errs, errors.New("MAX_USER_TURNS must be > 0"))
	}
	if c.NavigateDelay < 0 {
		errs = append(errs, errors.New("NAVIGATE_DELAY cannot be negative"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *ClientConfig) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func isLocalURL(u string) bool {
	return u == "" ||
		strings.Contains(u, "localhost") ||
		strings.Contains(u, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("1500ms") and bare integers as
// milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
