// Package config provides environment configuration for the chat service and CLI.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rpms-portal/messaging/internal/model"
)

// Server holds all configuration for chatd.
type Server struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	PublicURL          string
	AllowedOrigins     []string

	// Storage
	DatabaseURL   string
	UploadDir     string
	MaxUploadSize int64
	SeedFile      string

	// NATS settings, empty URL disables event publishing
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel    string
	Development bool

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Client holds configuration for chatcli.
type Client struct {
	APIURL         string
	Token          string
	Timeout        time.Duration
	RateLimit      float64
	RateBurst      int
	PollInterval   time.Duration
	ContactRefresh time.Duration
	LogLevel       string

	// Used by the token command to mint development tokens.
	JWTSecret     string
	JWTExpiration time.Duration
}

// loadDotEnv reads .env files without overriding variables already set.
func loadDotEnv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// LoadServer reads chatd configuration from the environment and .env.
func LoadServer() (*Server, error) {
	loadDotEnv(".env")

	maxUpload, err := getSizeEnv("MAX_UPLOAD_SIZE", model.MaxAttachmentSize)
	if err != nil {
		return nil, err
	}

	port := getEnv("PORT", "8080")
	cfg := &Server{
		// Server
		ServerPort:         port,
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
		PublicURL:          strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:"+port), "/"),
		AllowedOrigins:     getListEnv("CORS_ALLOWED_ORIGINS"),

		// Storage
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		UploadDir:     getEnv("UPLOAD_DIR", "./uploads"),
		MaxUploadSize: maxUpload,
		SeedFile:      getEnv("SEED_FILE", ""),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 24*time.Hour),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Development: getEnv("ENV", "") == "development",

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
	if cfg.MaxUploadSize > model.MaxAttachmentSize {
		return nil, fmt.Errorf("MAX_UPLOAD_SIZE %s exceeds the attachment limit of %s",
			humanize.IBytes(uint64(cfg.MaxUploadSize)), humanize.IBytes(uint64(model.MaxAttachmentSize)))
	}
	return cfg, nil
}

// LoadClient reads chatcli configuration from the environment and .env.
func LoadClient() *Client {
	loadDotEnv(".env")

	return &Client{
		APIURL:         getEnv("CHAT_API_URL", "http://localhost:8080/api/v1"),
		Token:          getEnv("CHAT_TOKEN", ""),
		Timeout:        getDurationEnv("CHAT_TIMEOUT", 30*time.Second),
		RateLimit:      getFloatEnv("CHAT_RATE_LIMIT", 0),
		RateBurst:      getIntEnv("CHAT_RATE_BURST", 5),
		PollInterval:   getDurationEnv("CHAT_POLL_INTERVAL", 3*time.Second),
		ContactRefresh: getDurationEnv("CHAT_CONTACT_REFRESH", 10*time.Second),
		LogLevel:       getEnv("LOG_LEVEL", "warn"),
		JWTSecret:      getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration:  getDurationEnv("JWT_EXPIRATION", 24*time.Hour),
	}
}

// seedFile is the YAML layout of SEED_FILE.
type seedFile struct {
	Users []model.User `yaml:"users"`
}

// LoadSeedUsers reads portal users from a YAML file.
func LoadSeedUsers(path string) ([]model.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeedUsers(data)
}

// ParseSeedUsers parses the YAML seed format and validates each user.
func ParseSeedUsers(data []byte) ([]model.User, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	seen := make(map[string]bool, len(seed.Users))
	for i, u := range seed.Users {
		if u.ID == "" || u.Name == "" {
			return nil, fmt.Errorf("seed user %d: id and name are required", i)
		}
		if !u.Role.Valid() {
			return nil, fmt.Errorf("seed user %s: unknown role %q", u.ID, u.Role)
		}
		if seen[u.ID] {
			return nil, fmt.Errorf("seed user %s: duplicate id", u.ID)
		}
		seen[u.ID] = true
	}
	return seed.Users, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getSizeEnv parses sizes such as "10MiB" or "512 kB".
func getSizeEnv(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return int64(n), nil
}

func getListEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
