package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the call service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	WebSocket WebSocketConfig
	LiveKit   LiveKitConfig
	CORS      CORSConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int           `env:"PORT" envDefault:"8080"`
	Environment     string        `env:"ENV" envDefault:"development"` // development, staging, production
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"call-service"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	TrustedProxies  []string      `env:"TRUSTED_PROXIES" envSeparator:","`
}

// DatabaseConfig holds PostgreSQL configuration for the chat database
type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Database string `env:"DB_NAME" envDefault:"junction"`
	SSLMode  string `env:"DB_SSL_MODE" envDefault:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns int32  `env:"DB_MIN_CONNS" envDefault:"5"`
}

// RedisConfig holds Redis configuration. Without Redis the service runs
// single-instance: no cross-instance fan-out, presence or revocation.
type RedisConfig struct {
	Enabled  bool          `env:"REDIS_ENABLED" envDefault:"true"`
	Host     string        `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int           `env:"REDIS_PORT" envDefault:"6379"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	PoolSize int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	Timeout  time.Duration `env:"REDIS_TIMEOUT" envDefault:"5s"`
}

// JWTConfig holds the settings used to verify access tokens
type JWTConfig struct {
	Secret   string `env:"JWT_SECRET"`
	Issuer   string `env:"JWT_ISSUER" envDefault:"junction-auth"`
	Audience string `env:"JWT_AUDIENCE"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string `env:"LOG_LEVEL" envDefault:"info"`    // debug, info, warn, error
	Format   string `env:"LOG_FORMAT" envDefault:"json"`   // json, text
	Output   string `env:"LOG_OUTPUT" envDefault:"stdout"` // stdout, file
	FilePath string `env:"LOG_FILE_PATH" envDefault:"/logs/call-service.log"`
}

// WebSocketConfig holds limits for the call socket
type WebSocketConfig struct {
	MaxConnections int      `env:"WS_MAX_CONNECTIONS" envDefault:"1000"`
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	SendBuffer     int      `env:"WS_SEND_BUFFER" envDefault:"256"`
}

// LiveKitConfig holds media server credentials for group calls
type LiveKitConfig struct {
	APIKey    string        `env:"LIVEKIT_API_KEY"`
	APISecret string        `env:"LIVEKIT_API_SECRET"`
	URL       string        `env:"LIVEKIT_URL"`
	TokenTTL  time.Duration `env:"LIVEKIT_TOKEN_TTL" envDefault:"6h"`
}

// CORSConfig holds allowed origins for the HTTP API
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

// Load reads ENV_FILE (or .env) when present, then parses the environment
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadEnvFile() error {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		// A missing default .env is normal outside development.
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.Server.Environment == "production" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.WebSocket.MaxConnections <= 0 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Configured reports whether media room tokens can be issued
func (c *LiveKitConfig) Configured() bool {
	return c.APIKey != "" && c.APISecret != "" && c.URL != ""
}
