// Package api provides the HTTP API server for the qhse-outbox service.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qhse-systems/qhse-outbox/internal/config"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = 8080
	// MaxPort is the maximum valid port number.
	MaxPort = 65535
	// DefaultHost is the default server host.
	DefaultHost = "0.0.0.0"
	// DefaultTimeout is the default timeout for HTTP operations.
	DefaultTimeout = 30 * time.Second
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = slog.LevelInfo
	// DefaultCORSMaxAge is the default CORS max age (24 hours).
	DefaultCORSMaxAge = 86400
	// DefaultAccessTokenExpireMinutes is the default JWT lifetime.
	DefaultAccessTokenExpireMinutes = 60
	// DefaultAuthLoginRatePerSec is the default login rate limit, shared by
	// all login attempts (the limiter does not key on client IP).
	DefaultAuthLoginRatePerSec = 1
	// DefaultAuthLoginRateBurst is the default login rate limit burst.
	DefaultAuthLoginRateBurst = 5
	// DefaultRequestIDHeader is the header used to propagate correlation ids.
	DefaultRequestIDHeader = "X-Request-Id"
	// DefaultMigrationsTable is the golang-migrate schema_migrations table name.
	DefaultMigrationsTable = "schema_migrations"
	// DefaultMigrationsPath is the directory cmd/migrator applies migrations
	// from, and readiness reads its declared migration head from.
	DefaultMigrationsPath = "./migrations"
	// DefaultEnv is the deployment environment when ENV is unset.
	DefaultEnv = "dev"
)

// Static validation errors.
var (
	ErrInvalidPort            = errors.New("invalid port")
	ErrEmptyHost              = errors.New("host cannot be empty")
	ErrInvalidReadTimeout     = errors.New("read timeout must be positive")
	ErrInvalidWriteTimeout    = errors.New("write timeout must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrEmptyJWTSecret         = errors.New("JWT_SECRET must not be empty")
)

// ServerConfig holds HTTP server configuration for cmd/api.
type ServerConfig struct {
	Port               int
	Host               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	LogLevel           slog.Level
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int

	DatabaseURL         string
	DatabaseMaxOpenConn int
	DatabaseMaxIdleConn int
	DatabaseConnMaxLife time.Duration
	DatabaseConnMaxIdle time.Duration

	JWTSecret             string
	JWTAlg                string
	AccessTokenExpireMin  int
	AuthLoginRatePerSec   int
	AuthLoginRateBurst    int
	UsersConfigPath       string
	RequestIDHeader       string
	MigrationsTable       string
	MigrationsPath        string
	Env                   string
}

// LoadServerConfig loads server configuration from environment variables with sensible defaults.
func LoadServerConfig() ServerConfig {
	cfg := ServerConfig{
		Port:                 DefaultPort,
		Host:                 DefaultHost,
		ReadTimeout:          DefaultTimeout,
		WriteTimeout:         DefaultTimeout,
		ShutdownTimeout:      DefaultTimeout,
		LogLevel:             DefaultLogLevel,
		CORSAllowedOrigins:   []string{"*"}, // Development default - should be restricted in production
		CORSAllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		CORSAllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Id"},
		CORSMaxAge:           DefaultCORSMaxAge,
		DatabaseMaxOpenConn:  25,
		DatabaseMaxIdleConn:  5,
		DatabaseConnMaxLife:  30 * time.Minute,
		DatabaseConnMaxIdle:  5 * time.Minute,
		JWTAlg:               "HS256",
		AccessTokenExpireMin: DefaultAccessTokenExpireMinutes,
		AuthLoginRatePerSec:  DefaultAuthLoginRatePerSec,
		AuthLoginRateBurst:   DefaultAuthLoginRateBurst,
		RequestIDHeader:      DefaultRequestIDHeader,
		MigrationsTable:      DefaultMigrationsTable,
		MigrationsPath:       DefaultMigrationsPath,
		Env:                  DefaultEnv,
	}

	cfg.Port = config.GetEnvInt("HTTP_PORT", cfg.Port)
	cfg.Host = config.GetEnvStr("HTTP_HOST", cfg.Host)
	cfg.ReadTimeout = config.GetEnvDuration("HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = config.GetEnvDuration("HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ShutdownTimeout = config.GetEnvDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.LogLevel = config.GetEnvLogLevel("LOG_LEVEL", cfg.LogLevel)

	if origins := config.GetEnvStr("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.CORSAllowedOrigins = config.ParseCommaSeparatedList(origins)
	}

	if methods := config.GetEnvStr("CORS_ALLOWED_METHODS", ""); methods != "" {
		cfg.CORSAllowedMethods = config.ParseCommaSeparatedList(methods)
	}

	if headers := config.GetEnvStr("CORS_ALLOWED_HEADERS", ""); headers != "" {
		cfg.CORSAllowedHeaders = config.ParseCommaSeparatedList(headers)
	}

	cfg.CORSMaxAge = config.GetEnvInt("CORS_MAX_AGE", cfg.CORSMaxAge)

	cfg.DatabaseURL = config.GetEnvStr("DATABASE_URL", "")
	cfg.DatabaseMaxOpenConn = config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", cfg.DatabaseMaxOpenConn)
	cfg.DatabaseMaxIdleConn = config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", cfg.DatabaseMaxIdleConn)
	cfg.DatabaseConnMaxLife = config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", cfg.DatabaseConnMaxLife)
	cfg.DatabaseConnMaxIdle = config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", cfg.DatabaseConnMaxIdle)

	cfg.JWTSecret = config.GetEnvStr("JWT_SECRET", "")
	cfg.JWTAlg = config.GetEnvStr("JWT_ALG", cfg.JWTAlg)
	cfg.AccessTokenExpireMin = config.GetEnvInt("ACCESS_TOKEN_EXPIRE_MIN", cfg.AccessTokenExpireMin)
	cfg.AuthLoginRatePerSec = config.GetEnvInt("AUTH_LOGIN_RATE_PER_SEC", cfg.AuthLoginRatePerSec)
	cfg.AuthLoginRateBurst = config.GetEnvInt("AUTH_LOGIN_RATE_BURST", cfg.AuthLoginRateBurst)
	cfg.UsersConfigPath = config.GetEnvStr("QHSE_USERS_CONFIG_PATH", "")
	cfg.RequestIDHeader = config.GetEnvStr("REQUEST_ID_HEADER", cfg.RequestIDHeader)
	cfg.MigrationsTable = config.GetEnvStr("MIGRATIONS_TABLE", cfg.MigrationsTable)
	cfg.MigrationsPath = config.GetEnvStr("MIGRATIONS_PATH", cfg.MigrationsPath)
	cfg.Env = config.GetEnvStr("ENV", cfg.Env)

	return cfg
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AccessTokenTTL returns the configured JWT lifetime as a time.Duration.
func (c ServerConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMin) * time.Minute
}

// ToCORSConfig converts ServerConfig CORS fields to middleware.CORSConfig.
func (c ServerConfig) ToCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// CORSConfig holds CORS configuration options.
// This is defined here to keep CORS configuration centralized.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// GetAllowedOrigins returns the allowed origins for CORS.
func (c CORSConfig) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

// GetAllowedMethods returns the allowed methods for CORS.
func (c CORSConfig) GetAllowedMethods() []string {
	return c.AllowedMethods
}

// GetAllowedHeaders returns the allowed headers for CORS.
func (c CORSConfig) GetAllowedHeaders() []string {
	return c.AllowedHeaders
}

// GetMaxAge returns the max age for CORS preflight cache.
func (c CORSConfig) GetMaxAge() int {
	return c.MaxAge
}

// Validate validates the server configuration.
func (c ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > MaxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, MaxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	if c.JWTSecret == "" {
		return ErrEmptyJWTSecret
	}

	return nil
}
