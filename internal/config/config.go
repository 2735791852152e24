// Package config loads and validates all environment-driven configuration
// for the checkout/payment core, following the teacher's pattern of one
// struct per concern plus a Load()+Validate() pair backed by
// github.com/kelseyhightower/envconfig.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig
	DB          DBConfig
	Log         LogConfig
	Redis       RedisConfig
	Gateway     GatewayConfig
	Webhook     WebhookConfig
	Reservation ReservationConfig
	Emergency   EmergencyConfig
	Reconcile   ReconcileConfig
	Expiry      ExpiryConfig
	Queue       QueueConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DATABASE_PASSWORD via environment variable.
// In production, set DATABASE_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host     string `envconfig:"DATABASE_HOST" default:"localhost"`
	Port     int    `envconfig:"DATABASE_PORT" default:"5432"`
	User     string `envconfig:"DATABASE_USER" default:"postgres"`
	Password string `envconfig:"DATABASE_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name     string `envconfig:"DATABASE_NAME" default:"checkout_core"`
	SSLMode  string `envconfig:"DATABASE_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns int    `envconfig:"DATABASE_MAX_CONNS" default:"25"`
	MinConns int    `envconfig:"DATABASE_MIN_CONNS" default:"5"`
	// URL, when set, overrides the discrete Host/Port/... fields entirely
	// (spec §6 "DATABASE_URL (storage target)").
	URL string `envconfig:"DATABASE_URL" default:""`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// RedisConfig backs the asynq queue broker and the webhook circuit-breaker
// counters (§4.8). Webhook dedupe (§4.6 step 4) is a database lookup on
// the idempotency key only; no Redis or in-memory processing cache is
// consulted.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// GatewayConfig configures the outbound payment gateway client (§6).
type GatewayConfig struct {
	BaseURL    string `envconfig:"GATEWAY_BASE_URL" default:"https://sandbox.gateway.example.com"`
	MerchantID string `envconfig:"GATEWAY_MERCHANT_ID" default:""`
	Salt       string `envconfig:"GATEWAY_SALT" default:""`
	SaltIndex  string `envconfig:"GATEWAY_SALT_INDEX" default:"1"`
	Env        string `envconfig:"GATEWAY_ENV" default:"SANDBOX"`
}

// WebhookConfig configures inbound webhook authentication (§4.6 step 1) and
// the Queue Manager's retry bound. The emergency-order sanity ceiling
// (§4.7) lives in EmergencyConfig.
type WebhookConfig struct {
	CallbackUsername string `envconfig:"WEBHOOK_CALLBACK_USERNAME" default:""`
	CallbackPassword string `envconfig:"WEBHOOK_CALLBACK_PASSWORD" default:""`
	// MaxRetries bounds the Queue Manager's own retry bookkeeping before a
	// webhook is moved to the dead-letter queue (§4.8).
	MaxRetries int `envconfig:"WEBHOOK_MAX_RETRIES" default:"5"`
}

// QueueConfig configures the asynq worker server (§4.8).
type QueueConfig struct {
	Concurrency int `envconfig:"QUEUE_CONCURRENCY" default:"10"`
}

// ReservationConfig holds stock-hold TTLs (§4.2).
type ReservationConfig struct {
	TTLSeconds           int `envconfig:"RESERVATION_TTL_SECONDS" default:"1800"`
	PaymentWindowSeconds int `envconfig:"PAYMENT_WINDOW_SECONDS" default:"840"`
}

func (r ReservationConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

func (r ReservationConfig) PaymentWindow() time.Duration {
	return time.Duration(r.PaymentWindowSeconds) * time.Second
}

// EmergencyConfig bounds emergency order creation (§4.7).
type EmergencyConfig struct {
	AmountCeilingMinor int64 `envconfig:"EMERGENCY_AMOUNT_CEILING_MINOR" default:"10000000"`
}

// ReconcileConfig configures the reconciliation loop (C9, §4.9).
type ReconcileConfig struct {
	IntervalSeconds int `envconfig:"RECONCILE_INTERVAL_SECONDS" default:"300"`
	WindowHours     int `envconfig:"RECONCILE_WINDOW_HOURS" default:"24"`
}

func (r ReconcileConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

func (r ReconcileConfig) Window() time.Duration {
	return time.Duration(r.WindowHours) * time.Hour
}

// ExpiryConfig configures the expiry sweep interval (C10, §4.10).
type ExpiryConfig struct {
	IntervalSeconds int `envconfig:"EXPIRY_INTERVAL_SECONDS" default:"120"`
}

func (e ExpiryConfig) Interval() time.Duration {
	return time.Duration(e.IntervalSeconds) * time.Second
}

// Load parses environment variables into the Config struct and validates them.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all configuration values are valid. A Fatal
// configuration error here means the service refuses to start (§7).
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil {
		return fmt.Errorf("SERVER_PORT must be a valid number: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	if c.Server.ShutdownTimeout < 1 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be at least 1 second, got %d", c.Server.ShutdownTimeout)
	}
	if c.Server.ShutdownTimeout > 300 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must not exceed 300 seconds, got %d", c.Server.ShutdownTimeout)
	}

	if c.DB.URL == "" {
		if c.DB.Host == "" {
			return fmt.Errorf("DATABASE_HOST cannot be empty")
		}
		if c.DB.User == "" {
			return fmt.Errorf("DATABASE_USER cannot be empty")
		}
		if c.DB.Name == "" {
			return fmt.Errorf("DATABASE_NAME cannot be empty")
		}
		if c.DB.Port < 1 || c.DB.Port > 65535 {
			return fmt.Errorf("DATABASE_PORT must be between 1 and 65535, got %d", c.DB.Port)
		}
	}

	if c.DB.MaxConns < 1 {
		return fmt.Errorf("DATABASE_MAX_CONNS must be at least 1, got %d", c.DB.MaxConns)
	}
	if c.DB.MinConns < 0 {
		return fmt.Errorf("DATABASE_MIN_CONNS must be at least 0, got %d", c.DB.MinConns)
	}
	if c.DB.MinConns > c.DB.MaxConns {
		return fmt.Errorf("DATABASE_MIN_CONNS (%d) cannot exceed DATABASE_MAX_CONNS (%d)", c.DB.MinConns, c.DB.MaxConns)
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[c.DB.SSLMode] {
		return fmt.Errorf("DATABASE_SSLMODE must be one of: disable, allow, prefer, require, verify-ca, verify-full; got %q", c.DB.SSLMode)
	}

	if c.Reservation.TTLSeconds < 1 {
		return fmt.Errorf("RESERVATION_TTL_SECONDS must be positive, got %d", c.Reservation.TTLSeconds)
	}
	if c.Reservation.PaymentWindowSeconds < 1 || c.Reservation.PaymentWindowSeconds > c.Reservation.TTLSeconds {
		return fmt.Errorf("PAYMENT_WINDOW_SECONDS must be positive and not exceed RESERVATION_TTL_SECONDS")
	}

	if c.Emergency.AmountCeilingMinor < 0 {
		return fmt.Errorf("EMERGENCY_AMOUNT_CEILING_MINOR must not be negative")
	}

	if c.Webhook.MaxRetries < 1 {
		return fmt.Errorf("WEBHOOK_MAX_RETRIES must be at least 1, got %d", c.Webhook.MaxRetries)
	}

	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be at least 1, got %d", c.Queue.Concurrency)
	}

	gatewayEnv := c.Gateway.Env
	if gatewayEnv != "SANDBOX" && gatewayEnv != "PRODUCTION" {
		return fmt.Errorf("GATEWAY_ENV must be one of: SANDBOX, PRODUCTION; got %q", gatewayEnv)
	}

	return nil
}

// WarnIfDefaultCredentials returns human-readable warnings for any
// production-unsafe default left in place, following the teacher's
// DBConfig doc-comment warning turned into an executable check.
func (c *Config) WarnIfDefaultCredentials() []string {
	var warnings []string
	if c.DB.Password == "postgres" {
		warnings = append(warnings, "DATABASE_PASSWORD is using the insecure default; set it explicitly in production")
	}
	if c.DB.User == "postgres" {
		warnings = append(warnings, "DATABASE_USER is using the default superuser name; consider a dedicated role")
	}
	if c.DB.SSLMode == "disable" {
		warnings = append(warnings, "DATABASE_SSLMODE is disabled; use require or verify-full in production")
	}
	if c.Webhook.CallbackUsername == "" || c.Webhook.CallbackPassword == "" {
		warnings = append(warnings, "WEBHOOK_CALLBACK_USERNAME/PASSWORD are unset; inbound webhooks cannot be authenticated")
	}
	return warnings
}
