/**
 * @description
 * This package handles the configuration management for the transfer-service. It
 * uses the Viper library to read configuration from environment variables and an
 * optional .env file, then normalises the values and warns about bad ones.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EventBrokerRabbitMQ = "rabbitmq"
	EventBrokerKafka    = "kafka"
)

// ErrLedgerNotConfigured is returned when neither DATABASE_URL nor
// ALLOW_MEMORY_LEDGER is set.
var ErrLedgerNotConfigured = errors.New("DATABASE_URL is required unless ALLOW_MEMORY_LEDGER=true")

// Config holds all the configuration variables for the transfer-service.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	ServiceName                string `mapstructure:"SERVICE_NAME"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	AllowMemoryLedger          bool   `mapstructure:"ALLOW_MEMORY_LEDGER"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix             string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	EventBroker                string `mapstructure:"EVENT_BROKER"`
	EventsExchange             string `mapstructure:"EVENTS_EXCHANGE"`
	KafkaBrokers               string `mapstructure:"KAFKA_BROKERS"`
	AccountServiceURL          string `mapstructure:"ACCOUNT_SERVICE_URL"`
	CustomerServiceURL         string `mapstructure:"CUSTOMER_SERVICE_URL"`
	GatewayTimeoutSeconds      int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	GatewayRetryCount          int    `mapstructure:"GATEWAY_RETRY_COUNT"`
	JWKSURL                    string `mapstructure:"JWKS_URL"`
	JWTHMACSecret              string `mapstructure:"JWT_HMAC_SECRET"`
	JWTAudience                string `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer                  string `mapstructure:"JWT_ISSUER"`
	JWTAllowedRoles            string `mapstructure:"JWT_ALLOWED_ROLES"`
	CORSAllowedOrigins         string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	ValidateCustomerOwnership  bool   `mapstructure:"VALIDATE_CUSTOMER_OWNERSHIP"`
	ParallelAccountValidation  bool   `mapstructure:"PARALLEL_ACCOUNT_VALIDATION"`
	DependencyFailureStatus    int    `mapstructure:"DEPENDENCY_FAILURE_STATUS"`
	CompensationTimeoutSeconds int    `mapstructure:"COMPENSATION_TIMEOUT_SECONDS"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	TransactionCacheTTLSeconds int    `mapstructure:"TRANSACTION_CACHE_TTL_SECONDS"`
	PendingAuditSchedule       string `mapstructure:"PENDING_AUDIT_SCHEDULE"`
	PendingAuditStaleMinutes   int    `mapstructure:"PENDING_AUDIT_STALE_MINUTES"`
	OTLPEndpoint               string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVICE_NAME", "transfer-service")
	viper.SetDefault("REDIS_KEY_PREFIX", "transfa:transfer")
	viper.SetDefault("EVENT_BROKER", EventBrokerRabbitMQ)
	viper.SetDefault("EVENTS_EXCHANGE", "transfa.events")
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 10)
	viper.SetDefault("GATEWAY_RETRY_COUNT", 1)
	viper.SetDefault("ALLOW_MEMORY_LEDGER", false)
	viper.SetDefault("VALIDATE_CUSTOMER_OWNERSHIP", false)
	viper.SetDefault("PARALLEL_ACCOUNT_VALIDATION", false)
	viper.SetDefault("DEPENDENCY_FAILURE_STATUS", http.StatusBadRequest)
	viper.SetDefault("COMPENSATION_TIMEOUT_SECONDS", 15)
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("TRANSACTION_CACHE_TTL_SECONDS", 300)
	viper.SetDefault("PENDING_AUDIT_SCHEDULE", "@every 5m")
	viper.SetDefault("PENDING_AUDIT_STALE_MINUTES", 10)

	// Bind explicitly so keys without defaults appear in Unmarshal.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("SERVICE_NAME")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("ALLOW_MEMORY_LEDGER")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TRANSFER_REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_BROKER")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("KAFKA_BROKERS")
	_ = viper.BindEnv("ACCOUNT_SERVICE_URL")
	_ = viper.BindEnv("CUSTOMER_SERVICE_URL")
	_ = viper.BindEnv("GATEWAY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("GATEWAY_RETRY_COUNT")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("JWT_HMAC_SECRET")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("JWT_ALLOWED_ROLES")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("VALIDATE_CUSTOMER_OWNERSHIP")
	_ = viper.BindEnv("PARALLEL_ACCOUNT_VALIDATION")
	_ = viper.BindEnv("DEPENDENCY_FAILURE_STATUS")
	_ = viper.BindEnv("COMPENSATION_TIMEOUT_SECONDS")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("TRANSACTION_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("PENDING_AUDIT_SCHEDULE")
	_ = viper.BindEnv("PENDING_AUDIT_STALE_MINUTES")
	_ = viper.BindEnv("OTEL_EXPORTER_OTLP_ENDPOINT")

	// The .env file is optional.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.normalize()
	return config, nil
}

func (c *Config) normalize() {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.ServerPort = port
	}
	c.ServerPort = strings.TrimSpace(c.ServerPort)
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}

	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RabbitMQURL = strings.TrimSpace(c.RabbitMQURL)
	c.KafkaBrokers = strings.TrimSpace(c.KafkaBrokers)
	c.AccountServiceURL = strings.TrimSpace(c.AccountServiceURL)
	c.CustomerServiceURL = strings.TrimSpace(c.CustomerServiceURL)
	c.JWKSURL = strings.TrimSpace(c.JWKSURL)
	c.OTLPEndpoint = strings.TrimSpace(c.OTLPEndpoint)

	c.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(c.RedisKeyPrefix), ":")
	if c.RedisKeyPrefix == "" {
		c.RedisKeyPrefix = "transfa:transfer"
	}

	c.EventBroker = strings.ToLower(strings.TrimSpace(c.EventBroker))
	if c.EventBroker != EventBrokerRabbitMQ && c.EventBroker != EventBrokerKafka {
		log.Printf("level=warn component=config msg=\"unknown EVENT_BROKER; using rabbitmq\" value=%q", c.EventBroker)
		c.EventBroker = EventBrokerRabbitMQ
	}

	if c.DependencyFailureStatus != http.StatusBadRequest && c.DependencyFailureStatus != http.StatusServiceUnavailable {
		log.Printf("level=warn component=config msg=\"DEPENDENCY_FAILURE_STATUS must be 400 or 503; using 400\" value=%d", c.DependencyFailureStatus)
		c.DependencyFailureStatus = http.StatusBadRequest
	}

	if c.GatewayTimeoutSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive gateway timeout; using default\" value=%d", c.GatewayTimeoutSeconds)
		c.GatewayTimeoutSeconds = 10
	}
	if c.GatewayRetryCount < 0 {
		c.GatewayRetryCount = 0
	}
	if c.CompensationTimeoutSeconds <= 0 {
		c.CompensationTimeoutSeconds = 15
	}
	if c.TransferRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative transfer rate limit; disabling\" value=%d", c.TransferRateLimitPerMinute)
		c.TransferRateLimitPerMinute = 0
	}
	if c.TransactionCacheTTLSeconds < 0 {
		c.TransactionCacheTTLSeconds = 0
	}
	if c.PendingAuditStaleMinutes <= 0 {
		c.PendingAuditStaleMinutes = 10
	}
	c.PendingAuditSchedule = strings.TrimSpace(c.PendingAuditSchedule)
}

// UseMemoryLedger reports whether the in-memory ledger replaces PostgreSQL. It
// is only allowed with an explicit ALLOW_MEMORY_LEDGER=true.
func (c Config) UseMemoryLedger() (bool, error) {
	if c.DatabaseURL != "" {
		return false, nil
	}
	if !c.AllowMemoryLedger {
		return false, ErrLedgerNotConfigured
	}
	return true, nil
}

func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

func (c Config) CompensationTimeout() time.Duration {
	return time.Duration(c.CompensationTimeoutSeconds) * time.Second
}

func (c Config) TransactionCacheTTL() time.Duration {
	return time.Duration(c.TransactionCacheTTLSeconds) * time.Second
}

func (c Config) PendingAuditStaleAfter() time.Duration {
	return time.Duration(c.PendingAuditStaleMinutes) * time.Minute
}

// AllowedRoles returns JWT_ALLOWED_ROLES as a list.
func (c Config) AllowedRoles() []string {
	return splitList(c.JWTAllowedRoles)
}

// AllowedOrigins returns CORS_ALLOWED_ORIGINS as a list.
func (c Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

func splitList(raw string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
