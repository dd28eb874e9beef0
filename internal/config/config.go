/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables, with an
 * optional .env file for local development. Missing required configuration
 * fails fast with a descriptive error instead of silently defaulting gateway
 * credentials or price identifiers.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */
package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"

	"github.com/jobforge/payment-service/internal/domain"
)

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	StripeSecretKey      string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret  string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	JobPostAmountCents   int64  `mapstructure:"JOB_POST_AMOUNT_CENTS"`
	Currency             string `mapstructure:"CURRENCY"`
	RealtimeAlertPriceID string `mapstructure:"REALTIME_ALERT_PRICE_ID"`
	FeaturedDays         int    `mapstructure:"FEATURED_DAYS"`
	StagingTTLHours      int    `mapstructure:"STAGING_TTL_HOURS"`
	VerifyTimeoutSeconds int    `mapstructure:"VERIFY_TIMEOUT_SECONDS"`
	EventsExchange       string `mapstructure:"EVENTS_EXCHANGE"`
	AuthTokenSecret      string `mapstructure:"AUTH_TOKEN_SECRET"`
	// AllowOwnerRefHeader permits running without a session-token secret,
	// trusting the caller-supplied X-Owner-Ref header instead. Local
	// development only; startup refuses a missing secret without it.
	AllowOwnerRefHeader bool   `mapstructure:"ALLOW_OWNER_REF_HEADER"`
	AdminAccounts       string `mapstructure:"ADMIN_ACCOUNTS"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct and validates required keys.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("JOB_POST_AMOUNT_CENTS", 9900)
	viper.SetDefault("CURRENCY", "usd")
	viper.SetDefault("FEATURED_DAYS", 30)
	viper.SetDefault("STAGING_TTL_HOURS", 48)
	viper.SetDefault("VERIFY_TIMEOUT_SECONDS", 10)
	viper.SetDefault("EVENTS_EXCHANGE", "content_events")
	viper.SetDefault("ALLOW_OWNER_REF_HEADER", false)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("JOB_POST_AMOUNT_CENTS")
	_ = viper.BindEnv("CURRENCY")
	_ = viper.BindEnv("REALTIME_ALERT_PRICE_ID")
	_ = viper.BindEnv("FEATURED_DAYS")
	_ = viper.BindEnv("STAGING_TTL_HOURS")
	_ = viper.BindEnv("VERIFY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("AUTH_TOKEN_SECRET")
	_ = viper.BindEnv("ALLOW_OWNER_REF_HEADER")
	_ = viper.BindEnv("ADMIN_ACCOUNTS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	err = config.validate()
	return
}

// validate checks for the configuration the pipeline cannot run without.
func (c Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.RealtimeAlertPriceID == "" {
		missing = append(missing, "REALTIME_ALERT_PRICE_ID")
	}
	if c.AuthTokenSecret == "" && !c.AllowOwnerRefHeader {
		missing = append(missing, "AUTH_TOKEN_SECRET")
	}
	if len(missing) > 0 {
		return &domain.ConfigurationError{Missing: missing}
	}
	return nil
}

// AdminAccountList splits the configured comma-separated admin identities.
func (c Config) AdminAccountList() []string {
	if strings.TrimSpace(c.AdminAccounts) == "" {
		return nil
	}
	parts := strings.Split(c.AdminAccounts, ",")
	accounts := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			accounts = append(accounts, trimmed)
		}
	}
	return accounts
}
