package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string

	StripeSecretKey string
	// StripeWebhookSecret empty switches the webhook into unsigned mode,
	// which is only meant for local development.
	StripeWebhookSecret string
	StripeTimeout       time.Duration

	SiteURL        string
	Host           string
	Port           string
	GinMode        string
	EndpointPrefix string

	CheckoutRateLimitRPS   float64
	CheckoutRateLimitBurst int

	KafkaBrokers []string
	ConsulAddr   string
	ServiceName  string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		SiteURL:             getenv("SITE_URL", "http://localhost:3000"),
		Host:                getenv("HOST", "0.0.0.0"),
		Port:                getenv("PORT", "3001"),
		GinMode:             os.Getenv("GIN_MODE"),
		EndpointPrefix:      os.Getenv("SERVICE_ENDPOINT_PREFIX"),
		ConsulAddr:          os.Getenv("CONSUL_HTTP_ADDR"),
		ServiceName:         getenv("SERVICE_NAME", "checkout"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is not set")
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")

	var err error
	if cfg.StripeTimeout, err = time.ParseDuration(getenv("STRIPE_TIMEOUT", "10s")); err != nil {
		return Config{}, fmt.Errorf("invalid STRIPE_TIMEOUT: %w", err)
	}
	if cfg.StripeTimeout <= 0 {
		return Config{}, errors.New("STRIPE_TIMEOUT must be positive")
	}
	if cfg.CheckoutRateLimitRPS, err = strconv.ParseFloat(getenv("CHECKOUT_RATE_LIMIT_RPS", "0"), 64); err != nil {
		return Config{}, fmt.Errorf("invalid CHECKOUT_RATE_LIMIT_RPS: %w", err)
	}
	if cfg.CheckoutRateLimitBurst, err = strconv.Atoi(getenv("CHECKOUT_RATE_LIMIT_BURST", "5")); err != nil {
		return Config{}, fmt.Errorf("invalid CHECKOUT_RATE_LIMIT_BURST: %w", err)
	}

	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

// SignedWebhooks reports whether inbound webhook events must carry a valid signature.
func (c Config) SignedWebhooks() bool {
	return c.StripeWebhookSecret != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
