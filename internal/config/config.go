package config

import (
	"os"
	"strconv"
	"time"
)

// WebhookConfig holds the tunables consumed by the signal and payment
// webhook receivers.
type WebhookConfig struct {
	// PublicBaseURL is the externally visible address webhook URLs are
	// built from, e.g. https://api.tradeflow.app
	PublicBaseURL string
	// SigningSecret keys the HMAC over payment gateway payloads.
	SigningSecret string
	// AllowUnsigned lets unsigned payment webhooks through. Only honored
	// outside production; see RelaxedSignatures.
	AllowUnsigned bool
	Environment   string
	// StoreTimeout bounds every database round trip made while handling
	// a delivery. Gateways retry aggressively on timeout, so a slow
	// store must not pin a worker.
	StoreTimeout time.Duration
	// SignalQueueKey is the Redis list accepted signals are pushed onto.
	SignalQueueKey string
}

func LoadWebhookConfig() *WebhookConfig {
	return &WebhookConfig{
		PublicBaseURL:  getEnv("WEBHOOK_PUBLIC_BASE_URL", "http://localhost:8080"),
		SigningSecret:  getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		AllowUnsigned:  getEnvAsBool("PAYMENT_ALLOW_UNSIGNED", false),
		Environment:    getEnv("ENVIRONMENT", "production"),
		StoreTimeout:   getEnvAsDuration("WEBHOOK_STORE_TIMEOUT", 10*time.Second),
		SignalQueueKey: getEnv("SIGNAL_QUEUE_KEY", "signal_queue"),
	}
}

// RelaxedSignatures reports whether an unsigned payment webhook may be
// accepted. Off unless explicitly enabled, and never in production.
func (c *WebhookConfig) RelaxedSignatures() bool {
	return c.AllowUnsigned && c.Environment != "production"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
