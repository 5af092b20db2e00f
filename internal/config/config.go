// Package config collects every environment knob the orders service reads.
// All values have local-development defaults; gateway credentials default to
// empty and the corresponding gateway is simply not registered when missing.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr string

	OrdersDBPath  string
	WebhookDBPath string
	RedisAddr     string

	StoreCurrency string
	StatsTTL      time.Duration

	GatewayTimeout time.Duration

	PayPal PayPalConfig
	Paymob PaymobConfig
	Fawry  FawryConfig
}

type PayPalConfig struct {
	ClientID string
	Secret   string
	BaseURL  string
	Live     bool
}

type PaymobConfig struct {
	APIKey        string
	IntegrationID string
	IframeID      string
	HMACSecret    string
	BaseURL       string
}

type FawryConfig struct {
	MerchantCode string
	SecureKey    string
	BaseURL      string
}

// Load reads the full configuration from the environment.
func Load() Config {
	return Config{
		ListenAddr: ":" + getEnv("PORT", "8080"),

		OrdersDBPath:  getEnv("ORDERS_DB_PATH", "orders.db"),
		WebhookDBPath: getEnv("WEBHOOK_DB_PATH", "webhooks.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),

		StoreCurrency: getEnv("STORE_CURRENCY", "EGP"),
		StatsTTL:      getDuration("STATS_CACHE_TTL", 5*time.Minute),

		GatewayTimeout: getDuration("GATEWAY_HTTP_TIMEOUT", 30*time.Second),

		PayPal: PayPalConfig{
			ClientID: getEnv("PAYPAL_CLIENT_ID", ""),
			Secret:   getEnv("PAYPAL_SECRET", ""),
			BaseURL:  getEnv("PAYPAL_BASE_URL", ""),
			Live:     getBool("PAYPAL_LIVE", false),
		},
		Paymob: PaymobConfig{
			APIKey:        getEnv("PAYMOB_API_KEY", ""),
			IntegrationID: getEnv("PAYMOB_INTEGRATION_ID", ""),
			IframeID:      getEnv("PAYMOB_IFRAME_ID", ""),
			HMACSecret:    getEnv("PAYMOB_HMAC_SECRET", ""),
			BaseURL:       getEnv("PAYMOB_BASE_URL", ""),
		},
		Fawry: FawryConfig{
			MerchantCode: getEnv("FAWRY_MERCHANT_CODE", ""),
			SecureKey:    getEnv("FAWRY_SECURE_KEY", ""),
			BaseURL:      getEnv("FAWRY_BASE_URL", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
