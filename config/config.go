// Package config centralises runtime configuration helpers for the usdm adapter.
package config

import (
	"os"
	"strings"
	"time"
)

// Credentials captures API credentials used for authenticated requests.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Settings contains the adapter configuration tree loaded from defaults and overrides.
type Settings struct {
	RESTBaseURL  string
	WSPrivateURL string
	Credentials  Credentials
	HTTPTimeout  time.Duration
	RecvWindow   time.Duration
	TickInterval time.Duration
}

// Default returns the default adapter configuration.
func Default() Settings {
	return Settings{
		RESTBaseURL:  "https://fapi.binance.com",
		WSPrivateURL: "wss://fstream.binance.com/ws",
		Credentials:  Credentials{APIKey: "", APISecret: ""},
		HTTPTimeout:  10 * time.Second,
		RecvWindow:   5 * time.Second,
		TickInterval: 5 * time.Second,
	}
}

// FromEnv loads configuration values from environment variables, overriding defaults.
func FromEnv() Settings {
	cfg := Default()

	if v := strings.TrimSpace(os.Getenv("USDM_REST_BASE_URL")); v != "" {
		cfg.RESTBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("USDM_WS_PRIVATE_URL")); v != "" {
		cfg.WSPrivateURL = v
	}
	if v := strings.TrimSpace(os.Getenv("USDM_API_KEY")); v != "" {
		cfg.Credentials.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("USDM_API_SECRET")); v != "" {
		cfg.Credentials.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("USDM_HTTP_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.HTTPTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("USDM_RECV_WINDOW")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.RecvWindow = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("USDM_TICK_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.TickInterval = dur
		}
	}
	return cfg
}
