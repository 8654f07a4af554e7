// Package config holds the orchestrator configuration: a JSON file for
// everything non-secret, environment variables for every credential.
// Secrets are never read from the file and never written back to it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	LLM       LLMConfig       `json:"llm"`
	Speech    SpeechConfig    `json:"speech"`
	Analytics AnalyticsConfig `json:"analytics"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	// Timezone anchors the end-of-day expiry of conversation contexts.
	Timezone string `json:"timezone,omitempty"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// WebhookToken, when set, must match the token query parameter on
	// inbound webhook calls. From env ZAPBI_WEBHOOK_TOKEN only.
	WebhookToken string `json:"-"`

	// RateLimitPerMinute bounds inbound events per sender.
	RateLimitPerMinute int `json:"rate_limit_per_minute,omitempty"`
}

// DatabaseConfig carries the Postgres connection string.
// The DSN comes from env ZAPBI_POSTGRES_DSN only.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

type LLMConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"-"` // from env ZAPBI_LLM_API_KEY only
}

type SpeechConfig struct {
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"-"` // from env ZAPBI_SPEECH_API_KEY only
	STTModel string `json:"stt_model,omitempty"`
	TTSModel string `json:"tts_model,omitempty"`
	Voice    string `json:"voice,omitempty"`
	Format   string `json:"format,omitempty"`
	Language string `json:"language,omitempty"`

	// MaxChars caps the text fed to synthesis after spoken normalization.
	MaxChars int `json:"max_chars,omitempty"`
}

type AnalyticsConfig struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"-"` // from env ZAPBI_ANALYTICS_PASSWORD only
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // host:port of the collector
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8099,
			RateLimitPerMinute: 20,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Speech: SpeechConfig{
			BaseURL:  "https://api.openai.com/v1",
			STTModel: "whisper-1",
			TTSModel: "gpt-4o-mini-tts",
			Voice:    "alloy",
			Format:   "opus",
			Language: "pt",
			MaxChars: 1500,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "zapbi",
		},
		Timezone: "America/Sao_Paulo",
	}
}

// Load reads the JSON config file, then overlays env vars. A missing file
// is not an error: defaults plus env are enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env always wins.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Secrets live only in the environment.
	envStr("ZAPBI_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("ZAPBI_LLM_API_KEY", &c.LLM.APIKey)
	envStr("ZAPBI_SPEECH_API_KEY", &c.Speech.APIKey)
	envStr("ZAPBI_ANALYTICS_PASSWORD", &c.Analytics.Password)
	envStr("ZAPBI_WEBHOOK_TOKEN", &c.Server.WebhookToken)

	envStr("ZAPBI_HOST", &c.Server.Host)
	if v := os.Getenv("ZAPBI_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}

	envStr("ZAPBI_LLM_BASE_URL", &c.LLM.BaseURL)
	envStr("ZAPBI_LLM_MODEL", &c.LLM.Model)
	envStr("ZAPBI_SPEECH_BASE_URL", &c.Speech.BaseURL)
	envStr("ZAPBI_ANALYTICS_BASE_URL", &c.Analytics.BaseURL)
	envStr("ZAPBI_ANALYTICS_USERNAME", &c.Analytics.Username)
	envStr("ZAPBI_TIMEZONE", &c.Timezone)

	envStr("ZAPBI_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	if c.Telemetry.Endpoint != "" {
		c.Telemetry.Enabled = true
	}
}

// Location resolves the configured timezone, falling back to UTC when the
// name is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks the fields without which the service cannot start.
func (c *Config) Validate() error {
	if c.Database.PostgresDSN == "" {
		return fmt.Errorf("ZAPBI_POSTGRES_DSN is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("ZAPBI_LLM_API_KEY is required")
	}
	if c.Analytics.BaseURL == "" {
		return fmt.Errorf("analytics.base_url is required")
	}
	return nil
}
