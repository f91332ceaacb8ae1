package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Default persona directive prepended to every upstream conversation. It can
// be overridden per deployment but is never request-derived.
const DefaultPersona = "You are SH Assistant, a friendly and concise AI helper. Answer clearly and keep replies brief."

// DatabaseConfig holds the database connection information.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// QuotaConfig holds the per-key daily usage limit.
type QuotaConfig struct {
	DailyLimit int `yaml:"daily_limit"`
}

// RateLimitConfig holds the per-IP fixed-window limiter settings.
type RateLimitConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	MaxRequests   int `yaml:"max_requests"`
}

// UpstreamConfig holds the completion API connection settings.
type UpstreamConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
}

// ChatConfig holds chat behavior settings.
type ChatConfig struct {
	Persona string `yaml:"persona"`
}

// AdminConfig holds configuration for the operator routes.
type AdminConfig struct {
	Password string `yaml:"password"`
}

// Config holds the configuration for the gateway.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Quota     QuotaConfig     `yaml:"quota"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Chat      ChatConfig      `yaml:"chat"`
	Admin     AdminConfig     `yaml:"admin"`
	Port      int             `yaml:"port"`
	Debug     bool            `yaml:"debug"`
}

// LoadConfig reads and parses the configuration file. It returns the config and a potential warning message.
var LoadConfig = func(path string) (*Config, string, error) {
	var config Config
	var warning string

	data, err := os.ReadFile(path)
	if err == nil {
		// File exists, so unmarshal it
		err = yaml.Unmarshal(data, &config)
		if err != nil {
			return nil, "", fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		// An error other than "not found" occurred
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	// If file does not exist, we continue with defaults and environment variables.

	// Override with environment variables if they exist
	if dsn := os.Getenv("KEYGATE_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dbType := os.Getenv("KEYGATE_DATABASE_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if port := os.Getenv("KEYGATE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if limit := os.Getenv("KEYGATE_DAILY_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			config.Quota.DailyLimit = l
		}
	}
	if password := os.Getenv("KEYGATE_ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	if persona := os.Getenv("KEYGATE_PERSONA"); persona != "" {
		config.Chat.Persona = persona
	}
	// The upstream credential and model keep the environment names the
	// frontend deployments already use.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.Upstream.APIKey = key
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.Upstream.Model = model
	}
	if debug := os.Getenv("KEYGATE_DEBUG"); debug != "" {
		config.Debug = (debug == "true")
	}

	// Set default values
	if config.Database.Type == "" {
		config.Database.Type = "sqlite"
	}
	if config.Database.DSN == "" && config.Database.Type == "sqlite" {
		config.Database.DSN = "keygate.db"
	}
	if config.Database.DSN == "" {
		return nil, "", fmt.Errorf("database dsn must be configured for type %q", config.Database.Type)
	}
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Quota.DailyLimit == 0 {
		config.Quota.DailyLimit = 50
	}
	if config.RateLimit.WindowSeconds == 0 {
		config.RateLimit.WindowSeconds = 60
	}
	if config.RateLimit.MaxRequests == 0 {
		config.RateLimit.MaxRequests = 25
	}
	if config.Upstream.Model == "" {
		config.Upstream.Model = "gpt-4o-mini"
	}
	if config.Chat.Persona == "" {
		config.Chat.Persona = DefaultPersona
	}
	if config.Upstream.APIKey == "" {
		warning = "upstream.api_key not set, chat requests will fail until OPENAI_API_KEY is configured"
	}

	return &config, warning, nil
}
