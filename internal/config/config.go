package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// envPrefix namespaces every environment override.
const envPrefix = "HOMEPAIR_"

// Config holds all configuration for the client.
type Config struct {
	LogLevel    string `json:"log_level" validate:"oneof=debug info warn error"`
	MetricsPort int    `json:"metrics_port" validate:"gte=0,lte=65535"`

	API struct {
		BaseURL        string   `json:"base_url" validate:"required,url"`
		RefreshPath    string   `json:"refresh_path" validate:"required,startswith=/"`
		Timeout        Duration `json:"timeout" validate:"min=1s"`
		RefreshTimeout Duration `json:"refresh_timeout" validate:"min=1s"`

		// OAuth2ClientID selects the OAuth2 refresh_token grant instead of
		// the JSON refresh endpoint.
		OAuth2ClientID     string `json:"oauth2_client_id"`
		OAuth2ClientSecret string `json:"oauth2_client_secret"`
		OAuth2TokenURL     string `json:"oauth2_token_url" validate:"omitempty,url"`
	} `json:"api"`

	TokenStore struct {
		Driver        string `json:"driver" validate:"oneof=sqlite redis memory"`
		DBPath        string `json:"db_path" validate:"required_if=Driver sqlite"`
		RedisAddr     string `json:"redis_addr" validate:"required_if=Driver redis,omitempty,hostname_port"`
		EncryptionKey string `json:"encryption_key" validate:"omitempty,len=32"`
		Account       string `json:"account" validate:"required"`
	} `json:"token_store"`
}

// Duration is a wrapper around time.Duration that implements JSON marshaling/unmarshaling
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	var cfg Config
	cfg.LogLevel = "info"
	cfg.API.RefreshPath = "/auth/refresh"
	cfg.API.Timeout = Duration{15 * time.Second}
	cfg.API.RefreshTimeout = Duration{30 * time.Second}
	cfg.TokenStore.Driver = "sqlite"
	cfg.TokenStore.DBPath = "homepair.db"
	cfg.TokenStore.Account = "default"
	return &cfg
}

// Load reads configuration from a file over the defaults and overrides
// with environment variables. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// RefreshURL is the absolute URL of the token refresh endpoint.
func (c *Config) RefreshURL() string {
	return strings.TrimRight(c.API.BaseURL, "/") + c.API.RefreshPath
}

// applyEnvOverrides overrides config fields with environment variables.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"LOG_LEVEL":                  &c.LogLevel,
		"API_BASE_URL":               &c.API.BaseURL,
		"API_REFRESH_PATH":           &c.API.RefreshPath,
		"API_OAUTH2_CLIENT_ID":       &c.API.OAuth2ClientID,
		"API_OAUTH2_CLIENT_SECRET":   &c.API.OAuth2ClientSecret,
		"API_OAUTH2_TOKEN_URL":       &c.API.OAuth2TokenURL,
		"TOKEN_STORE_DRIVER":         &c.TokenStore.Driver,
		"TOKEN_STORE_DB_PATH":        &c.TokenStore.DBPath,
		"TOKEN_STORE_REDIS_ADDR":     &c.TokenStore.RedisAddr,
		"TOKEN_STORE_ENCRYPTION_KEY": &c.TokenStore.EncryptionKey,
		"TOKEN_STORE_ACCOUNT":        &c.TokenStore.Account,
	}
	for name, field := range strs {
		if v := os.Getenv(envPrefix + name); v != "" {
			*field = v
		}
	}

	// MetricsPort overrides
	if v := os.Getenv(envPrefix + "METRICS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %sMETRICS_PORT: %w", envPrefix, err)
		}
		c.MetricsPort = port
	}

	durations := map[string]*Duration{
		"API_TIMEOUT":         &c.API.Timeout,
		"API_REFRESH_TIMEOUT": &c.API.RefreshTimeout,
	}
	for name, field := range durations {
		if v := os.Getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parsing %s%s: %w", envPrefix, name, err)
			}
			*field = Duration{d}
		}
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validate := validator.New()

	// Register custom validation for Duration
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	// Persistent stores keep tokens encrypted at rest
	if c.TokenStore.Driver != "memory" && c.TokenStore.EncryptionKey == "" {
		return errors.New("token_store.encryption_key is required for the " + c.TokenStore.Driver + " driver")
	}

	return nil
}
