package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all configuration for the service.
type Config struct {
	HTTPPort    int    `json:"http_port" validate:"gte=0"`
	MetricsPort int    `json:"metrics_port" validate:"gte=0"`
	LogLevel    string `json:"log_level" validate:"oneof=debug info warn error"`
	DBPath      string `json:"db_path" validate:"required"`

	// TokenEncryptionKey is the AES-256 key used to encrypt stored OAuth
	// tokens. It must never change once accounts exist, or every stored
	// token becomes undecryptable.
	TokenEncryptionKey string `json:"token_encryption_key" validate:"required,len=32"`

	// OutboundTimeout bounds every call to a platform API.
	OutboundTimeout Duration `json:"outbound_timeout" validate:"min=1s,max=60s"`

	// Workers is the size of the background refresh pool.
	Workers int `json:"workers" validate:"gte=1,lte=64"`

	Sweeper struct {
		Interval         Duration `json:"interval" validate:"min=1m"`
		RefreshLookahead Duration `json:"refresh_lookahead" validate:"min=1m"`
	} `json:"sweeper"`

	LinkedIn PlatformCredentials `json:"linkedin"`
	Twitter  PlatformCredentials `json:"twitter"`
}

// PlatformCredentials holds the OAuth client registration for one platform.
type PlatformCredentials struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
	RedirectURI  string `json:"redirect_uri" validate:"required,url"`
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

// Load reads configuration from a file and overrides with environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.OutboundTimeout.Duration == 0 {
		c.OutboundTimeout = Duration{15 * time.Second}
	}
	if c.Sweeper.Interval.Duration == 0 {
		c.Sweeper.Interval = Duration{5 * time.Minute}
	}
	if c.Sweeper.RefreshLookahead.Duration == 0 {
		c.Sweeper.RefreshLookahead = Duration{10 * time.Minute}
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
}

// applyEnvOverrides overrides config fields with environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		var err error
		c.HTTPPort, err = strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing HTTP_PORT: %w", err)
		}
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		var err error
		c.MetricsPort, err = strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing METRICS_PORT: %w", err)
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("TOKEN_ENCRYPTION_KEY"); v != "" {
		c.TokenEncryptionKey = v
	}
	if v := os.Getenv("OUTBOUND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing OUTBOUND_TIMEOUT: %w", err)
		}
		c.OutboundTimeout = Duration{d}
	}

	overridePlatform(&c.LinkedIn, "LINKEDIN")
	overridePlatform(&c.Twitter, "TWITTER")

	return nil
}

func overridePlatform(pc *PlatformCredentials, prefix string) {
	if v := os.Getenv(prefix + "_CLIENT_ID"); v != "" {
		pc.ClientID = v
	}
	if v := os.Getenv(prefix + "_CLIENT_SECRET"); v != "" {
		pc.ClientSecret = v
	}
	if v := os.Getenv(prefix + "_REDIRECT_URI"); v != "" {
		pc.RedirectURI = v
	}
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

	return nil
}
