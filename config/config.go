// Package config loads storefront client configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file (--config flag or STOREFRONT_CONFIG), a .env file in the working
// directory, and STOREFRONT_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full client configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Tagging   TaggingConfig   `yaml:"tagging"`
	Log       LogConfig       `yaml:"log"`
	DevServer DevServerConfig `yaml:"devserver"`
}

// APIConfig points the client at the storefront REST server.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each request. Zero leaves the transport default
	// (no client-side timeout).
	Timeout time.Duration `yaml:"timeout"`
}

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StorageConfig selects the persistent token store.
type StorageConfig struct {
	// Driver is "sqlite", "postgres" or "memory".
	Driver string `yaml:"driver"`

	// DSN is the SQLite file path or the Postgres connection string.
	DSN string `yaml:"dsn"`
}

// TaggingConfig configures the third-party image tagging API.
type TaggingConfig struct {
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	APISecret     string  `yaml:"api_secret"`
	MinConfidence float64 `yaml:"min_confidence"`
	MaxTags       int     `yaml:"max_tags"`
}

// Enabled reports whether credentials for the tagging API are present.
func (t TaggingConfig) Enabled() bool {
	return t.APIKey != "" && t.APISecret != ""
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DevServerConfig configures the in-process development backend.
type DevServerConfig struct {
	Addr      string        `yaml:"addr"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	// OTP, when set, is issued to every registration instead of a random code.
	OTP string `yaml:"otp"`

	// SeedFile is a YAML product list replacing the built-in catalog.
	SeedFile string `yaml:"seed_file"`

	// AuthRate limits login, OTP and registration requests per client
	// (requests per second, AuthBurst at once). Zero disables the limit.
	AuthRate  float64 `yaml:"auth_rate"`
	AuthBurst int     `yaml:"auth_burst"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	dsn := "storefront-session.db"
	if dir, err := os.UserConfigDir(); err == nil {
		dsn = filepath.Join(dir, "storefront", "session.db")
	}
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:3000",
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			DSN:    dsn,
		},
		Tagging: TaggingConfig{
			BaseURL:       "https://api.imagga.com",
			MinConfidence: 30,
			MaxTags:       5,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		DevServer: DevServerConfig{
			Addr:      ":3000",
			JWTSecret: "storefront-dev-secret",
			TokenTTL:  24 * time.Hour,
			AuthRate:  5,
			AuthBurst: 10,
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// STOREFRONT_CONFIG is consulted; with neither set only defaults, .env
// and environment variables apply.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("STOREFRONT_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("STOREFRONT_API_URL", &c.API.BaseURL)
	str("STOREFRONT_STORAGE_DRIVER", &c.Storage.Driver)
	str("STOREFRONT_STORAGE_DSN", &c.Storage.DSN)
	str("STOREFRONT_TAGGING_URL", &c.Tagging.BaseURL)
	str("STOREFRONT_TAGGING_KEY", &c.Tagging.APIKey)
	str("STOREFRONT_TAGGING_SECRET", &c.Tagging.APISecret)
	str("STOREFRONT_LOG_LEVEL", &c.Log.Level)
	str("STOREFRONT_LOG_FORMAT", &c.Log.Format)
	str("STOREFRONT_DEV_ADDR", &c.DevServer.Addr)
	str("STOREFRONT_DEV_JWT_SECRET", &c.DevServer.JWTSecret)
	str("STOREFRONT_DEV_OTP", &c.DevServer.OTP)
	str("STOREFRONT_DEV_SEED_FILE", &c.DevServer.SeedFile)

	if v, ok := lookup("STOREFRONT_API_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: STOREFRONT_API_TIMEOUT: %w", err)
		}
		c.API.Timeout = d
	}
	if v, ok := lookup("STOREFRONT_TAGGING_MIN_CONFIDENCE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: STOREFRONT_TAGGING_MIN_CONFIDENCE: %w", err)
		}
		c.Tagging.MinConfidence = f
	}
	return nil
}

// Validate checks the fields every command depends on.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: api.base_url %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.Timeout < 0 {
		return errors.New("config: api.timeout must not be negative")
	}
	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("config: storage.dsn is required for driver %s", c.Storage.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Tagging.MinConfidence < 0 || c.Tagging.MinConfidence > 100 {
		return errors.New("config: tagging.min_confidence must be within [0, 100]")
	}
	if c.Tagging.MaxTags < 0 {
		return errors.New("config: tagging.max_tags must not be negative")
	}
	if c.DevServer.AuthRate < 0 || c.DevServer.AuthBurst < 0 {
		return errors.New("config: devserver.auth_rate and auth_burst must not be negative")
	}
	return nil
}
