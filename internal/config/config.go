// Package config loads the utilitysign configuration: defaults, then an
// optional TOML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"utilitysign/internal/storage"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as "2s" or "5m" in TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Auth     AuthConfig     `toml:"auth"`
	Signing  SigningConfig  `toml:"signing"`
	BankID   BankIDConfig   `toml:"bankid"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Storage  StorageConfig  `toml:"storage"`
	Preview  PreviewConfig  `toml:"preview"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	// WindowTimeout bounds the wait for the browser to report a popup
	WindowTimeout Duration `toml:"window_timeout"`
	MaxWorkflows  int      `toml:"max_workflows"`
	// SessionTTL evicts idle workflows
	SessionTTL Duration `toml:"session_ttl"`
}

type DatabaseConfig struct {
	// URL is optional; without it signing records are not stored
	URL string `toml:"url"`
}

type RedisConfig struct {
	// Addr is optional; without it events are not replayed and no jobs run
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Required  bool   `toml:"required"`
}

const (
	ProviderHTTP  = "http"
	ProviderDummy = "dummy"
)

type SigningConfig struct {
	Provider   string   `toml:"provider"`
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    Duration `toml:"timeout"`
	RetryMax   int      `toml:"retry_max"`
	RequestTTL Duration `toml:"request_ttl"`
	// EmbedURL makes the dummy provider return the URL in the create response
	EmbedURL bool `toml:"embed_url"`
}

type BankIDConfig struct {
	PollInterval       Duration `toml:"poll_interval"`
	CloseCheckInterval Duration `toml:"close_check_interval"`
	HardTimeout        Duration `toml:"hard_timeout"`
}

type CatalogConfig struct {
	Size             int      `toml:"size"`
	TTL              Duration `toml:"ttl"`
	BusinessProducts []string `toml:"business_products"`
	SportsProduct    string   `toml:"sports_product"`
}

const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

type StorageConfig struct {
	Backend   string             `toml:"backend"`
	BaseDir   string             `toml:"base_dir"`
	BaseURL   string             `toml:"base_url"`
	Bucket    string             `toml:"bucket"`
	Region    string             `toml:"region"`
	Endpoint  string             `toml:"endpoint"`
	AccessKey string             `toml:"access_key"`
	SecretKey string             `toml:"secret_key"`
	Policy    storage.FilePolicy `toml:"policy"`
	// URLTTL bounds document download links
	URLTTL Duration `toml:"url_ttl"`
}

type PreviewConfig struct {
	// TemplatePath is a mustache template replacing the built-in summary
	TemplatePath string `toml:"template_path"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			WindowTimeout: Duration{5 * time.Second},
			MaxWorkflows:  10000,
			SessionTTL:    Duration{time.Hour},
		},
		Signing: SigningConfig{
			Provider:   ProviderDummy,
			Timeout:    Duration{10 * time.Second},
			RetryMax:   3,
			RequestTTL: Duration{15 * time.Minute},
		},
		BankID: BankIDConfig{
			PollInterval:       Duration{2 * time.Second},
			CloseCheckInterval: Duration{time.Second},
			HardTimeout:        Duration{5 * time.Minute},
		},
		Catalog: CatalogConfig{
			Size: 128,
			TTL:  Duration{10 * time.Minute},
		},
		Storage: StorageConfig{
			Backend: StorageLocal,
			BaseDir: "./storage",
			BaseURL: "http://localhost:8080",
			Policy:  storage.DefaultPolicy(),
			URLTTL:  Duration{15 * time.Minute},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides
func (c *Config) ApplyEnvOverrides() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.Server.Addr, "ADDR")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	if v, err := strconv.ParseBool(os.Getenv("AUTH_REQUIRED")); err == nil {
		c.Auth.Required = v
	}

	setString(&c.Signing.Provider, "UTILITYSIGN_PROVIDER")
	if v := os.Getenv("UTILITYSIGN_API_URL"); v != "" {
		c.Signing.BaseURL = v
		if os.Getenv("UTILITYSIGN_PROVIDER") == "" {
			c.Signing.Provider = ProviderHTTP
		}
	}
	setString(&c.Signing.APIKey, "UTILITYSIGN_API_KEY")

	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Storage.BaseDir, "STORAGE_BASE_DIR")
	setString(&c.Storage.BaseURL, "STORAGE_BASE_URL")
	setString(&c.Storage.Bucket, "STORAGE_BUCKET")
	setString(&c.Storage.Region, "STORAGE_REGION")
	setString(&c.Storage.Endpoint, "STORAGE_ENDPOINT")
	setString(&c.Storage.AccessKey, "STORAGE_ACCESS_KEY")
	setString(&c.Storage.SecretKey, "STORAGE_SECRET_KEY")

	setString(&c.Log.Level, "LOG_LEVEL")
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.MaxWorkflows <= 0 {
		errs = append(errs, errors.New("server.max_workflows must be positive"))
	}

	positive := map[string]Duration{
		"server.session_ttl":          c.Server.SessionTTL,
		"signing.timeout":             c.Signing.Timeout,
		"signing.request_ttl":         c.Signing.RequestTTL,
		"bankid.poll_interval":        c.BankID.PollInterval,
		"bankid.close_check_interval": c.BankID.CloseCheckInterval,
		"bankid.hard_timeout":         c.BankID.HardTimeout,
		"catalog.ttl":                 c.Catalog.TTL,
		"storage.url_ttl":             c.Storage.URLTTL,
	}
	for name, d := range positive {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.BankID.PollInterval.Duration >= c.BankID.HardTimeout.Duration {
		errs = append(errs, errors.New("bankid.poll_interval must be shorter than bankid.hard_timeout"))
	}

	switch c.Signing.Provider {
	case ProviderDummy:
	case ProviderHTTP:
		if c.Signing.BaseURL == "" {
			errs = append(errs, errors.New("signing.base_url is required for the http provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown signing.provider %q", c.Signing.Provider))
	}

	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			errs = append(errs, errors.New("storage.base_dir is required for local storage"))
		}
	case StorageS3:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	if c.Auth.Required && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth is required"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}
