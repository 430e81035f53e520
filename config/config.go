// Package config loads sealmail client settings from a YAML file and
// SEALMAIL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	sealmail "github.com/sealmail/client-go"
)

// Config holds resolved client settings.
type Config struct {
	BaseURL          string
	Mnemonic         string
	DeviceID         string
	Timeout          time.Duration
	Retries          int
	RateLimit        float64
	RateBurst        int
	CapableDomains   []string
	ExternalDelivery bool
	SealConcurrency  int
	KeyCachePath     string
	KeyCacheTTL      time.Duration
	DrivePath        string
	LogLevel         string
}

// FileConfig is the on-disk shape. Unset fields keep their defaults.
type FileConfig struct {
	Client  FileClientConfig  `yaml:"client"`
	Storage FileStorageConfig `yaml:"storage"`
	Log     FileLogConfig     `yaml:"log"`
}

// FileClientConfig is the client section.
type FileClientConfig struct {
	BaseURL          string        `yaml:"baseURL"`
	DeviceID         string        `yaml:"deviceID"`
	Timeout          time.Duration `yaml:"timeout"`
	Retries          *int          `yaml:"retries"`
	RateLimit        float64       `yaml:"rateLimit"`
	RateBurst        int           `yaml:"rateBurst"`
	CapableDomains   []string      `yaml:"capableDomains"`
	ExternalDelivery *bool         `yaml:"externalDelivery"`
	SealConcurrency  int           `yaml:"sealConcurrency"`
}

// FileStorageConfig is the storage section.
type FileStorageConfig struct {
	DrivePath    string        `yaml:"drivePath"`
	KeyCachePath string        `yaml:"keyCachePath"`
	KeyCacheTTL  time.Duration `yaml:"keyCacheTTL"`
}

// FileLogConfig is the log section.
type FileLogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Timeout:          30 * time.Second,
		Retries:          3,
		RateLimit:        10,
		RateBurst:        20,
		ExternalDelivery: true,
		SealConcurrency:  8,
		KeyCacheTTL:      24 * time.Hour,
		DrivePath:        "sealmail-drive",
		LogLevel:         "info",
	}
}

// DefaultPaths are tried in order when no explicit path is given.
var DefaultPaths = []string{
	"sealmail.yaml",
	"configs/sealmail.yaml",
}

// Load reads the first readable candidate file, merges it over the
// defaults and applies environment overrides. An explicit path that
// cannot be read is an error; missing default files are not.
func Load(path string) (Config, error) {
	cfg := Default()

	candidates := DefaultPaths
	if path != "" {
		candidates = []string{path}
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if path != "" {
				return cfg, fmt.Errorf("read config: %w", err)
			}
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return cfg, fmt.Errorf("read config %s: %w", candidate, err)
		}

		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", candidate, err)
		}
		Merge(&cfg, parsed)
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge copies the set fields of src into dst.
func Merge(dst *Config, src FileConfig) {
	c := src.Client
	if c.BaseURL != "" {
		dst.BaseURL = c.BaseURL
	}
	if c.DeviceID != "" {
		dst.DeviceID = c.DeviceID
	}
	if c.Timeout != 0 {
		dst.Timeout = c.Timeout
	}
	if c.Retries != nil {
		dst.Retries = *c.Retries
	}
	if c.RateLimit != 0 {
		dst.RateLimit = c.RateLimit
	}
	if c.RateBurst != 0 {
		dst.RateBurst = c.RateBurst
	}
	if c.CapableDomains != nil {
		dst.CapableDomains = c.CapableDomains
	}
	if c.ExternalDelivery != nil {
		dst.ExternalDelivery = *c.ExternalDelivery
	}
	if c.SealConcurrency != 0 {
		dst.SealConcurrency = c.SealConcurrency
	}

	s := src.Storage
	if s.DrivePath != "" {
		dst.DrivePath = s.DrivePath
	}
	if s.KeyCachePath != "" {
		dst.KeyCachePath = s.KeyCachePath
	}
	if s.KeyCacheTTL != 0 {
		dst.KeyCacheTTL = s.KeyCacheTTL
	}

	if src.Log.Level != "" {
		dst.LogLevel = src.Log.Level
	}
}

// ApplyEnvOverrides applies SEALMAIL_* variables. The mnemonic is only
// read from the environment.
func ApplyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	str("SEALMAIL_BASE_URL", &cfg.BaseURL)
	str("SEALMAIL_MNEMONIC", &cfg.Mnemonic)
	str("SEALMAIL_DEVICE_ID", &cfg.DeviceID)
	str("SEALMAIL_DRIVE_PATH", &cfg.DrivePath)
	str("SEALMAIL_KEY_CACHE_PATH", &cfg.KeyCachePath)
	str("SEALMAIL_LOG_LEVEL", &cfg.LogLevel)

	if v := strings.TrimSpace(os.Getenv("SEALMAIL_CAPABLE_DOMAINS")); v != "" {
		cfg.CapableDomains = nil
		for _, d := range strings.Split(v, ",") {
			if d = strings.TrimSpace(d); d != "" {
				cfg.CapableDomains = append(cfg.CapableDomains, d)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("SEALMAIL_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SEALMAIL_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	if v := strings.TrimSpace(os.Getenv("SEALMAIL_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SEALMAIL_RETRIES: %w", err)
		}
		cfg.Retries = n
	}
	if v := strings.TrimSpace(os.Getenv("SEALMAIL_EXTERNAL_DELIVERY")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SEALMAIL_EXTERNAL_DELIVERY: %w", err)
		}
		cfg.ExternalDelivery = b
	}
	return nil
}

// Level parses LogLevel, falling back to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// ClientOptions translates the settings into client options for keys.
// Storage is left to the caller.
func (c Config) ClientOptions(keys *sealmail.KeyPair, logger zerolog.Logger) []sealmail.Option {
	opts := []sealmail.Option{
		sealmail.WithKeys(keys),
		sealmail.WithTimeout(c.Timeout),
		sealmail.WithRetries(c.Retries),
		sealmail.WithRateLimit(c.RateLimit, c.RateBurst),
		sealmail.WithExternalDelivery(c.ExternalDelivery),
		sealmail.WithSealConcurrency(c.SealConcurrency),
		sealmail.WithLogger(logger),
	}
	if c.BaseURL != "" {
		opts = append(opts, sealmail.WithBaseURL(c.BaseURL))
	}
	if c.DeviceID != "" {
		opts = append(opts, sealmail.WithDeviceID(c.DeviceID))
	}
	if len(c.CapableDomains) > 0 {
		opts = append(opts, sealmail.WithCapableDomains(c.CapableDomains...))
	}
	if c.KeyCachePath != "" {
		opts = append(opts, sealmail.WithKeyCachePath(c.KeyCachePath, c.KeyCacheTTL))
	}
	return opts
}
