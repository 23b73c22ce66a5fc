package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	AppName     = "rentals"
	EnvFileName = "config.env"
	FileName    = "config.yaml"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// ErrConfigFailed matches every Error returned from Load via errors.Is.
var ErrConfigFailed = errors.New("config: failed to load")

type Config struct {
	APIURL        string        `yaml:"api_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RefreshMargin time.Duration `yaml:"refresh_margin"`

	// Store selects the persistent credential backend used when the user
	// asks to be remembered.
	Store         string `yaml:"store"`
	DBPath        string `yaml:"db_path"`
	TokenKey      string `yaml:"token_key"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	Namespace     string `yaml:"namespace"`

	// CacheTTL of zero disables the entity cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	LogLevel string        `yaml:"log_level"`
}

type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ErrConfigFailed.Error()
	}
	if e.Path == "" {
		return fmt.Sprintf("%v: %v", ErrConfigFailed, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrConfigFailed, e.Path, e.Err)
}

func (e *Error) Is(target error) bool { return target == ErrConfigFailed }

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var allowedLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "error": {}, "disabled": {},
}

// Dir returns the per-user configuration directory for the app.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(base, AppName)
}

// DefaultPath returns the config.yaml path inside Dir.
func DefaultPath() string {
	return filepath.Join(Dir(), FileName)
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	_ = godotenv.Load(filepath.Join(Dir(), EnvFileName))
}

func Default() *Config {
	return &Config{
		Timeout:       15 * time.Second,
		RefreshMargin: 30 * time.Second,
		Store:         StoreSQLite,
		DBPath:        filepath.Join(Dir(), "rentals.db"),
		Namespace:     "default",
		CacheTTL:      5 * time.Minute,
		LogLevel:      "warn",
	}
}

// Load reads the YAML file at path, applies RENTALS_* environment overrides
// and validates the result. A missing file is not an error; an empty path
// skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, &Error{Path: path, Err: err}
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, &Error{Path: path, Err: err}
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"RENTALS_API_URL":        &c.APIURL,
		"RENTALS_STORE":          &c.Store,
		"RENTALS_DB_PATH":        &c.DBPath,
		"RENTALS_TOKEN_KEY":      &c.TokenKey,
		"RENTALS_REDIS_ADDR":     &c.RedisAddr,
		"RENTALS_REDIS_PASSWORD": &c.RedisPassword,
		"RENTALS_NAMESPACE":      &c.Namespace,
		"LOG_LEVEL":              &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"RENTALS_TIMEOUT":        &c.Timeout,
		"RENTALS_REFRESH_MARGIN": &c.RefreshMargin,
		"RENTALS_CACHE_TTL":      &c.CacheTTL,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("api_url is required (RENTALS_API_URL)")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url must be an http(s) URL, got %q", c.APIURL)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.RefreshMargin < 0 {
		return errors.New("refresh_margin must not be negative")
	}
	if c.CacheTTL < 0 {
		return errors.New("cache_ttl must not be negative")
	}
	if c.Namespace == "" {
		return errors.New("namespace is required")
	}

	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.DBPath == "" {
			return errors.New("db_path is required for the sqlite store")
		}
		if c.TokenKey == "" {
			return errors.New("token_key is required for the sqlite store (RENTALS_TOKEN_KEY)")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required for the redis store")
		}
		if c.TokenKey == "" {
			return errors.New("token_key is required for the redis store (RENTALS_TOKEN_KEY)")
		}
	default:
		return fmt.Errorf("unsupported store %q", c.Store)
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, ok := allowedLevels[c.LogLevel]; !ok {
		return fmt.Errorf("unsupported log_level %q", c.LogLevel)
	}
	return nil
}
