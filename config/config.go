// Package config holds chatpipe's runtime configuration: defaults, an
// optional YAML file, CHATPIPE_* environment overrides and validation.
//
// Precedence, highest first: command-line flags (applied by the CLI),
// environment, config file, defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Stage store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

// Log formats accepted by LogFormat.
const (
	LogFormatText     = "text"
	LogFormatJSON     = "json"
	LogFormatTerminal = "terminal"
)

// DefaultConcurrency is the default worker pool size.
const DefaultConcurrency = 8

// Environment variables read by ApplyEnv.
const (
	EnvCacheDir    = "CHATPIPE_CACHE_DIR"
	EnvNoCache     = "CHATPIPE_NO_CACHE"
	EnvConcurrency = "CHATPIPE_CONCURRENCY"
	EnvBackend     = "CHATPIPE_BACKEND"
	EnvDSN         = "CHATPIPE_DSN"

	// Provider keys use the names their SDKs and consoles document.
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvGoogleMapsAPIKey = "GOOGLE_MAPS_API_KEY"
	EnvClassifierModel  = "CHATPIPE_CLASSIFIER_MODEL"
)

// DefaultClassifierModel is the Anthropic model used by the classify step.
const DefaultClassifierModel = "claude-3-5-haiku-latest"

// Config is the runtime configuration passed explicitly to the stage store,
// runner and steps.
type Config struct {
	// CacheDir is the root of the file backend and the default location of
	// the SQLite database.
	CacheDir string `yaml:"cache_dir"`

	// NoCache ignores cached stages for this invocation while still writing
	// fresh results.
	NoCache bool `yaml:"no_cache"`

	// Concurrency is the default worker pool size for fan-out steps.
	Concurrency int `yaml:"concurrency"`

	// Backend selects the stage store: file, sqlite, mysql or memory.
	Backend string `yaml:"backend"`

	// DSN is the MySQL DSN, or the SQLite database path (defaults to
	// <CacheDir>/chatpipe.db).
	DSN string `yaml:"dsn"`

	LogFormat string `yaml:"log_format"`
	Debug     bool   `yaml:"debug"`

	// MetricsFile, when set, receives Prometheus metrics in text format
	// after each run.
	MetricsFile string `yaml:"metrics_file"`

	// FetchTimeout bounds each scrape or image request.
	FetchTimeout Duration `yaml:"fetch_timeout"`

	// UserAgent is sent with scrape requests.
	UserAgent string `yaml:"user_agent"`

	// AnthropicAPIKey enables the classify step.
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	ClassifierModel string `yaml:"classifier_model"`

	// GoogleMapsAPIKey enables the geocode and fetchImages steps, together
	// with AnthropicAPIKey.
	GoogleMapsAPIKey string `yaml:"google_maps_api_key"`
}

// Duration is a time.Duration that unmarshals from YAML strings (e.g. "10s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// LookupFunc reads an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CacheDir:     DefaultCacheDir(os.LookupEnv),
		Concurrency:  DefaultConcurrency,
		Backend:      BackendFile,
		LogFormat:    LogFormatText,
		FetchTimeout: Duration(15 * time.Second),
		UserAgent:    "chatpipe/1.0 (+https://github.com/dshills/chatpipe)",

		ClassifierModel: DefaultClassifierModel,
	}
}

// DefaultCacheDir returns $XDG_CACHE_HOME/chatpipe, falling back to
// ~/.cache/chatpipe and finally ./.chatpipe-cache.
func DefaultCacheDir(lookup LookupFunc) string {
	if xdg, ok := lookup("XDG_CACHE_HOME"); ok && xdg != "" {
		return filepath.Join(xdg, "chatpipe")
	}
	if home, ok := lookup("HOME"); ok && home != "" {
		return filepath.Join(home, ".cache", "chatpipe")
	}
	return ".chatpipe-cache"
}

// Parse decodes YAML onto the defaults. Keys absent from data keep their
// default values; unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration from defaults, the optional file at path
// and the process environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- user-supplied config path
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CHATPIPE_* variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if v, ok := lookup(EnvCacheDir); ok && v != "" {
		c.CacheDir = v
	}
	if v, ok := lookup(EnvNoCache); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvNoCache, v, err)
		}
		c.NoCache = b
	}
	if v, ok := lookup(EnvConcurrency); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvConcurrency, v, err)
		}
		c.Concurrency = n
	}
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Backend = strings.ToLower(v)
	}
	if v, ok := lookup(EnvDSN); ok && v != "" {
		c.DSN = v
	}
	if v, ok := lookup(EnvAnthropicAPIKey); ok && v != "" {
		c.AnthropicAPIKey = v
	}
	if v, ok := lookup(EnvGoogleMapsAPIKey); ok && v != "" {
		c.GoogleMapsAPIKey = v
	}
	if v, ok := lookup(EnvClassifierModel); ok && v != "" {
		c.ClassifierModel = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		if c.CacheDir == "" {
			return fmt.Errorf("cache_dir is required for the file backend")
		}
	case BackendSQLite:
		if c.CacheDir == "" && c.DSN == "" {
			return fmt.Errorf("cache_dir or dsn is required for the sqlite backend")
		}
	case BackendMySQL:
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for the mysql backend (set %s)", EnvDSN)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q (want file, sqlite, mysql or memory)", c.Backend)
	}

	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0, got %d", c.Concurrency)
	}

	switch c.LogFormat {
	case "", LogFormatText, LogFormatJSON, LogFormatTerminal:
	default:
		return fmt.Errorf("unknown log format %q (want text, json or terminal)", c.LogFormat)
	}

	if c.FetchTimeout < 0 {
		return fmt.Errorf("fetch_timeout must not be negative")
	}
	return nil
}

// SQLitePath returns the database path used by the sqlite backend.
func (c Config) SQLitePath() string {
	if c.DSN != "" {
		return c.DSN
	}
	return filepath.Join(c.CacheDir, "chatpipe.db")
}
