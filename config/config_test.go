package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Backend != BackendFile || cfg.Concurrency != DefaultConcurrency {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestDefaultCacheDir(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"xdg", map[string]string{"XDG_CACHE_HOME": "/x", "HOME": "/h"}, filepath.Join("/x", "chatpipe")},
		{"home", map[string]string{"HOME": "/h"}, filepath.Join("/h", ".cache", "chatpipe")},
		{"neither", map[string]string{}, ".chatpipe-cache"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultCacheDir(envMap(tt.env)); got != tt.want {
				t.Errorf("DefaultCacheDir = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("overrides only given keys", func(t *testing.T) {
		cfg, err := Parse([]byte("backend: sqlite\nconcurrency: 3\nfetch_timeout: 2s\n"))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if cfg.Backend != BackendSQLite || cfg.Concurrency != 3 {
			t.Errorf("unexpected config %+v", cfg)
		}
		if cfg.FetchTimeout.Duration() != 2*time.Second {
			t.Errorf("FetchTimeout = %v", cfg.FetchTimeout.Duration())
		}
		if cfg.LogFormat != LogFormatText {
			t.Errorf("unset keys should keep defaults, LogFormat = %q", cfg.LogFormat)
		}
	})

	t.Run("empty document", func(t *testing.T) {
		cfg, err := Parse(nil)
		if err != nil || cfg.Backend != BackendFile {
			t.Errorf("Parse(nil) = %+v, %v", cfg, err)
		}
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		if _, err := Parse([]byte("bakend: file\n")); err == nil {
			t.Error("expected error for unknown key")
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		if _, err := Parse([]byte("fetch_timeout: soon\n")); err == nil {
			t.Error("expected error for invalid duration")
		}
	})
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvCacheDir:    "/tmp/cache",
		EnvNoCache:     "true",
		EnvConcurrency: "16",
		EnvBackend:     "MySQL",
		EnvDSN:         "u:p@tcp(db:3306)/c",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.CacheDir != "/tmp/cache" || !cfg.NoCache || cfg.Concurrency != 16 || cfg.Backend != BackendMySQL || cfg.DSN == "" {
		t.Errorf("env not applied: %+v", cfg)
	}

	for key, bad := range map[string]string{EnvNoCache: "maybe", EnvConcurrency: "many"} {
		c := Default()
		if err := c.ApplyEnv(envMap(map[string]string{key: bad})); err == nil || !strings.Contains(err.Error(), key) {
			t.Errorf("expected error naming %s, got %v", key, err)
		}
	}
}

func TestApplyEnv_ProviderKeys(t *testing.T) {
	cfg := Default()
	if cfg.ClassifierModel != DefaultClassifierModel || cfg.AnthropicAPIKey != "" {
		t.Fatalf("unexpected provider defaults %+v", cfg)
	}
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvAnthropicAPIKey:  "sk-ant-test",
		EnvGoogleMapsAPIKey: "maps-key",
		EnvClassifierModel:  "claude-sonnet-4-5",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.AnthropicAPIKey != "sk-ant-test" || cfg.GoogleMapsAPIKey != "maps-key" || cfg.ClassifierModel != "claude-sonnet-4-5" {
		t.Errorf("provider env not applied: %+v", cfg)
	}

	fromFile, err := Parse([]byte("anthropic_api_key: file-key\n"))
	if err != nil || fromFile.AnthropicAPIKey != "file-key" {
		t.Errorf("Parse(anthropic_api_key) = %+v, %v", fromFile, err)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatpipe.yaml")
	if err := os.WriteFile(path, []byte("concurrency: 2\nbackend: sqlite\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConcurrency, "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Concurrency != 5 {
		t.Errorf("env should override file, Concurrency = %d", cfg.Concurrency)
	}
	if cfg.Backend != BackendSQLite {
		t.Errorf("file should override default, Backend = %q", cfg.Backend)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "redis" }, "unknown backend"},
		{"mysql without dsn", func(c *Config) { c.Backend = BackendMySQL }, "dsn is required"},
		{"negative concurrency", func(c *Config) { c.Concurrency = -1 }, "concurrency"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
		{"file without dir", func(c *Config) { c.CacheDir = "" }, "cache_dir"},
		{"memory ok", func(c *Config) { c.Backend = BackendMemory; c.CacheDir = "" }, ""},
		{"zero concurrency ok", func(c *Config) { c.Concurrency = 0 }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.CacheDir = "/tmp/c"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSQLitePath(t *testing.T) {
	cfg := Config{CacheDir: "/c"}
	if got := cfg.SQLitePath(); got != filepath.Join("/c", "chatpipe.db") {
		t.Errorf("SQLitePath = %q", got)
	}
	cfg.DSN = "/elsewhere.db"
	if cfg.SQLitePath() != "/elsewhere.db" {
		t.Error("DSN should override the default path")
	}
}
