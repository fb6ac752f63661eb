package root

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/chatpipe/cmd/chatpipe/app"
	"github.com/dshills/chatpipe/cmd/chatpipe/run"
	"github.com/dshills/chatpipe/config"
)

const chatExport = `[3/14/24, 7:05:12 PM] Alice: we should go to Piha beach
[3/14/24, 7:06:00 PM] Bob: sounds good
[3/14/24, 7:07:00 PM] Alice: https://maps.google.com/?q=-36.95,174.47
`

type cli struct {
	t        *testing.T
	cacheDir string
	input    string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	for _, key := range []string{
		config.EnvCacheDir, config.EnvBackend, config.EnvDSN, config.EnvNoCache, config.EnvConcurrency,
		config.EnvAnthropicAPIKey, config.EnvGoogleMapsAPIKey, config.EnvClassifierModel,
	} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	input := filepath.Join(dir, "chat.txt")
	if err := os.WriteFile(input, []byte(chatExport), 0o600); err != nil {
		t.Fatal(err)
	}
	return &cli{t: t, cacheDir: filepath.Join(dir, "cache"), input: input}
}

// exec runs chatpipe with the test cache dir and returns stdout.
func (c *cli) exec(args ...string) (string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--cache-dir", c.cacheDir}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func (c *cli) run(args ...string) run.Summary {
	c.t.Helper()
	out, err := c.exec(append([]string{"run", c.input}, args...)...)
	if err != nil {
		c.t.Fatalf("run failed: %v", err)
	}
	var s run.Summary
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		c.t.Fatalf("summary is not JSON: %v\n%s", err, out)
	}
	return s
}

func TestRun_CachesAcrossInvocations(t *testing.T) {
	c := newCLI(t)

	first := c.run()
	if first.Target != "scan" || first.Error != "" {
		t.Fatalf("unexpected summary %+v", first)
	}
	if len(first.Steps) != 2 {
		t.Fatalf("expected parse and scan to execute, got %+v", first.Steps)
	}
	for _, s := range first.Steps {
		if s.Cached {
			t.Errorf("step %s cached on first run", s.Step)
		}
	}

	second := c.run()
	if second.RunID != first.RunID {
		t.Errorf("run ID changed: %s -> %s", first.RunID, second.RunID)
	}
	if second.InvocationID == first.InvocationID {
		t.Error("invocation ID should be unique per run")
	}
	if len(second.Steps) != 1 || second.Steps[0].Step != "scan" || !second.Steps[0].Cached {
		t.Errorf("expected only a cached scan, got %+v", second.Steps)
	}

	fresh := c.run("--no-cache")
	if !fresh.NoCache || len(fresh.Steps) != 2 {
		t.Errorf("expected --no-cache to recompute both steps, got %+v", fresh)
	}
}

func TestRun_MetricsFile(t *testing.T) {
	c := newCLI(t)
	metrics := filepath.Join(t.TempDir(), "chatpipe.prom")

	c.run("--metrics-file", metrics)

	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	for _, want := range []string{
		`chatpipe_step_executions_total{outcome="executed",step="scan"} 1`,
		`chatpipe_cache_lookups_total{result="miss",stage="messages"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics missing %q:\n%s", want, data)
		}
	}
}

func TestRun_UnknownStep(t *testing.T) {
	c := newCLI(t)
	_, err := c.exec("run", c.input, "--through", "export")
	var ue *app.UsageError
	if !errors.As(err, &ue) || ue.ExitCode() != app.ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestRun_InvalidBackend(t *testing.T) {
	c := newCLI(t)
	_, err := c.exec("--backend", "redis", "run", c.input)
	var ue *app.UsageError
	if !errors.As(err, &ue) || !strings.Contains(err.Error(), "unknown backend") {
		t.Fatalf("expected unknown backend usage error, got %v", err)
	}
}

func TestRun_SQLiteBackend(t *testing.T) {
	c := newCLI(t)
	c.run("--backend", "sqlite")
	second := c.run("--backend", "sqlite")
	if len(second.Steps) != 1 || !second.Steps[0].Cached {
		t.Errorf("expected cached scan from sqlite, got %+v", second.Steps)
	}
	if _, err := os.Stat(filepath.Join(c.cacheDir, "chatpipe.db")); err != nil {
		t.Errorf("sqlite database not created: %v", err)
	}
}

func TestHash(t *testing.T) {
	c := newCLI(t)
	summary := c.run()

	out, err := c.exec("hash", c.input)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	fields := strings.Fields(out)
	if len(fields) != 2 || fields[0] != summary.ContentHash || fields[1] != summary.RunID {
		t.Errorf("hash output = %q, want %s %s", out, summary.ContentHash, summary.RunID)
	}
}

func TestCacheCommands(t *testing.T) {
	c := newCLI(t)
	summary := c.run()

	t.Run("runs", func(t *testing.T) {
		out, err := c.exec("cache", "runs")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, summary.RunID) {
			t.Errorf("runs output missing %s:\n%s", summary.RunID, out)
		}
	})

	t.Run("stages", func(t *testing.T) {
		out, err := c.exec("cache", "stages", c.input)
		if err != nil {
			t.Fatal(err)
		}
		for _, want := range []string{"messages", "scan ", "complete", "scan_stats", "marker"} {
			if !strings.Contains(out, want) {
				t.Errorf("stages output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("show", func(t *testing.T) {
		out, err := c.exec("cache", "show", c.input, "messages")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, `"sender": "Alice"`) {
			t.Errorf("show output not indented JSON:\n%s", out)
		}
	})

	t.Run("clear", func(t *testing.T) {
		if _, err := c.exec("cache", "clear", c.input, "scan"); err != nil {
			t.Fatal(err)
		}
		again := c.run()
		var scanCached, parseCached bool
		for _, s := range again.Steps {
			switch s.Step {
			case "scan":
				scanCached = s.Cached
			case "parse":
				parseCached = s.Cached
			}
		}
		if len(again.Steps) != 2 || scanCached || !parseCached {
			t.Errorf("expected scan recomputed from cached messages, got %+v", again.Steps)
		}
	})

	t.Run("unknown input", func(t *testing.T) {
		other := filepath.Join(t.TempDir(), "other.txt")
		if err := os.WriteFile(other, []byte("nothing"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := c.exec("cache", "stages", other); !errors.Is(err, app.ErrNoRun) {
			t.Errorf("expected ErrNoRun, got %v", err)
		}
	})
}

func TestPlan(t *testing.T) {
	c := newCLI(t)

	out, err := c.exec("plan", "scrape")
	if err != nil {
		t.Fatal(err)
	}
	if want := "1. parse\n2. scan\n3. scrape\n"; out != want {
		t.Errorf("plan output = %q, want %q", out, want)
	}

	out, err = c.exec("plan")
	if err != nil {
		t.Fatal(err)
	}
	if out != "parse\nscan\nscrape\n" {
		t.Errorf("step list = %q", out)
	}

	if _, err := c.exec("plan", "classify"); err == nil {
		t.Error("expected error for a step the CLI cannot run")
	}
}

func TestPlan_ProviderKeysEnableSteps(t *testing.T) {
	c := newCLI(t)
	t.Setenv(config.EnvAnthropicAPIKey, "sk-ant-test")

	out, err := c.exec("plan")
	if err != nil {
		t.Fatal(err)
	}
	if out != "classify\nparse\nscan\nscrape\n" {
		t.Errorf("step list with anthropic key = %q", out)
	}

	t.Setenv(config.EnvGoogleMapsAPIKey, "maps-key")
	out, err = c.exec("plan", "fetchImages")
	if err != nil {
		t.Fatal(err)
	}
	want := "1. parse\n2. scan\n3. classify\n4. geocode\n5. scrape\n6. fetchImages\n"
	if out != want {
		t.Errorf("plan fetchImages = %q, want %q", out, want)
	}
}

func TestVersion(t *testing.T) {
	c := newCLI(t)
	out, err := c.exec("version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "chatpipe ") || !strings.HasSuffix(out, "\n") {
		t.Errorf("unexpected version output %q", out)
	}

	out, err = c.exec("version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil || info["go"] == "" {
		t.Errorf("version --json = %q (%v)", out, err)
	}
}
