// Package app holds the wiring shared by chatpipe subcommands: global flags,
// configuration, logging, the stage store and the step registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"goa.design/clue/log"

	"github.com/dshills/chatpipe/classifier"
	"github.com/dshills/chatpipe/config"
	"github.com/dshills/chatpipe/fetch"
	"github.com/dshills/chatpipe/geocoder"
	"github.com/dshills/chatpipe/pipeline"
	"github.com/dshills/chatpipe/pipeline/emit"
	"github.com/dshills/chatpipe/pipeline/store"
	"github.com/dshills/chatpipe/steps"
)

// ExitUsage is the exit code for invalid flags or configuration.
const ExitUsage = 2

// UsageError marks an error caused by bad input rather than a failed run.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// ExitCode implements the exit-code contract of main.
func (e *UsageError) ExitCode() int { return ExitUsage }

// Options are the persistent flags of the root command.
type Options struct {
	ConfigPath  string
	CacheDir    string
	Backend     string
	DSN         string
	NoCache     bool
	Concurrency int
	LogFormat   string
	Debug       bool
	MetricsFile string
}

// Bind registers the persistent flags on fs.
func (o *Options) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigPath, "config", "c", "", "Path to a YAML config file")
	fs.StringVar(&o.CacheDir, "cache-dir", "", "Stage cache directory")
	fs.StringVar(&o.Backend, "backend", "", "Stage store backend: file, sqlite, mysql or memory")
	fs.StringVar(&o.DSN, "dsn", "", "MySQL DSN or SQLite database path")
	fs.BoolVar(&o.NoCache, "no-cache", false, "Ignore cached stages (fresh results are still written)")
	fs.IntVar(&o.Concurrency, "concurrency", 0, "Worker pool size for fan-out steps")
	fs.StringVar(&o.LogFormat, "log-format", "", "Log format: text, json or terminal")
	fs.BoolVar(&o.Debug, "debug", false, "Enable debug logs")
	fs.StringVar(&o.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
}

// Config loads the configuration and applies the flags the user set on fs.
func (o *Options) Config(fs *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, &UsageError{Err: err}
	}
	if fs.Changed("cache-dir") {
		cfg.CacheDir = o.CacheDir
	}
	if fs.Changed("backend") {
		cfg.Backend = o.Backend
	}
	if fs.Changed("dsn") {
		cfg.DSN = o.DSN
	}
	if fs.Changed("no-cache") {
		cfg.NoCache = o.NoCache
	}
	if fs.Changed("concurrency") {
		cfg.Concurrency = o.Concurrency
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = o.LogFormat
	}
	if fs.Changed("debug") {
		cfg.Debug = o.Debug
	}
	if fs.Changed("metrics-file") {
		cfg.MetricsFile = o.MetricsFile
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, &UsageError{Err: err}
	}
	return cfg, nil
}

// LogContext returns ctx carrying a clue logger configured from cfg that
// writes to w.
func LogContext(ctx context.Context, cfg config.Config, w io.Writer) context.Context {
	var format log.FormatFunc
	switch cfg.LogFormat {
	case config.LogFormatJSON:
		format = log.FormatJSON
	case config.LogFormatTerminal:
		format = log.FormatTerminal
	default:
		format = log.FormatText
	}
	opts := []log.LogOption{
		log.WithFormat(format),
		log.WithOutput(w),
		// Progress lines are wanted as they happen, not on the first error.
		log.WithDisableBuffering(func(context.Context) bool { return true }),
	}
	if cfg.Debug {
		opts = append(opts, log.WithDebug())
	}
	return log.Context(ctx, opts...)
}

// OpenBackend opens the stage store backend selected by cfg.
func OpenBackend(cfg config.Config) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return store.NewFileBackend(cfg.CacheDir)
	case config.BackendSQLite:
		if cfg.DSN == "" {
			if err := os.MkdirAll(cfg.CacheDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create cache dir: %w", err)
			}
		}
		return store.NewSQLiteBackend(cfg.SQLitePath())
	case config.BackendMySQL:
		return store.NewMySQLBackend(cfg.DSN)
	case config.BackendMemory:
		return store.NewMemBackend(), nil
	default:
		return nil, &UsageError{Err: fmt.Errorf("unknown backend %q", cfg.Backend)}
	}
}

// Session is an opened stage store plus the logging context of one command.
type Session struct {
	Ctx     context.Context
	Config  config.Config
	Stages  *store.StageStore
	Emitter emit.Emitter
}

// Open loads configuration, sets up logging to logw and opens the stage store.
func (o *Options) Open(ctx context.Context, fs *pflag.FlagSet, logw io.Writer) (*Session, error) {
	cfg, err := o.Config(fs)
	if err != nil {
		return nil, err
	}
	ctx = LogContext(ctx, cfg, logw)
	emitter := emit.NewClueEmitter(ctx)

	backend, err := OpenBackend(cfg)
	if err != nil {
		return nil, err
	}
	return &Session{
		Ctx:     ctx,
		Config:  cfg,
		Stages:  store.NewStageStore(backend,
			store.WithEmitter(emitter),
			store.WithNoCache(cfg.NoCache),
			store.WithMarkedStages(steps.MarkedStages...),
		),
		Emitter: emitter,
	}, nil
}

// Close releases the stage store.
func (s *Session) Close() error {
	return s.Stages.Close()
}

// RunFor hashes input and finds or creates its run. The run records the
// absolute path so the parse step can reopen the input from any directory.
func (s *Session) RunFor(input string) (store.Run, error) {
	abs, err := filepath.Abs(input)
	if err != nil {
		return store.Run{}, err
	}
	hash, err := store.HashFile(abs)
	if err != nil {
		return store.Run{}, err
	}
	return s.Stages.FindOrCreateRun(s.Ctx, abs, hash)
}

// ErrNoRun is returned by LookupRun when the input has never been run.
var ErrNoRun = errors.New("no cached run for input")

// LookupRun returns the existing run for input without creating one.
func (s *Session) LookupRun(input string) (store.Run, error) {
	abs, err := filepath.Abs(input)
	if err != nil {
		return store.Run{}, err
	}
	hash, err := store.HashFile(abs)
	if err != nil {
		return store.Run{}, err
	}
	runs, err := s.Stages.ListRuns(s.Ctx)
	if err != nil {
		return store.Run{}, err
	}
	id := store.RunID(abs, hash)
	for _, run := range runs {
		if run.ID == id && run.ContentHash == hash {
			return run, nil
		}
	}
	return store.Run{}, fmt.Errorf("%w: %s", ErrNoRun, input)
}

// Runner builds a runner for run with every step the configuration enables.
func (s *Session) Runner(run store.Run, metrics *pipeline.Metrics) (*pipeline.Runner, error) {
	r := pipeline.NewRunner(s.Stages, run,
		pipeline.WithEmitter(s.Emitter),
		pipeline.WithMetrics(metrics),
		pipeline.WithPoolConcurrency(s.Config.Concurrency),
	)
	deps, err := Collaborators(s.Config)
	if err != nil {
		return nil, err
	}
	if err := steps.Register(r, deps); err != nil {
		return nil, err
	}
	return r, nil
}

// Collaborators builds the step collaborators cfg enables. Scraping and
// image fetching need no credentials; classify needs an Anthropic key and
// geocode a Google Maps key.
func Collaborators(cfg config.Config) (steps.Deps, error) {
	client := fetch.NewClient(
		fetch.WithTimeout(cfg.FetchTimeout.Duration()),
		fetch.WithUserAgent(cfg.UserAgent),
	)
	deps := steps.Deps{Scraper: client, ImageFetcher: client}

	if cfg.AnthropicAPIKey != "" {
		c, err := classifier.NewFromAPIKey(cfg.AnthropicAPIKey, classifier.WithModel(cfg.ClassifierModel))
		if err != nil {
			return steps.Deps{}, err
		}
		deps.Classifier = c
	}
	if cfg.GoogleMapsAPIKey != "" {
		g, err := geocoder.NewGoogle(cfg.GoogleMapsAPIKey,
			geocoder.WithTimeout(cfg.FetchTimeout.Duration()),
			geocoder.WithRegion("New Zealand", "nz", geocoder.NewZealand),
		)
		if err != nil {
			return steps.Deps{}, err
		}
		deps.Geocoder = g
	}
	return deps, nil
}

// NewMetrics creates pipeline metrics on a private registry.
func NewMetrics() (*pipeline.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return pipeline.NewMetrics(reg), reg
}

// WriteMetrics writes reg to path in the Prometheus text format.
func WriteMetrics(path string, reg *prometheus.Registry) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
