package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-units/config"
	"github.com/aluiziolira/go-scrape-units/scraper"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	opts    options
	cfg     *config.Config
	metrics *scraper.Metrics
	runID   string
	out     io.Writer

	metricsServer *http.Server
}

// options mirrors the command line flags. Only flags the user set override
// the file and environment layers.
type options struct {
	configPath string

	verbose           bool
	metricsAddr       string
	baseURL           string
	factions          []string
	renderer          string
	browserControlURL string
	respectRobots     bool

	concurrency    int
	batchSize      int
	indexBatchSize int
	maxRetryRounds int
	retryBackoff   time.Duration
	renderTimeout  time.Duration

	indexFile    string
	outputFile   string
	stateBackend string
	sqlitePath   string
	partitionDir string
	outputFormat string
	workers      int
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "scraper",
		Short:         "scraper indexes, fetches and splits unit datasheets.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	defaults := config.DefaultConfig()
	o := &a.opts
	flags := root.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "JSON5 config file; <name>.local.<ext> next to it overrides it")
	flags.BoolVarP(&o.verbose, "verbose", "v", defaults.Verbose, "Enable verbose logging")
	flags.StringVar(&o.metricsAddr, "metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.StringVar(&o.baseURL, "base-url", defaults.BaseURL, "Site to crawl")
	flags.StringSliceVar(&o.factions, "factions", defaults.Factions, "Factions to index and scrape")
	flags.StringVar(&o.renderer, "renderer", defaults.Renderer, "Page renderer: http or browser")
	flags.StringVar(&o.browserControlURL, "browser-url", defaults.BrowserControlURL, "DevTools URL of a running Chromium (browser renderer)")
	flags.BoolVar(&o.respectRobots, "respect-robots", defaults.RespectRobotsTxt, "Respect robots.txt directives")
	flags.IntVar(&o.concurrency, "concurrency", defaults.Concurrency, "Maximum unit pages rendered at once")
	flags.IntVar(&o.batchSize, "batch-size", defaults.BatchSize, "Unit tasks per persisted batch")
	flags.IntVar(&o.indexBatchSize, "index-batch-size", defaults.IndexBatchSize, "Faction listings rendered at once")
	flags.IntVar(&o.maxRetryRounds, "max-retry-rounds", defaults.MaxRetryRounds, "Retry rounds over failed tasks")
	flags.DurationVar(&o.retryBackoff, "retry-backoff", defaults.RetryBackoff, "Delay before the first retry round")
	flags.DurationVar(&o.renderTimeout, "render-timeout", defaults.RenderTimeout, "Timeout for one page render")
	flags.StringVar(&o.indexFile, "index-file", defaults.IndexFile, "Unit index file")
	flags.StringVar(&o.outputFile, "output-file", defaults.OutputFile, "Aggregate unit file (json backend)")
	flags.StringVar(&o.stateBackend, "state-backend", defaults.StateBackend, "Scrape state backend: json or sqlite")
	flags.StringVar(&o.sqlitePath, "sqlite-path", defaults.SQLitePath, "SQLite database (sqlite backend)")
	flags.StringVar(&o.partitionDir, "partition-dir", defaults.PartitionDir, "Directory for per-faction output")
	flags.StringVar(&o.outputFormat, "format", defaults.OutputFormat, "Split output format: csv, json, or dual")
	flags.IntVar(&o.workers, "workers", defaults.Workers, "Split pipeline workers")

	root.AddCommand(newIndexCmd(a), newScrapeCmd(a), newSplitCmd(a), newRunCmd(a))
	return root
}

// setup resolves the configuration and starts the ambient services.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := resolveConfig(cmd, &a.opts)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.runID = uuid.NewString()
	logger, level := newLogger(cfg.Verbose, a.runID)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	a.metrics = scraper.NewMetrics()
	a.startMetricsServer()
	return nil
}

// resolveConfig layers defaults, config file, environment and the flags the
// user set, in that order.
func resolveConfig(cmd *cobra.Command, o *options) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("verbose") {
		cfg.Verbose = o.verbose
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	if changed("base-url") {
		cfg.BaseURL = strings.TrimRight(o.baseURL, "/")
	}
	if changed("factions") {
		cfg.Factions = o.factions
	}
	if changed("renderer") {
		cfg.Renderer = strings.ToLower(o.renderer)
	}
	if changed("browser-url") {
		cfg.BrowserControlURL = o.browserControlURL
	}
	if changed("respect-robots") {
		cfg.RespectRobotsTxt = o.respectRobots
	}
	if changed("concurrency") {
		cfg.Concurrency = o.concurrency
	}
	if changed("batch-size") {
		cfg.BatchSize = o.batchSize
	}
	if changed("index-batch-size") {
		cfg.IndexBatchSize = o.indexBatchSize
	}
	if changed("max-retry-rounds") {
		cfg.MaxRetryRounds = o.maxRetryRounds
	}
	if changed("retry-backoff") {
		cfg.RetryBackoff = o.retryBackoff
	}
	if changed("render-timeout") {
		cfg.RenderTimeout = o.renderTimeout
	}
	if changed("index-file") {
		cfg.IndexFile = o.indexFile
	}
	if changed("output-file") {
		cfg.OutputFile = o.outputFile
	}
	if changed("state-backend") {
		cfg.StateBackend = strings.ToLower(o.stateBackend)
	}
	if changed("sqlite-path") {
		cfg.SQLitePath = o.sqlitePath
	}
	if changed("partition-dir") {
		cfg.PartitionDir = o.partitionDir
	}
	if changed("format") {
		cfg.OutputFormat = strings.ToLower(o.outputFormat)
	}
	if changed("workers") {
		cfg.Workers = o.workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (a *app) startMetricsServer() {
	if a.cfg.MetricsAddr == "" || a.metrics == nil {
		return
	}
	a.metricsServer = &http.Server{
		Addr:    a.cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", a.cfg.MetricsAddr))
}

func (a *app) shutdown() {
	if a.metricsServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}
