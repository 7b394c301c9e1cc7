package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-units/config"
	"github.com/aluiziolira/go-scrape-units/models"
	"github.com/aluiziolira/go-scrape-units/pipeline"
	"github.com/aluiziolira/go-scrape-units/scraper"
	"github.com/aluiziolira/go-scrape-units/store"
)

var errEmptyIndex = errors.New("unit index is empty; run the index command first")

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Builds the faction to unit index from the faction listings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			renderer, err := scraper.NewRenderer(a.cfg)
			if err != nil {
				return fmt.Errorf("initialise renderer: %w", err)
			}
			defer closeRenderer(renderer)

			result, err := runIndex(cmd.Context(), a, renderer)
			if result != nil {
				printIndexSummary(a.out, result)
			}
			return err
		},
	}
}

func newScrapeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Fetches every indexed unit not already in the scrape state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			renderer, err := scraper.NewRenderer(a.cfg)
			if err != nil {
				return fmt.Errorf("initialise renderer: %w", err)
			}
			defer closeRenderer(renderer)

			result, err := runScrape(cmd.Context(), a, renderer)
			if result != nil {
				printRunSummary(a.out, result)
			}
			return err
		},
	}
}

func newSplitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "split",
		Short: "Writes the aggregate and one output per faction.",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := runSplit(cmd.Context(), a)
			if result != nil {
				printSplitSummary(a.out, result)
			}
			return err
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs index, scrape and split in sequence.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			renderer, err := scraper.NewRenderer(a.cfg)
			if err != nil {
				return fmt.Errorf("initialise renderer: %w", err)
			}
			defer closeRenderer(renderer)

			indexResult, err := runIndex(ctx, a, renderer)
			if indexResult != nil {
				printIndexSummary(a.out, indexResult)
			}
			if err != nil {
				return err
			}

			runResult, err := runScrape(ctx, a, renderer)
			if runResult != nil {
				printRunSummary(a.out, runResult)
			}
			if err != nil {
				return err
			}

			splitResult, err := runSplit(ctx, a)
			if splitResult != nil {
				printSplitSummary(a.out, splitResult)
			}
			return err
		},
	}
}

// runIndex builds the index and merges it into the index file. A partial
// index is still saved when ctx is cancelled.
func runIndex(ctx context.Context, a *app, renderer scraper.Renderer) (*scraper.IndexResult, error) {
	cfg := a.cfg
	slog.Info("building unit index",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("factions", len(cfg.Factions)),
		slog.Int("batch_size", cfg.IndexBatchSize),
	)

	result, buildErr := scraper.NewIndexBuilder(renderer, cfg, a.metrics).Build(ctx, cfg.Factions)
	if result == nil {
		return nil, buildErr
	}

	merged, err := store.SaveIndex(cfg.IndexFile, result.Index)
	if err != nil {
		return result, err
	}
	if err := store.SaveFailedFactions(cfg.FailedFactionsFile, result.Failed); err != nil {
		return result, err
	}
	result.LogWarnings()
	slog.Info("unit index saved",
		slog.String("path", cfg.IndexFile),
		slog.Int("units", merged.Len()),
		slog.Duration("duration", result.Duration),
	)
	return result, buildErr
}

// runScrape fetches the indexed units of the configured factions into the
// configured state store.
func runScrape(ctx context.Context, a *app, renderer scraper.Renderer) (*models.RunResult, error) {
	cfg := a.cfg
	idx, err := store.LoadIndex(cfg.IndexFile)
	if err != nil {
		return nil, err
	}
	tasks := selectTasks(idx, cfg)
	if len(tasks) == 0 {
		return nil, errEmptyIndex
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	state, err := st.Load(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("starting scrape",
		slog.Int("tasks", len(tasks)),
		slog.Int("already_done", state.Count()),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Int("batch_size", cfg.BatchSize),
	)

	return scraper.NewOrchestrator(renderer, st, cfg, a.metrics).Run(ctx, tasks, state)
}

// runSplit partitions the current aggregate by faction.
func runSplit(ctx context.Context, a *app) (*pipeline.PartitionResult, error) {
	cfg := a.cfg
	units, err := loadUnits(ctx, cfg)
	if err != nil {
		return nil, err
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.PartitionDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	return pipeline.Partition(ctx, units, cfg, writer)
}

// selectTasks expands the index into tasks for the configured factions, in
// index order.
func selectTasks(idx *models.Index, cfg *config.Config) []models.FetchTask {
	tasks := idx.Tasks(cfg.BaseURL)
	out := tasks[:0]
	for _, t := range tasks {
		if slices.Contains(cfg.Factions, t.Faction) {
			out = append(out, t)
		}
	}
	return out
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StateBackend {
	case "", "json":
		return store.NewJSONStore(cfg.OutputFile, cfg.FailedFile, cfg.DuplicatesFile), nil
	case "sqlite":
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", cfg.StateBackend)
	}
}

func loadUnits(ctx context.Context, cfg *config.Config) (map[string]map[string]*models.UnitRecord, error) {
	if cfg.StateBackend == "json" || cfg.StateBackend == "" {
		return store.ReadUnits(cfg.OutputFile)
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	state, err := st.Load(ctx)
	if err != nil {
		return nil, err
	}
	return state.Units, nil
}

func createWriter(format, dir string) (pipeline.OutputWriter, error) {
	csvFilename := filepath.Join(dir, "units.csv")
	switch format {
	case "json":
		return pipeline.NewPartitionJSONWriter(dir)
	case "csv":
		return pipeline.NewCSVWriter(csvFilename)
	case "dual":
		return pipeline.NewDualWriter(csvFilename, dir)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func closeRenderer(r scraper.Renderer) {
	c, ok := r.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		slog.Error("close renderer", slog.Any("error", err))
	}
}
