package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-units/config"
	"github.com/aluiziolira/go-scrape-units/models"
	"github.com/aluiziolira/go-scrape-units/store"
)

// ErrIncompletePartition is returned when some factions could not be written,
// so the per-faction files no longer add up to the aggregate.
var ErrIncompletePartition = errors.New("pipeline: partitions incomplete")

// reportInterval is the progress log period of verbose runs.
var reportInterval = 10 * time.Second

// PartitionResult summarises a Partition call.
type PartitionResult struct {
	FullDataPath string
	Factions     int
	Units        int64
	Rejected     map[string]int
	Duration     time.Duration
}

// Partition writes the whole aggregate to <PartitionDir>/full_unit_data.json,
// then streams one partition per faction, in name order, through a Pipeline
// into writer. The caller owns writer and closes it.
func Partition(ctx context.Context, units map[string]map[string]*models.UnitRecord, cfg *config.Config, writer OutputWriter) (*PartitionResult, error) {
	started := time.Now()
	if units == nil {
		units = map[string]map[string]*models.UnitRecord{}
	}

	result := &PartitionResult{
		FullDataPath: filepath.Join(cfg.PartitionDir, FullDataFile),
	}
	if err := store.WriteJSON(result.FullDataPath, units); err != nil {
		return result, fmt.Errorf("write full data: %w", err)
	}

	factions := make([]string, 0, len(units))
	for faction := range units {
		factions = append(factions, faction)
	}
	slices.Sort(factions)

	p := NewPipeline(ctx, writer, cfg)
	p.Start(cfg.Workers)
	if cfg.Verbose {
		p.StartMetricsReporting(reportInterval)
	}
	for _, faction := range factions {
		if err := p.Process(&models.Partition{Faction: faction, Units: units[faction]}); err != nil {
			if cerr := p.Close(); cerr != nil {
				slog.Warn("pipeline close after failed enqueue", slog.Any("error", cerr))
			}
			return result, fmt.Errorf("enqueue %s: %w", faction, err)
		}
	}
	if err := p.Close(); err != nil {
		return result, err
	}

	m := p.GetMetrics()
	result.Factions = int(m["processed_partitions"].(int64))
	result.Units = m["processed_units"].(int64)
	result.Rejected = m["validation_errors"].(map[string]int)
	result.Duration = time.Since(started)

	if len(result.Rejected) > 0 {
		return result, fmt.Errorf("%w: rejected %s", ErrIncompletePartition, formatRejected(result.Rejected))
	}
	if result.Factions > 0 {
		if err := writer.Validate(); err != nil {
			return result, fmt.Errorf("validate output: %w", err)
		}
	}

	slog.Info("partitions written",
		slog.String("full_data", result.FullDataPath),
		slog.Int("factions", result.Factions),
		slog.Int64("units", result.Units),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

func formatRejected(counts map[string]int) string {
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", kind, counts[kind]))
	}
	return strings.Join(parts, ", ")
}
