package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/aluiziolira/go-scrape-units/models"
	"github.com/aluiziolira/go-scrape-units/pipeline"
	"github.com/aluiziolira/go-scrape-units/scraper"
)

func newSummaryTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.SetStyle(table.StyleRounded)
	return t
}

func printIndexSummary(w io.Writer, result *scraper.IndexResult) {
	t := newSummaryTable(w, "Index complete")
	t.AppendRow(table.Row{"Factions indexed", len(result.Index.Factions())})
	t.AppendRow(table.Row{"Units indexed", result.Index.Len()})
	t.AppendRow(table.Row{"Failed factions", joinOrDash(result.Failed)})
	t.AppendRow(table.Row{"Empty factions", joinOrDash(result.Empty)})
	t.AppendRow(table.Row{"Sparse factions", joinOrDash(result.Sparse)})
	t.AppendRow(table.Row{"Duration", result.Duration.Round(time.Millisecond)})
	t.Render()
}

func printRunSummary(w io.Writer, result *models.RunResult) {
	duration := result.EndTime.Sub(result.StartTime)
	perSec := 0.0
	if duration.Seconds() > 0 {
		perSec = float64(result.Succeeded) / duration.Seconds()
	}

	t := newSummaryTable(w, "Scrape complete")
	t.AppendRow(table.Row{"Tasks", result.TaskCount})
	t.AppendRow(table.Row{"Succeeded", result.Succeeded})
	t.AppendRow(table.Row{"Failed", result.Failed})
	t.AppendRow(table.Row{"Duplicates skipped", result.Duplicates})
	t.AppendRow(table.Row{"Exhausted", len(result.ExhaustedTasks)})
	t.AppendRow(table.Row{"Batches persisted", result.Batches})
	t.AppendRow(table.Row{"Retry rounds", result.RetryRounds})
	t.AppendRow(table.Row{"Error types", formatCounts(result.ErrorsByType)})
	t.AppendRow(table.Row{"Duration", duration.Round(time.Millisecond)})
	t.AppendRow(table.Row{"Units/sec", fmt.Sprintf("%.2f", perSec)})
	t.Render()
}

func printSplitSummary(w io.Writer, result *pipeline.PartitionResult) {
	t := newSummaryTable(w, "Split complete")
	t.AppendRow(table.Row{"Full data", result.FullDataPath})
	t.AppendRow(table.Row{"Factions written", result.Factions})
	t.AppendRow(table.Row{"Units written", result.Units})
	t.AppendRow(table.Row{"Rejected", formatCounts(result.Rejected)})
	t.AppendRow(table.Row{"Duration", result.Duration.Round(time.Millisecond)})
	t.Render()
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

// formatCounts renders a label count map in key order.
func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(counts))
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}
