package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-units/models"
	"github.com/aluiziolira/go-scrape-units/store"
)

// FullDataFile is the name of the whole-aggregate file written next to the
// per-faction files.
const FullDataFile = "full_unit_data.json"

var csvHeader = []string{
	"faction", "unit", "movement", "toughness", "save", "wounds", "leadership", "oc",
	"invulnerable_save", "points", "keywords", "faction_keywords",
}

// CSVWriter flattens partitions to one CSV row per unit.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	rows   int
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends one row per unit, units in name order.
func (cw *CSVWriter) Write(parts []*models.Partition) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, part := range parts {
		for _, name := range sortedUnits(part.Units) {
			if err := cw.writer.Write(unitRow(part.Faction, name, part.Units[name])); err != nil {
				return fmt.Errorf("write csv record: %w", err)
			}
			cw.rows++
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures at least one unit row follows the header.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.rows == 0 {
		return fmt.Errorf("csv file has no unit rows")
	}
	info, err := os.Stat(cw.file.Name())
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

func unitRow(faction, name string, rec *models.UnitRecord) []string {
	if rec == nil {
		rec = &models.UnitRecord{}
	}
	points := make([]string, 0, len(rec.Points))
	for _, p := range rec.Points {
		points = append(points, strconv.Itoa(p.ModelCount)+":"+strconv.Itoa(p.Cost))
	}
	return []string{
		faction,
		name,
		rec.Movement,
		rec.Toughness,
		rec.Save,
		rec.Wounds,
		rec.Leadership,
		rec.OC,
		rec.InvulnerableSave,
		strings.Join(points, ";"),
		strings.Join(rec.Keywords, ";"),
		strings.Join(rec.FactionKeywords, ";"),
	}
}

// PartitionJSONWriter writes each partition to <dir>/<faction>.json as
// {"<faction>": {...units}}.
type PartitionJSONWriter struct {
	dir     string
	written []string
	mu      sync.Mutex
}

// NewPartitionJSONWriter creates dir if needed.
func NewPartitionJSONWriter(dir string) (*PartitionJSONWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %q: %w", dir, err)
	}
	return &PartitionJSONWriter{dir: dir}, nil
}

// Write replaces one file per partition.
func (jw *PartitionJSONWriter) Write(parts []*models.Partition) error {
	for _, part := range parts {
		path := jw.PathFor(part.Faction)
		doc := map[string]map[string]*models.UnitRecord{part.Faction: part.Units}
		if err := store.WriteJSON(path, doc); err != nil {
			return fmt.Errorf("write partition %s: %w", part.Faction, err)
		}

		jw.mu.Lock()
		jw.written = append(jw.written, path)
		jw.mu.Unlock()
	}
	return nil
}

// PathFor returns the file a faction's partition is written to.
func (jw *PartitionJSONWriter) PathFor(faction string) string {
	return filepath.Join(jw.dir, faction+".json")
}

// Written returns the files written so far, sorted.
func (jw *PartitionJSONWriter) Written() []string {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	out := slices.Clone(jw.written)
	slices.Sort(out)
	return out
}

// Close is a no-op; every file is complete once Write returns.
func (jw *PartitionJSONWriter) Close() error { return nil }

// Validate ensures every written file exists and is non-empty.
func (jw *PartitionJSONWriter) Validate() error {
	files := jw.Written()
	if len(files) == 0 {
		return fmt.Errorf("no partition files written")
	}
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat partition file: %w", err)
		}
		if info.Size() <= 0 {
			return fmt.Errorf("partition file %s is empty", path)
		}
	}
	return nil
}

func sortedUnits(units map[string]*models.UnitRecord) []string {
	names := make([]string, 0, len(units))
	for name := range units {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
