package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aluiziolira/go-scrape-units/models"
)

func sampleState() *models.ScrapeState {
	state := models.NewScrapeState()
	state.Put("orks", "Warboss", &models.UnitRecord{
		Movement:  `6"`,
		Toughness: "5",
		Keywords:  []string{"Infantry", "Character"},
		Points:    []models.PointsEntry{{ModelCount: 1, Cost: 75}},
	})
	state.Put("necrons", "Overlord", &models.UnitRecord{Movement: `5"`, Abilities: []string{}})
	state.Failed = []models.TaskRef{{Faction: "orks", Unit: "Weirdboy"}}
	return state
}

func TestJSONStoreLoadMissingIsEmpty(t *testing.T) {
	dir := t.TempDir()
	st := NewJSONStore(filepath.Join(dir, "unit_details.json"), filepath.Join(dir, "failed_units.json"), filepath.Join(dir, "duplicates_skipped.json"))

	state, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.Count() != 0 {
		t.Fatalf("expected empty state, got %d records", state.Count())
	}

	empty := filepath.Join(dir, "unit_details.json")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	state, err = st.Load(context.Background())
	if err != nil || state.Count() != 0 {
		t.Fatalf("zero-size file should load as empty state, got %v, %v", state, err)
	}
}

func TestJSONStorePersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "unit_details.json")
	failed := filepath.Join(dir, "failed_units.json")
	duplicates := filepath.Join(dir, "duplicates_skipped.json")
	st := NewJSONStore(output, failed, duplicates)

	want := sampleState()
	if err := st.Persist(context.Background(), want); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, err := os.Stat(duplicates); !os.IsNotExist(err) {
		t.Fatalf("duplicates file should not exist for an empty list, stat err=%v", err)
	}

	got, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(want.Units, got.Units); diff != "" {
		t.Fatalf("units mismatch (-want +got):\n%s", diff)
	}

	raw, err := os.ReadFile(failed)
	if err != nil {
		t.Fatalf("read failed list: %v", err)
	}
	var refs []models.TaskRef
	if err := json.Unmarshal(raw, &refs); err != nil {
		t.Fatalf("decode failed list: %v", err)
	}
	if diff := cmp.Diff(want.Failed, refs); diff != "" {
		t.Fatalf("failed mismatch (-want +got):\n%s", diff)
	}

	want.Duplicates = []models.TaskRef{{Faction: "orks", Unit: "Warboss"}}
	if err := st.Persist(context.Background(), want); err != nil {
		t.Fatalf("persist duplicates: %v", err)
	}
	if _, err := os.Stat(duplicates); err != nil {
		t.Fatalf("duplicates file missing: %v", err)
	}
}

func TestJSONStoreWritesReadableJSON(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "unit_details.json")
	st := NewJSONStore(output, filepath.Join(dir, "failed.json"), "")

	state := models.NewScrapeState()
	state.Put("t-au-empire", "Ethereal", &models.UnitRecord{Abilities: []string{"<Invocation> & more", "Ça va"}})
	if err := st.Persist(context.Background(), state); err != nil {
		t.Fatalf("persist: %v", err)
	}

	raw, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	text := string(raw)
	if !strings.Contains(text, "<Invocation> & more") || !strings.Contains(text, "Ça va") {
		t.Fatalf("expected unescaped text, got %s", text)
	}
	if !strings.Contains(text, "\n  \"t-au-empire\": {") {
		t.Fatalf("expected two-space indent, got %s", text)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSaveIndexMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unit_index.json")

	first := models.NewIndex()
	first.Set("orks", []string{"Warboss"})
	first.Set("necrons", []string{"Overlord"})
	if _, err := SaveIndex(path, first); err != nil {
		t.Fatalf("save first: %v", err)
	}

	second := models.NewIndex()
	second.Set("necrons", []string{"Overlord", "Lychguard"})
	merged, err := SaveIndex(path, second)
	if err != nil {
		t.Fatalf("save second: %v", err)
	}

	loaded, err := LoadIndex(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(merged.Factions(), loaded.Factions()); diff != "" {
		t.Fatalf("factions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Warboss"}, loaded.Units("orks")); diff != "" {
		t.Fatalf("orks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Overlord", "Lychguard"}, loaded.Units("necrons")); diff != "" {
		t.Fatalf("necrons mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveFailedFactionsSkipsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed_factions.json")
	if err := SaveFailedFactions(path, nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should not exist, stat err=%v", err)
	}
	if err := SaveFailedFactions(path, []string{"orks"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if strings.TrimSpace(string(raw)) != "[\n  \"orks\"\n]" {
		t.Fatalf("unexpected content %q", raw)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(filepath.Join(t.TempDir(), "units.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	want := sampleState()
	want.Duplicates = []models.TaskRef{{Faction: "orks", Unit: "Warboss"}}
	if err := st.Persist(ctx, want); err != nil {
		t.Fatalf("persist: %v", err)
	}

	got, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(want.Units, got.Units); diff != "" {
		t.Fatalf("units mismatch (-want +got):\n%s", diff)
	}

	failed, err := st.FailedTasks(ctx)
	if err != nil {
		t.Fatalf("failed tasks: %v", err)
	}
	if diff := cmp.Diff(want.Failed, failed); diff != "" {
		t.Fatalf("failed mismatch (-want +got):\n%s", diff)
	}
	dups, err := st.DuplicateTasks(ctx)
	if err != nil {
		t.Fatalf("duplicate tasks: %v", err)
	}
	if diff := cmp.Diff(want.Duplicates, dups); diff != "" {
		t.Fatalf("duplicates mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteStoreNeverOverwritesUnits(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(filepath.Join(t.TempDir(), "units.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	first := models.NewScrapeState()
	first.Put("orks", "Warboss", &models.UnitRecord{Movement: `6"`})
	if err := st.Persist(ctx, first); err != nil {
		t.Fatalf("persist first: %v", err)
	}

	second := models.NewScrapeState()
	second.Put("orks", "Warboss", &models.UnitRecord{Movement: `9"`})
	if err := st.Persist(ctx, second); err != nil {
		t.Fatalf("persist second: %v", err)
	}

	got, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m := got.Units["orks"]["Warboss"].Movement; m != `6"` {
		t.Fatalf("movement = %q, want first write to win", m)
	}
}
