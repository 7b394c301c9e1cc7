package store

import (
	"context"

	"github.com/aluiziolira/go-scrape-units/models"
)

// JSONStore keeps state in three JSON files: the aggregate of unit records,
// the failed task list and, when non-empty, the duplicate task list.
type JSONStore struct {
	outputPath     string
	failedPath     string
	duplicatesPath string
}

// NewJSONStore returns a store over the given file paths.
func NewJSONStore(outputPath, failedPath, duplicatesPath string) *JSONStore {
	return &JSONStore{
		outputPath:     outputPath,
		failedPath:     failedPath,
		duplicatesPath: duplicatesPath,
	}
}

// Load reads the aggregate. A missing or empty file yields an empty state.
// Failed and duplicate lists belong to a single run and always start empty.
func (s *JSONStore) Load(ctx context.Context) (*models.ScrapeState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state := models.NewScrapeState()
	if _, err := readJSON(s.outputPath, &state.Units); err != nil {
		return nil, err
	}
	if state.Units == nil {
		state.Units = make(map[string]map[string]*models.UnitRecord)
	}
	return state, nil
}

// Persist replaces all files with the current state.
func (s *JSONStore) Persist(ctx context.Context, state *models.ScrapeState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	units := state.Units
	if units == nil {
		units = map[string]map[string]*models.UnitRecord{}
	}
	if err := WriteJSON(s.outputPath, units); err != nil {
		return err
	}

	failed := state.Failed
	if failed == nil {
		failed = []models.TaskRef{}
	}
	if err := WriteJSON(s.failedPath, failed); err != nil {
		return err
	}

	if len(state.Duplicates) > 0 && s.duplicatesPath != "" {
		if err := WriteJSON(s.duplicatesPath, state.Duplicates); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; every Persist leaves complete files behind.
func (s *JSONStore) Close() error { return nil }

// ReadUnits loads an aggregate file written by JSONStore.
func ReadUnits(path string) (map[string]map[string]*models.UnitRecord, error) {
	units := make(map[string]map[string]*models.UnitRecord)
	if _, err := readJSON(path, &units); err != nil {
		return nil, err
	}
	return units, nil
}
