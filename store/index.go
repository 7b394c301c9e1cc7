package store

import (
	"fmt"

	"github.com/aluiziolira/go-scrape-units/models"
)

// LoadIndex reads a unit index file. A missing or empty file is an empty index.
func LoadIndex(path string) (*models.Index, error) {
	idx := models.NewIndex()
	if _, err := readJSON(path, idx); err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	return idx, nil
}

// SaveIndex merges idx into the index file at path, replacing factions that
// idx carries and keeping the rest. It returns the merged index.
func SaveIndex(path string, idx *models.Index) (*models.Index, error) {
	existing, err := LoadIndex(path)
	if err != nil {
		return nil, err
	}
	merged := existing.Merge(idx)
	if err := WriteJSON(path, merged); err != nil {
		return nil, fmt.Errorf("save index: %w", err)
	}
	return merged, nil
}

// SaveFailedFactions writes the failed faction list. Nothing is written for
// an empty list.
func SaveFailedFactions(path string, factions []string) error {
	if len(factions) == 0 {
		return nil
	}
	if err := WriteJSON(path, factions); err != nil {
		return fmt.Errorf("save failed factions: %w", err)
	}
	return nil
}
