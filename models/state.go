package models

import (
	"sort"
	"time"
)

// ScrapeState is the accumulated output of all runs so far plus the failed
// and duplicate tasks of the current run.
type ScrapeState struct {
	Units      map[string]map[string]*UnitRecord
	Failed     []TaskRef
	Duplicates []TaskRef
}

// NewScrapeState returns an empty state.
func NewScrapeState() *ScrapeState {
	return &ScrapeState{Units: make(map[string]map[string]*UnitRecord)}
}

// Has reports whether a record exists for (faction, unit).
func (s *ScrapeState) Has(faction, unit string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Units[faction][unit]
	return ok
}

// Put stores rec unless a record already exists for the key. The key space is
// append-only; Put reports false when the record was refused.
func (s *ScrapeState) Put(faction, unit string, rec *UnitRecord) bool {
	if s.Units == nil {
		s.Units = make(map[string]map[string]*UnitRecord)
	}
	units, ok := s.Units[faction]
	if !ok {
		units = make(map[string]*UnitRecord)
		s.Units[faction] = units
	}
	if _, exists := units[unit]; exists {
		return false
	}
	units[unit] = rec
	return true
}

// Count is the number of stored records.
func (s *ScrapeState) Count() int {
	total := 0
	for _, units := range s.Units {
		total += len(units)
	}
	return total
}

// Factions returns the factions with records, sorted.
func (s *ScrapeState) Factions() []string {
	out := make([]string, 0, len(s.Units))
	for f := range s.Units {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// RunResult holds the overall result of an orchestrator run.
type RunResult struct {
	StartTime      time.Time
	EndTime        time.Time
	TaskCount      int
	Succeeded      int
	Failed         int
	Duplicates     int
	Batches        int
	RetryRounds    int
	ErrorsByType   map[string]int
	ExhaustedTasks []TaskRef
}
