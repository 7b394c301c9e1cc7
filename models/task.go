package models

import (
	"fmt"
	"strings"
)

// TaskStatus is the lifecycle state of a FetchTask.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskSucceeded
	TaskFailed
	TaskDuplicate
	// TaskExhausted marks a task that was still failing after the last retry round.
	TaskExhausted
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	case TaskDuplicate:
		return "duplicate"
	case TaskExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// FetchTask is one unit page to render and parse.
type FetchTask struct {
	Faction  string
	Unit     string
	URL      string
	Status   TaskStatus
	Attempts int
	Err      error
}

// Ref returns the persisted identity of the task.
func (t FetchTask) Ref() TaskRef {
	return TaskRef{Faction: t.Faction, Unit: t.Unit}
}

// TaskRef is the shape of failed and duplicate task lists on disk.
type TaskRef struct {
	Faction string `json:"faction"`
	Unit    string `json:"unit"`
}

// Task expands a ref back into a pending task against baseURL.
func (r TaskRef) Task(baseURL string) FetchTask {
	return FetchTask{
		Faction: r.Faction,
		Unit:    r.Unit,
		URL:     UnitURL(baseURL, r.Faction, r.Unit),
		Status:  TaskPending,
	}
}

// UnitURL is the datasheet page of a single unit.
func UnitURL(baseURL, faction, unit string) string {
	return fmt.Sprintf("%s/wh40k10ed/factions/%s/%s", strings.TrimSuffix(baseURL, "/"), faction, unit)
}

// ListingURL is the datasheet index page of a faction.
func ListingURL(baseURL, faction string) string {
	return fmt.Sprintf("%s/wh40k10ed/factions/%s/datasheets.html", strings.TrimSuffix(baseURL, "/"), faction)
}
