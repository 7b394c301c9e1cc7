package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/aluiziolira/go-scrape-units/models"
)

const unitText = "CAPTAIN\nM\n6\"\nT\n4\nSv\n3+\nW\n5\nLd\n6+\nOC\n1"

// fakeRenderer counts calls per URL and tracks peak concurrency.
type fakeRenderer struct {
	mu    sync.Mutex
	calls map[string]int
	total int

	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	delay time.Duration
	// respond decides the outcome of the n-th call (1-based) for a URL.
	respond func(ctx context.Context, req Request, n int) (*Page, error)
}

func newFakeRenderer(respond func(ctx context.Context, req Request, n int) (*Page, error)) *fakeRenderer {
	return &fakeRenderer{calls: make(map[string]int), respond: respond}
}

func (f *fakeRenderer) Render(ctx context.Context, req Request) (*Page, error) {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if current <= peak || f.maxInFlight.CompareAndSwap(peak, current) {
			break
		}
	}

	f.mu.Lock()
	f.calls[req.URL]++
	f.total++
	n := f.calls[req.URL]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.respond == nil {
		return &Page{URL: req.URL, Text: unitText}, nil
	}
	return f.respond(ctx, req, n)
}

func (f *fakeRenderer) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeRenderer) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

type persistSnapshot struct {
	records    int
	failed     int
	duplicates int
}

type recordingPersister struct {
	mu        sync.Mutex
	snapshots []persistSnapshot
	err       error
}

func (p *recordingPersister) Persist(ctx context.Context, state *models.ScrapeState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.snapshots = append(p.snapshots, persistSnapshot{
		records:    state.Count(),
		failed:     len(state.Failed),
		duplicates: len(state.Duplicates),
	})
	return nil
}

func (p *recordingPersister) Snapshots() []persistSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]persistSnapshot(nil), p.snapshots...)
}

func makeTasks(faction string, n int) []models.FetchTask {
	idx := models.NewIndex()
	units := make([]string, n)
	for i := range units {
		units[i] = fmt.Sprintf("unit-%02d", i)
	}
	idx.Set(faction, units)
	return idx.Tasks("http://example.test")
}

func TestOrchestratorIdempotentAcrossRuns(t *testing.T) {
	cfg := testConfig()
	renderer := newFakeRenderer(nil)
	persister := &recordingPersister{}
	o := NewOrchestrator(renderer, persister, cfg, NewMetrics())

	state := models.NewScrapeState()
	tasks := makeTasks("orks", 5)

	first, err := o.Run(context.Background(), tasks, state)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Succeeded != 5 || state.Count() != 5 {
		t.Fatalf("first run succeeded=%d records=%d, want 5/5", first.Succeeded, state.Count())
	}
	if rec := state.Units["orks"]["unit-00"]; rec == nil || rec.Movement != `6"` {
		t.Fatalf("unexpected parsed record %+v", rec)
	}

	second, err := o.Run(context.Background(), tasks, state)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if renderer.Total() != 5 {
		t.Fatalf("renders = %d, want 5; nothing should be fetched twice", renderer.Total())
	}
	if second.Succeeded != 0 || second.Duplicates != 5 || state.Count() != 5 {
		t.Fatalf("second run succeeded=%d duplicates=%d records=%d", second.Succeeded, second.Duplicates, state.Count())
	}
}

func TestOrchestratorPersistsWholeBatches(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 4
	cfg.Concurrency = 4
	persister := &recordingPersister{}
	o := NewOrchestrator(newFakeRenderer(nil), persister, cfg, NewMetrics())

	result, err := o.Run(context.Background(), makeTasks("necrons", 10), models.NewScrapeState())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Batches != 3 {
		t.Fatalf("batches = %d, want 3", result.Batches)
	}

	want := []persistSnapshot{{records: 4}, {records: 8}, {records: 10}}
	if diff := cmp.Diff(want, persister.Snapshots(), cmp.AllowUnexported(persistSnapshot{})); diff != "" {
		t.Fatalf("persist snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestOrchestratorRetryRounds(t *testing.T) {
	tasks := makeTasks("tyranids", 3)
	flaky := tasks[1].URL
	broken := tasks[2].URL

	tests := []struct {
		name          string
		respond       func(ctx context.Context, req Request, n int) (*Page, error)
		wantRounds    int
		wantRecords   int
		wantExhausted []models.TaskRef
	}{
		{
			name: "converges when the flaky task recovers",
			respond: func(_ context.Context, req Request, n int) (*Page, error) {
				if req.URL == flaky && n == 1 {
					return nil, ErrTimeout{Err: context.DeadlineExceeded}
				}
				return &Page{URL: req.URL, Text: unitText}, nil
			},
			wantRounds:  1,
			wantRecords: 3,
		},
		{
			name: "stops after a round without progress",
			respond: func(_ context.Context, req Request, n int) (*Page, error) {
				if req.URL == broken || (req.URL == flaky && n == 1) {
					return nil, fmt.Errorf("%s: %w", req.URL, ErrLandmarkMissing)
				}
				return &Page{URL: req.URL, Text: unitText}, nil
			},
			wantRounds:    2,
			wantRecords:   2,
			wantExhausted: []models.TaskRef{tasks[2].Ref()},
		},
		{
			name: "gives up when no task recovers in a round",
			respond: func(_ context.Context, req Request, n int) (*Page, error) {
				if req.URL == broken {
					return nil, ErrNotFound{Err: errors.New("gone")}
				}
				if req.URL == flaky && n < 3 {
					return nil, ErrConnection{Err: errors.New("reset")}
				}
				return &Page{URL: req.URL, Text: unitText}, nil
			},
			wantRounds:    1,
			wantRecords:   1,
			wantExhausted: []models.TaskRef{tasks[1].Ref(), tasks[2].Ref()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			renderer := newFakeRenderer(tt.respond)
			persister := &recordingPersister{}
			o := NewOrchestrator(renderer, persister, cfg, NewMetrics())

			state := models.NewScrapeState()
			result, err := o.Run(context.Background(), append([]models.FetchTask(nil), tasks...), state)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if result.RetryRounds != tt.wantRounds {
				t.Fatalf("retry rounds = %d, want %d", result.RetryRounds, tt.wantRounds)
			}
			if result.RetryRounds > cfg.MaxRetryRounds {
				t.Fatalf("retry rounds %d exceed limit %d", result.RetryRounds, cfg.MaxRetryRounds)
			}
			if state.Count() != tt.wantRecords {
				t.Fatalf("records = %d, want %d", state.Count(), tt.wantRecords)
			}
			if diff := cmp.Diff(tt.wantExhausted, result.ExhaustedTasks); diff != "" {
				t.Fatalf("exhausted mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantExhausted, state.Failed); diff != "" {
				t.Fatalf("failed list mismatch (-want +got):\n%s", diff)
			}
			if got := renderer.Calls(tasks[0].URL); got != 1 {
				t.Fatalf("healthy task rendered %d times, want 1", got)
			}
			if last := persister.Snapshots(); len(last) == 0 || last[len(last)-1].failed != len(tt.wantExhausted) {
				t.Fatalf("last persisted snapshot %+v does not hold the final failed list", last)
			}
		})
	}
}

func TestOrchestratorRetryRoundLimit(t *testing.T) {
	tasks := makeTasks("orks", 6)
	cfg := testConfig()
	cfg.MaxRetryRounds = 2

	// Task i fails its first i attempts, so every round has progress.
	failures := make(map[string]int)
	for i, task := range tasks {
		failures[task.URL] = i
	}
	renderer := newFakeRenderer(func(_ context.Context, req Request, n int) (*Page, error) {
		if n <= failures[req.URL] {
			return nil, ErrRateLimited{Err: errors.New("slow down")}
		}
		return &Page{URL: req.URL, Text: unitText}, nil
	})
	o := NewOrchestrator(renderer, &recordingPersister{}, cfg, NewMetrics())

	result, err := o.Run(context.Background(), tasks, models.NewScrapeState())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RetryRounds != 2 {
		t.Fatalf("retry rounds = %d, want 2", result.RetryRounds)
	}
	if result.Succeeded != 3 || len(result.ExhaustedTasks) != 3 {
		t.Fatalf("succeeded=%d exhausted=%d, want 3/3", result.Succeeded, len(result.ExhaustedTasks))
	}
	if result.ErrorsByType["rate_limited"] == 0 {
		t.Fatalf("expected rate_limited errors, got %v", result.ErrorsByType)
	}
}

func TestOrchestratorConcurrencyCap(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 3
	cfg.BatchSize = 12
	renderer := newFakeRenderer(nil)
	renderer.delay = 20 * time.Millisecond
	o := NewOrchestrator(renderer, &recordingPersister{}, cfg, NewMetrics())

	if _, err := o.Run(context.Background(), makeTasks("aeldari", 12), models.NewScrapeState()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if peak := renderer.maxInFlight.Load(); peak > 3 || peak == 0 {
		t.Fatalf("peak in-flight renders = %d, want 1..3", peak)
	}
}

func TestOrchestratorDuplicatesNeverOverwrite(t *testing.T) {
	cfg := testConfig()
	renderer := newFakeRenderer(nil)
	o := NewOrchestrator(renderer, &recordingPersister{}, cfg, NewMetrics())

	state := models.NewScrapeState()
	existing := &models.UnitRecord{Movement: `9"`}
	state.Put("orks", "Warboss", existing)

	tasks := []models.FetchTask{
		models.TaskRef{Faction: "orks", Unit: "Warboss"}.Task("http://example.test"),
		models.TaskRef{Faction: "orks", Unit: "Nob"}.Task("http://example.test"),
		models.TaskRef{Faction: "orks", Unit: "Nob"}.Task("http://example.test"),
	}
	result, err := o.Run(context.Background(), tasks, state)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if state.Units["orks"]["Warboss"] != existing {
		t.Fatalf("existing record was replaced")
	}
	if renderer.Calls(tasks[0].URL) != 0 {
		t.Fatalf("present unit should not be rendered")
	}
	if state.Count() != 2 || result.Succeeded != 1 {
		t.Fatalf("records=%d succeeded=%d, want 2/1", state.Count(), result.Succeeded)
	}
	want := []models.TaskRef{{Faction: "orks", Unit: "Warboss"}, {Faction: "orks", Unit: "Nob"}}
	if diff := cmp.Diff(want, state.Duplicates); diff != "" {
		t.Fatalf("duplicates mismatch (-want +got):\n%s", diff)
	}
}

func TestOrchestratorPersistFailureIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 2
	renderer := newFakeRenderer(nil)
	persister := &recordingPersister{err: errors.New("disk full")}
	o := NewOrchestrator(renderer, persister, cfg, NewMetrics())

	result, err := o.Run(context.Background(), makeTasks("orks", 6), models.NewScrapeState())
	var persistErr ErrPersistence
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if result.Batches != 0 {
		t.Fatalf("batches = %d, want 0", result.Batches)
	}
	if renderer.Total() != 2 {
		t.Fatalf("renders = %d, want only the first batch", renderer.Total())
	}
}

func TestOrchestratorCancellationPersistsInFlightBatch(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 2
	cfg.Concurrency = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks := makeTasks("orks", 6)
	renderer := newFakeRenderer(func(_ context.Context, req Request, _ int) (*Page, error) {
		if req.URL == tasks[0].URL {
			cancel()
		}
		return &Page{URL: req.URL, Text: unitText}, nil
	})
	persister := &recordingPersister{}
	o := NewOrchestrator(renderer, persister, cfg, NewMetrics())

	state := models.NewScrapeState()
	result, err := o.Run(ctx, tasks, state)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	snapshots := persister.Snapshots()
	if len(snapshots) != 1 {
		t.Fatalf("persists = %d, want exactly the in-flight batch", len(snapshots))
	}
	if got := snapshots[0].records + snapshots[0].failed; got != 2 {
		t.Fatalf("persisted batch resolved %d tasks, want 2", got)
	}
	if renderer.Total() > 2 || result.Batches != 1 {
		t.Fatalf("renders=%d batches=%d after cancellation", renderer.Total(), result.Batches)
	}
	if len(result.ExhaustedTasks) != 0 {
		t.Fatalf("cancelled run should not mark tasks exhausted: %v", result.ExhaustedTasks)
	}
}
