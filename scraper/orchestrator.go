package scraper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aluiziolira/go-scrape-units/config"
	"github.com/aluiziolira/go-scrape-units/models"
	"github.com/aluiziolira/go-scrape-units/parser"
)

// Persister writes the whole state after every batch.
type Persister interface {
	Persist(ctx context.Context, state *models.ScrapeState) error
}

// Orchestrator fetches unit pages in batches under a concurrency cap, merges
// each completed batch into the state and persists it, then retries failed
// tasks in rounds.
type Orchestrator struct {
	renderer  Renderer
	persister Persister
	metrics   *Metrics

	concurrency     int
	batchSize       int
	maxRetryRounds  int
	retryBackoff    time.Duration
	retryBackoffMax time.Duration

	landmark      string
	container     string
	consentButton string

	parse func(text string) *models.UnitRecord
}

// NewOrchestrator builds an orchestrator from cfg.
func NewOrchestrator(renderer Renderer, persister Persister, cfg *config.Config, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		renderer:        renderer,
		persister:       persister,
		metrics:         metrics,
		concurrency:     max(cfg.Concurrency, 1),
		batchSize:       max(cfg.BatchSize, 1),
		maxRetryRounds:  max(cfg.MaxRetryRounds, 0),
		retryBackoff:    cfg.RetryBackoff,
		retryBackoffMax: cfg.RetryBackoffMax,
		landmark:        cfg.UnitLandmark,
		container:       cfg.ContentContainer,
		consentButton:   cfg.ConsentButton,
		parse:           parser.Parse,
	}
}

// run carries the bookkeeping of a single Run call.
type run struct {
	state    *models.ScrapeState
	result   *models.RunResult
	gate     *semaphore.Weighted
	attempts map[models.TaskRef]int
	urls     map[models.TaskRef]string
}

// Run processes tasks against state. The failed and duplicate lists of state
// are reset at the start. Every batch is merged and persisted as a whole; a
// persist failure aborts the run with ErrPersistence. When ctx is cancelled
// no further batch starts, the batch in flight is still merged and persisted,
// and ctx.Err() is returned along with the partial result.
func (o *Orchestrator) Run(ctx context.Context, tasks []models.FetchTask, state *models.ScrapeState) (*models.RunResult, error) {
	if state == nil {
		state = models.NewScrapeState()
	}
	state.Failed = nil
	state.Duplicates = nil

	r := &run{
		state: state,
		result: &models.RunResult{
			StartTime:    time.Now(),
			TaskCount:    len(tasks),
			ErrorsByType: make(map[string]int),
		},
		gate:     semaphore.NewWeighted(int64(o.concurrency)),
		attempts: make(map[models.TaskRef]int),
		urls:     make(map[models.TaskRef]string),
	}
	finish := func(err error) (*models.RunResult, error) {
		r.result.Failed = len(state.Failed)
		r.result.Duplicates = len(state.Duplicates)
		r.result.EndTime = time.Now()
		return r.result, err
	}

	pending := make([]models.FetchTask, len(tasks))
	copy(pending, tasks)
	for offset := 0; offset < len(pending); offset += o.batchSize {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		end := min(offset+o.batchSize, len(pending))
		if _, err := o.runBatch(ctx, r, pending[offset:end], offset, len(pending)); err != nil {
			return finish(err)
		}
	}

	for round := 1; round <= o.maxRetryRounds && len(state.Failed) > 0; round++ {
		if err := o.waitBackoff(ctx, round); err != nil {
			return finish(err)
		}

		retry := make([]models.FetchTask, 0, len(state.Failed))
		for _, ref := range state.Failed {
			retry = append(retry, models.FetchTask{
				Faction:  ref.Faction,
				Unit:     ref.Unit,
				URL:      r.urls[ref],
				Status:   models.TaskPending,
				Attempts: r.attempts[ref],
			})
		}
		state.Failed = nil

		r.result.RetryRounds++
		o.metrics.IncRetryRound()
		slog.Info("retry round",
			slog.Int("round", round),
			slog.Int("tasks", len(retry)),
		)

		succeeded, err := o.runBatch(ctx, r, retry, 0, len(retry))
		if err != nil {
			return finish(err)
		}
		if succeeded == 0 {
			slog.Warn("retry round made no progress", slog.Int("round", round))
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return finish(err)
	}
	for _, ref := range state.Failed {
		r.result.ExhaustedTasks = append(r.result.ExhaustedTasks, ref)
		o.metrics.IncTask(models.TaskExhausted.String())
	}
	return finish(nil)
}

// runBatch resolves every task of batch, then merges and persists. It returns
// the number of tasks that produced a new record.
func (o *Orchestrator) runBatch(ctx context.Context, r *run, batch []models.FetchTask, offset, total int) (int, error) {
	records := make([]*models.UnitRecord, len(batch))

	var wg sync.WaitGroup
	for i := range batch {
		task := &batch[i]
		if r.state.Has(task.Faction, task.Unit) {
			task.Status = models.TaskDuplicate
			slog.Debug("unit already present, skipping",
				slog.String("faction", task.Faction),
				slog.String("unit", task.Unit),
			)
			continue
		}
		if err := r.gate.Acquire(ctx, 1); err != nil {
			task.Status = models.TaskFailed
			task.Err = err
			continue
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer r.gate.Release(1)
			o.metrics.AddInFlight(1)
			defer o.metrics.AddInFlight(-1)
			records[i] = o.fetch(ctx, task, offset+i+1, total)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := range batch {
		task := &batch[i]
		ref := task.Ref()
		r.attempts[ref] = task.Attempts
		r.urls[ref] = task.URL

		switch task.Status {
		case models.TaskSucceeded:
			if !r.state.Put(task.Faction, task.Unit, records[i]) {
				task.Status = models.TaskDuplicate
				r.state.Duplicates = append(r.state.Duplicates, ref)
				o.metrics.IncTask(models.TaskDuplicate.String())
				continue
			}
			succeeded++
			r.result.Succeeded++
			o.metrics.IncTask(models.TaskSucceeded.String())
		case models.TaskDuplicate:
			r.state.Duplicates = append(r.state.Duplicates, ref)
			o.metrics.IncTask(models.TaskDuplicate.String())
		default:
			task.Status = models.TaskFailed
			label := errorTypeLabel(task.Err)
			r.result.ErrorsByType[label]++
			r.state.Failed = append(r.state.Failed, ref)
			o.metrics.IncTask(models.TaskFailed.String())
			o.metrics.IncError(label)
		}
	}

	// The batch is already resolved; cancellation must not stop it from
	// reaching disk.
	if err := o.persister.Persist(context.WithoutCancel(ctx), r.state); err != nil {
		return succeeded, ErrPersistence{Err: err}
	}
	r.result.Batches++
	o.metrics.IncBatch()
	slog.Info("batch persisted",
		slog.Int("tasks", len(batch)),
		slog.Int("succeeded", succeeded),
		slog.Int("failed", len(r.state.Failed)),
		slog.Int("records", r.state.Count()),
	)
	return succeeded, nil
}

// fetch renders and parses one task, recording the outcome on the task.
func (o *Orchestrator) fetch(ctx context.Context, task *models.FetchTask, index, total int) *models.UnitRecord {
	task.Attempts++
	started := time.Now()
	page, err := o.renderer.Render(ctx, Request{
		URL:           task.URL,
		Landmark:      o.landmark,
		Container:     o.container,
		ConsentButton: o.consentButton,
	})
	o.metrics.ObserveRender("unit", time.Since(started))
	if err != nil {
		task.Status = models.TaskFailed
		task.Err = err
		slog.Error("unit fetch failed",
			slog.String("url", task.URL),
			slog.String("category", errorTypeLabel(err)),
			slog.Int("attempt", task.Attempts),
			slog.Any("error", err),
		)
		return nil
	}

	rec := o.parse(page.Text)
	if verr := parser.ValidateRecord(rec); verr != nil {
		slog.Warn("partial unit record",
			slog.String("faction", task.Faction),
			slog.String("unit", task.Unit),
			slog.Any("reason", verr),
		)
	}
	task.Status = models.TaskSucceeded
	slog.Info("unit done",
		slog.String("unit", task.Unit),
		slog.Int("index", index),
		slog.Int("total", total),
	)
	return rec
}

func (o *Orchestrator) waitBackoff(ctx context.Context, round int) error {
	delay := retryDelay(round, o.retryBackoff, o.retryBackoffMax)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryDelay is the capped exponential delay before retry round attempt.
// A non-positive base disables the delay.
func retryDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
