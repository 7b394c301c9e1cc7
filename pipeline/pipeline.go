package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-units/config"
	"github.com/aluiziolira/go-scrape-units/models"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for workers.
var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for partition output.
type OutputWriter interface {
	Write(parts []*models.Partition) error
	Close() error
	Validate() error
}

// Pipeline coordinates validation, de-duplication, and output writing of
// faction partitions.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	partCh    chan *models.Partition
	batchSize int

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	bufferSize := max(cfg.PipelineBufferSize, 1)
	batchSize := max(cfg.WriteBatchSize, 1)
	seen, err := lru.New[string, struct{}](max(cfg.DedupeMaxSize, 1))
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}

	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		partCh:    make(chan *models.Partition, bufferSize),
		batchSize: batchSize,
		seen:      seen,
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues partitions for downstream processing.
func (p *Pipeline) Process(parts ...*models.Partition) error {
	if len(parts) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, part := range parts {
		if part == nil {
			continue
		}
		if err := p.enqueue(part); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting partitions and waits up to drainTimeout for workers
// to flush what is queued.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.partCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.signalShutdown()
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}

	p.signalShutdown()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs until the pipeline
// shuts down or its context ends.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Int64("partitions", m["processed_partitions"].(int64)),
					slog.Int64("units", m["processed_units"].(int64)),
					slog.Int("validation_errors", len(m["validation_errors"].(map[string]int))),
				)
			case <-p.shutdown:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.Partition, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for part := range p.partCh {
		prepared := p.prepare(part)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) prepare(part *models.Partition) *models.Partition {
	if err := ValidatePartition(part); err != nil {
		p.metrics.addValidation("invalid_partition")
		slog.Warn("partition rejected", slog.String("faction", part.Faction), slog.Any("reason", err))
		return nil
	}

	if found, _ := p.seen.ContainsOrAdd(part.Faction, struct{}{}); found {
		p.metrics.addValidation("duplicate_faction")
		return nil
	}

	if part.Units == nil {
		part.Units = map[string]*models.UnitRecord{}
	}
	p.metrics.incrementProcessed(len(part.Units))
	return part
}

// ValidatePartition checks that a partition can be written to its own file.
func ValidatePartition(part *models.Partition) error {
	if part == nil {
		return errors.New("nil partition")
	}
	name := part.Faction
	if strings.TrimSpace(name) == "" {
		return errors.New("empty faction name")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("faction name %q is not a safe file name", name)
	}
	return nil
}

func (p *Pipeline) enqueue(part *models.Partition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.partCh <- part:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.partCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	partitions int64
	units      int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed(units int) {
	m.mu.Lock()
	m.partitions++
	m.units += int64(units)
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_partitions": m.partitions,
		"processed_units":      m.units,
		"validation_errors":    copyValidation,
	}
}
