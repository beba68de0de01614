package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/hydro-forecast-etl/internal/domain"
	"github.com/couchcryptid/hydro-forecast-etl/internal/observability"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor pulls up to batchSize forecast job messages.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer converts a raw forecast job into a serialized result.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error)
}

// BatchLoader publishes serialized forecast results.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Pipeline turns batches of forecast jobs into alert results. Each job is
// analyzed independently; a job that fails to parse is skipped, never the batch.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int

	batches     atomic.Int64
	produced    atomic.Int64
	skipped     atomic.Int64
	lastBatchAt atomic.Int64 // unix nanos of the last loaded batch
}

// Stats is a point-in-time snapshot of pipeline progress.
type Stats struct {
	Ready       bool      `json:"ready"`
	BatchSize   int       `json:"batch_size"`
	Batches     int64     `json:"batches"`
	Produced    int64     `json:"produced"`
	Skipped     int64     `json:"skipped"`
	LastBatchAt time.Time `json:"last_batch_at,omitzero"`
}

// New assembles a Pipeline. batchSize bounds every ExtractBatch call.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// Stats returns a snapshot of pipeline progress.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Ready:     p.ready.Load(),
		BatchSize: p.batchSize,
		Batches:   p.batches.Load(),
		Produced:  p.produced.Load(),
		Skipped:   p.skipped.Load(),
	}
	if ns := p.lastBatchAt.Load(); ns != 0 {
		st.LastBatchAt = time.Unix(0, ns).UTC()
	}
	return st
}

// Ready reports whether at least one batch has been loaded.
func (p *Pipeline) Ready() bool { return p.ready.Load() }

// CheckReadiness fails until the first batch of results has been published.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not produced any forecast results yet")
	}
	return nil
}

// Run processes job batches until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// processBatch handles one batch of jobs and reports whether Run should continue.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract forecast jobs failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.JobsConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = initialBackoff

	loaded, ok := p.transformAndLoad(ctx, rawBatch, backoff)
	if !ok {
		return false
	}

	if loaded > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.batches.Add(1)
		p.lastBatchAt.Store(time.Now().UnixNano())
		p.ready.Store(true)
	}
	return true
}

// transformAndLoad analyzes every job, publishes the results and commits the
// job offsets only after the publish succeeds. Unparseable jobs are committed
// at once so they cannot block their partition.
func (p *Pipeline) transformAndLoad(ctx context.Context, rawBatch []domain.RawEvent, backoff *time.Duration) (int, bool) {
	outBatch := make([]domain.OutputEvent, 0, len(rawBatch))
	successfulRaws := make([]domain.RawEvent, 0, len(rawBatch))

	for _, raw := range rawBatch {
		out, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.logger.Warn("forecast job skipped",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.TransformErrors.Inc()
			p.skipped.Add(1)
			p.commitOffset(ctx, raw)
			continue
		}
		outBatch = append(outBatch, out)
		successfulRaws = append(successfulRaws, raw)
	}

	if len(outBatch) == 0 {
		return 0, true
	}

	if err := p.loader.LoadBatch(ctx, outBatch); err != nil {
		p.logger.Error("publish forecast results failed", "error", err, "results", len(outBatch))
		return 0, p.backoffOrStop(ctx, backoff)
	}

	p.metrics.ResultsProduced.Add(float64(len(outBatch)))
	p.produced.Add(int64(len(outBatch)))

	for _, raw := range successfulRaws {
		p.commitOffset(ctx, raw)
	}

	return len(outBatch), true
}

// backoffOrStop waits out the current backoff and doubles it, up to maxBackoff.
// It returns false once ctx is done.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset acknowledges a job message; messages without a Commit are ignored.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
