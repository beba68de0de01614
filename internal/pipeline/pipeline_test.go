package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/hydro-forecast-etl/internal/domain"
	"github.com/couchcryptid/hydro-forecast-etl/internal/observability"
	"github.com/couchcryptid/hydro-forecast-etl/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawEvent
	errs    []error
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	i := int(m.index.Add(1) - 1)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockTransformer struct {
	failKeys map[string]bool
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	if m.failKeys[string(raw.Key)] {
		return domain.OutputEvent{}, errors.New("bad job")
	}
	return domain.OutputEvent{Key: raw.Key, Value: raw.Value}, nil
}

type mockLoader struct {
	mu       sync.Mutex
	loaded   []domain.OutputEvent
	failures int
}

func (m *mockLoader) LoadBatch(_ context.Context, events []domain.OutputEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("broker unavailable")
	}
	m.loaded = append(m.loaded, events...)
	return nil
}

func (m *mockLoader) events() []domain.OutputEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutputEvent(nil), m.loaded...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawEvent(key string) domain.RawEvent {
	return domain.RawEvent{Key: []byte(key), Value: []byte(`{"reach_id":"` + key + `"}`)}
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{{rawEvent("1"), rawEvent("2")}}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), metrics, 50)
	assert.Error(t, p.CheckReadiness(context.Background()))

	runFor(t, p, 300*time.Millisecond)

	loaded := ldr.events()
	require.Len(t, loaded, 2)
	assert.Equal(t, []byte("1"), loaded[0].Key)
	assert.True(t, p.Ready())
	require.NoError(t, p.CheckReadiness(context.Background()))

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Batches)
	assert.Equal(t, int64(2), stats.Produced)
	assert.Equal(t, 50, stats.BatchSize)
	assert.False(t, stats.LastBatchAt.IsZero())
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.JobsConsumed), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.ResultsProduced), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning), 0)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ldr := &mockLoader{}
	p := pipeline.New(&mockExtractor{}, &mockTransformer{}, ldr, discardLogger(), observability.NewMetricsForTesting(), 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.events())
}

func TestPipeline_Run_SkipsFailedJobs(t *testing.T) {
	var committed []string
	var mu sync.Mutex
	commit := func(key string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			committed = append(committed, key)
			return nil
		}
	}
	bad, good := rawEvent("bad"), rawEvent("good")
	bad.Commit, good.Commit = commit("bad"), commit("good")

	ext := &mockExtractor{batches: [][]domain.RawEvent{{bad, good}}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(ext, &mockTransformer{failKeys: map[string]bool{"bad": true}}, ldr, discardLogger(), metrics, 50)

	runFor(t, p, 300*time.Millisecond)

	loaded := ldr.events()
	require.Len(t, loaded, 1)
	assert.Equal(t, []byte("good"), loaded[0].Key)
	mu.Lock()
	assert.ElementsMatch(t, []string{"bad", "good"}, committed)
	mu.Unlock()
	assert.Equal(t, int64(1), p.Stats().Skipped)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.TransformErrors), 0)
}

func TestPipeline_Run_AllJobsFailNotReady(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{{rawEvent("bad")}}}
	ldr := &mockLoader{}
	p := pipeline.New(ext, &mockTransformer{failKeys: map[string]bool{"bad": true}}, ldr, discardLogger(), observability.NewMetricsForTesting(), 50)

	runFor(t, p, 300*time.Millisecond)

	assert.Empty(t, ldr.events())
	assert.False(t, p.Ready())
}

func TestPipeline_Run_NoCommitWhenLoadFails(t *testing.T) {
	var commits atomic.Int64
	raw := rawEvent("1")
	raw.Commit = func(context.Context) error {
		commits.Add(1)
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawEvent{{raw}}}
	ldr := &mockLoader{failures: 1}
	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), observability.NewMetricsForTesting(), 50)

	runFor(t, p, 500*time.Millisecond)

	assert.Empty(t, ldr.events())
	assert.Equal(t, int64(0), commits.Load())
	assert.False(t, p.Ready())
}

func TestPipeline_Run_RecoversFromExtractError(t *testing.T) {
	ext := &mockExtractor{
		errs:    []error{errors.New("broker down")},
		batches: [][]domain.RawEvent{nil, {rawEvent("1")}},
	}
	ldr := &mockLoader{}
	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), observability.NewMetricsForTesting(), 50)

	runFor(t, p, time.Second)

	require.Len(t, ldr.events(), 1)
	assert.True(t, p.Ready())
}

func TestPipeline_Run_CancelDuringBackoff(t *testing.T) {
	ext := &mockExtractor{errs: []error{errors.New("broker down"), errors.New("broker down")}}
	p := pipeline.New(ext, &mockTransformer{}, &mockLoader{}, discardLogger(), observability.NewMetricsForTesting(), 50)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return ext.index.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pipeline did not stop while backing off")
	}
	assert.False(t, p.Ready())
}
