package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/hydro-forecast-etl/internal/domain"
	"github.com/couchcryptid/hydro-forecast-etl/internal/observability"
)

// ForecastTransformer implements Transformer: it parses a forecast job, runs
// the correction and alerting engine with a cache of analyzed histories, and
// serializes the result.
type ForecastTransformer struct {
	engine  *domain.Engine
	cache   *historyCache
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewTransformer creates a ForecastTransformer that keeps up to cacheSize
// analyzed histories.
func NewTransformer(engine *domain.Engine, cacheSize int, logger *slog.Logger, metrics *observability.Metrics) *ForecastTransformer {
	return &ForecastTransformer{
		engine:  engine,
		cache:   newHistoryCache(cacheSize),
		logger:  logger,
		metrics: metrics,
	}
}

// Transform returns an error only for jobs that cannot be parsed or
// serialized. Analysis failures produce an unavailable result.
func (t *ForecastTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	job, err := domain.ParseForecastJob(raw)
	if err != nil {
		return domain.OutputEvent{}, err
	}

	start := time.Now()
	result := t.analyze(job)
	t.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	t.record(result)

	return domain.SerializeForecastResult(result)
}

func (t *ForecastTransformer) analyze(job domain.ForecastJob) domain.ForecastResult {
	h, err := domain.AlignHistory(job)
	if err != nil {
		return domain.UnavailableResult(job, err)
	}

	key := historyKey(job.ReachID, h)
	ha, ok := t.cache.get(key)
	if ok {
		t.metrics.HistoryCache.WithLabelValues("hit").Inc()
	} else {
		t.metrics.HistoryCache.WithLabelValues("miss").Inc()
		ha, err = t.engine.AnalyzeHistory(job.ReachID, h)
		if err != nil {
			return domain.UnavailableResult(job, err)
		}
		t.cache.put(key, ha)
	}

	result, err := t.engine.Forecast(job, ha)
	if err != nil {
		return domain.UnavailableResult(job, err)
	}
	return result
}

func (t *ForecastTransformer) record(result domain.ForecastResult) {
	t.metrics.AlertRollups.WithLabelValues(result.Alerts.Rollup.String()).Inc()
	t.metrics.RecordMonthGaps.Add(float64(len(result.RecordGaps)))
	if result.RecordsError != "" {
		t.metrics.RecordsFailures.Inc()
	}

	if result.Status == domain.StatusUnavailable {
		stage := result.FailedStage
		if stage == "" {
			stage = "unknown"
		}
		t.metrics.AnalysisFailures.WithLabelValues(stage).Inc()
		t.logger.Warn("forecast unavailable",
			"reach_id", result.ReachID,
			"station", result.StationCode,
			"initialization_date", result.InitializationDate,
			"stage", stage,
			"error", result.Reason,
		)
		return
	}
	t.logger.Info("forecast analyzed",
		"reach_id", result.ReachID,
		"station", result.StationCode,
		"initialization_date", result.InitializationDate,
		"rollup", result.Alerts.Rollup.String(),
		"record_gaps", len(result.RecordGaps),
		"records_error", result.RecordsError,
	)
}
