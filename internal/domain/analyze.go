package domain

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// resultNamespace scopes result IDs so replaying a job yields the same ID.
var resultNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("hydro-forecast-etl/forecast-result"))

// ResultID derives the deterministic ID of a (reach, station, initialization date) result.
func ResultID(reachID, stationCode, initializationDate string) string {
	key := reachID + "|" + stationCode + "|" + initializationDate
	return uuid.NewSHA1(resultNamespace, []byte(key)).String()
}

// HistoryAnalysis is the part of an analysis that depends only on the
// historical snapshot and can be reused across forecast cycles.
type HistoryAnalysis struct {
	History       History
	Corrected     TimeSeries
	ReturnPeriods ReturnPeriods
}

// Engine runs the full correction and alerting flow for forecast jobs.
type Engine struct {
	corrector *Corrector
	alerts    *AlertEngine
	logger    *slog.Logger
}

// NewEngine wires a corrector and an alert engine.
func NewEngine(corrector *Corrector, alerts *AlertEngine, logger *slog.Logger) *Engine {
	return &Engine{corrector: corrector, alerts: alerts, logger: logger}
}

// AlignHistory aligns the job's simulated and observed rows.
func AlignHistory(job ForecastJob) (History, error) {
	sim, err := AlignRows(job.Simulated)
	if err != nil {
		return History{}, stageError(StageAlign, fmt.Errorf("simulated: %w", err))
	}
	obs, err := AlignRows(job.Observed)
	if err != nil {
		return History{}, stageError(StageAlign, fmt.Errorf("observed: %w", err))
	}
	return History{Simulated: sim, Observed: obs}, nil
}

// AnalyzeHistory corrects the historical simulation and derives return periods.
func (e *Engine) AnalyzeHistory(reachID string, h History) (HistoryAnalysis, error) {
	corrected, err := e.corrector.CorrectHistorical(h)
	if err != nil {
		return HistoryAnalysis{}, stageError(StageHistory, err)
	}
	rp, err := ComputeReturnPeriods(reachID, corrected)
	if err != nil {
		return HistoryAnalysis{}, stageError(StageReturnPeriods, err)
	}
	return HistoryAnalysis{History: h, Corrected: corrected, ReturnPeriods: rp}, nil
}

// Forecast corrects the job's ensemble and records against an analyzed
// history, summarizes the corrected ensemble and classifies alerts. Records
// never fail the forecast: failing months become RecordGaps and records that
// cannot be used at all set RecordsError.
func (e *Engine) Forecast(job ForecastJob, ha HistoryAnalysis) (ForecastResult, error) {
	raw, err := job.Ensemble.Align()
	if err != nil {
		return ForecastResult{}, stageError(StageAlign, err)
	}
	corrected, err := e.corrector.CorrectEnsemble(raw, ha.History)
	if err != nil {
		return ForecastResult{}, stageError(StageEnsemble, err)
	}
	summary, err := SummarizeEnsemble(corrected)
	if err != nil {
		return ForecastResult{}, stageError(StageSummary, err)
	}
	report, err := e.alerts.Classify(corrected, ha.ReturnPeriods)
	if err != nil {
		return ForecastResult{}, stageError(StageAlerts, err)
	}

	result := newResult(job)
	result.Status = StatusOK
	rp := ha.ReturnPeriods
	result.ReturnPeriods = &rp
	result.Summary = summary
	result.Alerts = report

	if len(job.Records) > 0 {
		rc, err := e.correctRecords(job.Records, ha.History)
		if err != nil {
			e.logger.Warn("forecast records not corrected",
				"reach_id", job.ReachID,
				"station", job.StationCode,
				"error", err,
			)
			result.RecordsError = err.Error()
		} else {
			result.Records = rc.Series
			result.RecordGaps = rc.Gaps
		}
	}
	return result, nil
}

func (e *Engine) correctRecords(rows []RawRow, h History) (RecordsCorrection, error) {
	records, err := AlignRows(rows)
	if err != nil {
		return RecordsCorrection{}, stageError(StageRecords, err)
	}
	rc, err := e.corrector.CorrectRecords(records, h)
	if err != nil {
		return RecordsCorrection{}, stageError(StageRecords, err)
	}
	return rc, nil
}

// Analyze runs the whole flow for one job without caching. Any failure is
// reported as an unavailable result.
func (e *Engine) Analyze(job ForecastJob) ForecastResult {
	h, err := AlignHistory(job)
	if err != nil {
		return UnavailableResult(job, err)
	}
	ha, err := e.AnalyzeHistory(job.ReachID, h)
	if err != nil {
		return UnavailableResult(job, err)
	}
	result, err := e.Forecast(job, ha)
	if err != nil {
		return UnavailableResult(job, err)
	}
	return result
}

// UnavailableResult reports a job that could not be analyzed: every alert slot
// is unavailable and the failing stage and reason are recorded.
func UnavailableResult(job ForecastJob, err error) ForecastResult {
	result := newResult(job)
	result.Status = StatusUnavailable
	result.Alerts = UnavailableReport()
	result.Reason = err.Error()
	var ae *AnalysisError
	if errors.As(err, &ae) {
		result.FailedStage = ae.Stage
	}
	return result
}

func newResult(job ForecastJob) ForecastResult {
	return ForecastResult{
		ID:                 ResultID(job.ReachID, job.StationCode, job.InitializationDate),
		ReachID:            job.ReachID,
		StationCode:        job.StationCode,
		InitializationDate: job.InitializationDate,
		Unit:               job.Unit,
		ProcessedAt:        clock.Now().UTC(),
	}
}
