package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable marks an input series, month slice or ensemble that has
	// no usable (non-NaN) values.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrValidation marks invalid input or violated statistical preconditions
	// (non-positive standard deviation, return period <= 1, malformed jobs).
	ErrValidation = errors.New("validation failed")

	// ErrFitFailure marks a quantile mapping that cannot be constructed, e.g.
	// because a monthly sample is constant.
	ErrFitFailure = errors.New("quantile mapping fit failed")

	// ErrInsufficientData is returned when a series yields no annual maxima.
	ErrInsufficientData = fmt.Errorf("insufficient data: %w", ErrValidation)
)

// Analysis stages reported on failed results and in metrics.
const (
	StageAlign         = "align"
	StageHistory       = "history"
	StageReturnPeriods = "return_periods"
	StageEnsemble      = "ensemble"
	StageSummary       = "summary"
	StageAlerts        = "alerts"
	// StageRecords never makes a result unavailable; it only marks the records.
	StageRecords = "records"
)

// AnalysisError records which stage of a forecast analysis failed.
type AnalysisError struct {
	Stage string
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

func stageError(stage string, err error) error {
	return &AnalysisError{Stage: stage, Err: err}
}
