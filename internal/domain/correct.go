package domain

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// History is the aligned simulated/observed pair a correction is fitted on.
type History struct {
	Simulated TimeSeries
	Observed  TimeSeries
}

// Corrector applies monthly quantile mapping to historical and forecast series.
// It holds no state between calls and is safe for concurrent use.
type Corrector struct {
	fit    MapperFitter
	logger *slog.Logger
}

// NewCorrector creates a Corrector. A nil fit uses FitQuantileMapper.
func NewCorrector(fit MapperFitter, logger *slog.Logger) *Corrector {
	if fit == nil {
		fit = FitQuantileMapper
	}
	return &Corrector{fit: fit, logger: logger}
}

// CorrectHistorical maps every simulated value onto the observed distribution
// of its calendar month. NaNs are dropped from both inputs independently; an
// empty input, or a simulated month with no observations, fails with
// ErrDataUnavailable.
func (c *Corrector) CorrectHistorical(h History) (TimeSeries, error) {
	sim := h.Simulated.DropNaN()
	obs := h.Observed.DropNaN()
	if len(sim) == 0 {
		return nil, fmt.Errorf("simulated history: %w", ErrDataUnavailable)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("observed history: %w", ErrDataUnavailable)
	}

	corrected := make(TimeSeries, 0, len(sim))
	for _, m := range sim.Months() {
		mapper, err := c.fit(sim.monthValues(m), obs.monthValues(m))
		if err != nil {
			return nil, fmt.Errorf("month %s: %w", m, err)
		}
		for _, p := range sim.InMonth(m) {
			corrected = append(corrected, Point{Time: p.Time, Value: mapper.Apply(p.Value)})
		}
	}
	return sortByTime(corrected), nil
}

// boundedMapper is a month's mapping together with the simulated envelope it
// was fitted on.
type boundedMapper struct {
	mapper Mapper
	min    float64
	max    float64
}

func (c *Corrector) boundedFor(h History, m time.Month) (boundedMapper, error) {
	sim := h.Simulated.monthValues(m)
	if len(sim) == 0 {
		return boundedMapper{}, fmt.Errorf("no simulated history for %s: %w", m, ErrDataUnavailable)
	}
	mapper, err := c.fit(sim, h.Observed.monthValues(m))
	if err != nil {
		return boundedMapper{}, fmt.Errorf("month %s: %w", m, err)
	}
	return boundedMapper{mapper: mapper, min: floats.Min(sim), max: floats.Max(sim)}, nil
}

// apply clamps v into the simulated envelope, corrects it, and rescales the
// result by how far v lay outside the envelope.
func (b boundedMapper) apply(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	minFactor, maxFactor := 1.0, 1.0
	if v < b.min {
		minFactor = v / b.min
	}
	if v > b.max {
		maxFactor = v / b.max
	}
	clipped := math.Min(math.Max(v, b.min), b.max)
	return b.mapper.Apply(clipped) * minFactor * maxFactor
}

// CorrectEnsemble corrects every member of e with the mapping for the calendar
// month of the first forecast timestamp. Members are corrected independently;
// NaN values stay NaN.
func (c *Corrector) CorrectEnsemble(e Ensemble, h History) (Ensemble, error) {
	if e.Len() == 0 {
		return Ensemble{}, fmt.Errorf("ensemble: %w", ErrDataUnavailable)
	}
	month := e.Times[0].Month()
	b, err := c.boundedFor(h, month)
	if err != nil {
		return Ensemble{}, err
	}

	members := make([][]float64, len(e.Members))
	for k, member := range e.Members {
		out := make([]float64, len(member))
		for i, v := range member {
			out[i] = b.apply(v)
		}
		members[k] = out
	}
	times := make([]time.Time, len(e.Times))
	copy(times, e.Times)
	return Ensemble{Times: times, Members: members}, nil
}

// MonthGap reports a month slice of forecast records that could not be corrected.
type MonthGap struct {
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Points int    `json:"points"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// RecordsCorrection is the outcome of correcting forecast records: the
// corrected points of every month that succeeded, plus one gap per month that
// did not.
type RecordsCorrection struct {
	Series TimeSeries
	Gaps   []MonthGap
}

// CorrectRecords corrects forecast records one (year, month) slice at a time,
// each slice using the mapping for its calendar month. A failing slice is
// logged and reported as a gap; the remaining slices are still corrected.
// NaN records are dropped.
func (c *Corrector) CorrectRecords(records TimeSeries, h History) (RecordsCorrection, error) {
	records = records.DropNaN()
	if len(records) == 0 {
		return RecordsCorrection{}, fmt.Errorf("forecast records: %w", ErrDataUnavailable)
	}

	type sliceKey struct {
		year  int
		month time.Month
	}
	var order []sliceKey
	slices := make(map[sliceKey]TimeSeries)
	for _, p := range records {
		k := sliceKey{year: p.Time.Year(), month: p.Time.Month()}
		if _, ok := slices[k]; !ok {
			order = append(order, k)
		}
		slices[k] = append(slices[k], p)
	}

	mappers := make(map[time.Month]boundedMapper)
	failures := make(map[time.Month]error)
	var result RecordsCorrection
	for _, k := range order {
		slice := slices[k]
		b, ok := mappers[k.month]
		if !ok {
			err, failed := failures[k.month]
			if !failed {
				b, err = c.boundedFor(h, k.month)
			}
			if err != nil {
				failures[k.month] = err
				c.logger.Warn("forecast records month skipped",
					"year", k.year,
					"month", int(k.month),
					"points", len(slice),
					"error", err,
				)
				result.Gaps = append(result.Gaps, MonthGap{
					Year:   k.year,
					Month:  int(k.month),
					Points: len(slice),
					Reason: err.Error(),
					Err:    err,
				})
				continue
			}
			mappers[k.month] = b
		}
		for _, p := range slice {
			result.Series = append(result.Series, Point{Time: p.Time, Value: b.apply(p.Value)})
		}
	}
	result.Series = sortByTime(result.Series)
	return result, nil
}
