package domain

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ReturnPeriodYears lists the return periods thresholds are derived for, ascending.
var ReturnPeriodYears = []int{2, 5, 10, 25, 50, 100}

// ReturnPeriods holds the Gumbel thresholds of one reach, in the unit of the
// series they were derived from.
type ReturnPeriods struct {
	ReachID string  `json:"reach_id"`
	RP2     float64 `json:"return_period_2"`
	RP5     float64 `json:"return_period_5"`
	RP10    float64 `json:"return_period_10"`
	RP25    float64 `json:"return_period_25"`
	RP50    float64 `json:"return_period_50"`
	RP100   float64 `json:"return_period_100"`
}

// Threshold is one return period and its flow or level.
type Threshold struct {
	Years int     `json:"years"`
	Value float64 `json:"value"`
}

// Thresholds returns the thresholds ordered by ascending return period.
func (r ReturnPeriods) Thresholds() []Threshold {
	return []Threshold{
		{Years: 2, Value: r.RP2},
		{Years: 5, Value: r.RP5},
		{Years: 10, Value: r.RP10},
		{Years: 25, Value: r.RP25},
		{Years: 50, Value: r.RP50},
		{Years: 100, Value: r.RP100},
	}
}

func (r *ReturnPeriods) set(years int, v float64) {
	switch years {
	case 2:
		r.RP2 = v
	case 5:
		r.RP5 = v
	case 10:
		r.RP10 = v
	case 25:
		r.RP25 = v
	case 50:
		r.RP50 = v
	case 100:
		r.RP100 = v
	}
}

// AnnualMaximum is the largest value recorded in one calendar year.
type AnnualMaximum struct {
	Year  int
	Value float64
}

// AnnualMaxima groups the series by calendar year and keeps each year's
// maximum, ignoring NaNs. It fails with ErrInsufficientData when no year has a
// usable value.
func AnnualMaxima(s TimeSeries) ([]AnnualMaximum, error) {
	byYear := make(map[int]float64)
	for _, p := range s {
		if math.IsNaN(p.Value) {
			continue
		}
		y := p.Time.Year()
		if cur, ok := byYear[y]; !ok || p.Value > cur {
			byYear[y] = p.Value
		}
	}
	if len(byYear) == 0 {
		return nil, ErrInsufficientData
	}

	out := make([]AnnualMaximum, 0, len(byYear))
	for y, v := range byYear {
		out = append(out, AnnualMaximum{Year: y, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

// GumbelThreshold returns the Gumbel Type I value for return period rp given
// the mean and standard deviation of annual maxima.
func GumbelThreshold(std, mean, rp float64) (float64, error) {
	if !(std > 0) || math.IsInf(std, 0) {
		return 0, fmt.Errorf("standard deviation %g must be positive: %w", std, ErrValidation)
	}
	if !(rp > 1) || math.IsInf(rp, 0) {
		return 0, fmt.Errorf("return period %g must exceed 1: %w", rp, ErrValidation)
	}
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return 0, fmt.Errorf("mean %g must be finite: %w", mean, ErrValidation)
	}
	y := -math.Log(-math.Log(1 - 1/rp))
	return y*std*0.7797 + mean - 0.45*std, nil
}

// ComputeReturnPeriods derives the 2..100-year thresholds of a (corrected)
// historical series from the sample mean and standard deviation of its annual
// maxima. At least two distinct annual maxima are needed for a positive spread.
func ComputeReturnPeriods(reachID string, s TimeSeries) (ReturnPeriods, error) {
	maxima, err := AnnualMaxima(s)
	if err != nil {
		return ReturnPeriods{}, err
	}
	values := make([]float64, len(maxima))
	for i, m := range maxima {
		values[i] = m.Value
	}
	mean, std := stat.MeanStdDev(values, nil)

	rp := ReturnPeriods{ReachID: reachID}
	for _, years := range ReturnPeriodYears {
		v, err := GumbelThreshold(std, mean, float64(years))
		if err != nil {
			return ReturnPeriods{}, fmt.Errorf("%d-year threshold from %d annual maxima: %w", years, len(maxima), err)
		}
		rp.set(years, v)
	}
	return rp, nil
}
