package domain

import (
	"fmt"
	"math"
	"sort"
)

// Mapper transforms a value from the simulated distribution onto the observed one.
type Mapper interface {
	Apply(v float64) float64
}

// MapperFitter builds a Mapper from one calendar month of simulated and
// observed history. FitQuantileMapper is the production fitter; tests inject
// deterministic stubs.
type MapperFitter func(simulated, observed []float64) (Mapper, error)

// ecdf is an empirical CDF over the distinct values of a sample. Tied values
// share the mean of their Weibull plotting positions rank/(n+1), so both
// columns are strictly increasing and the curve can be inverted.
type ecdf struct {
	values []float64
	probs  []float64
}

func newECDF(sample []float64) (ecdf, error) {
	clean := make([]float64, 0, len(sample))
	for _, v := range sample {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return ecdf{}, fmt.Errorf("empty sample: %w", ErrDataUnavailable)
	}
	sort.Float64s(clean)

	n := float64(len(clean))
	var e ecdf
	for i := 0; i < len(clean); {
		j := i
		for j < len(clean) && clean[j] == clean[i] {
			j++
		}
		// ranks i+1..j share their mean rank
		rank := float64(i+1+j) / 2
		e.values = append(e.values, clean[i])
		e.probs = append(e.probs, rank/(n+1))
		i = j
	}
	if len(e.values) < 2 {
		return ecdf{}, fmt.Errorf("constant sample (%g): %w", clean[0], ErrFitFailure)
	}
	return e, nil
}

// probability maps a value to its non-exceedance probability, clamped to the
// sample's probability range.
func (e ecdf) probability(v float64) float64 {
	return interpolate(e.values, e.probs, v)
}

// quantile maps a probability back to a value, clamped to the sample range.
func (e ecdf) quantile(p float64) float64 {
	return interpolate(e.probs, e.values, p)
}

// interpolate evaluates the piecewise-linear curve through (xs, ys) at x.
// xs must be strictly increasing; x outside the range takes the end value.
func interpolate(xs, ys []float64, x float64) float64 {
	last := len(xs) - 1
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[last] {
		return ys[last]
	}
	i := sort.SearchFloat64s(xs, x)
	if xs[i] == x {
		return ys[i]
	}
	x0, x1 := xs[i-1], xs[i]
	y0, y1 := ys[i-1], ys[i]
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}

// QuantileMap is an empirical CDF-matching bias correction: a value is ranked
// against the simulated distribution and read back through the inverse of the
// observed distribution.
type QuantileMap struct {
	simulated ecdf
	observed  ecdf
}

// FitQuantileMap builds a QuantileMap from simulated and observed samples.
// NaNs are dropped from each sample independently. An empty sample fails with
// ErrDataUnavailable and a constant one with ErrFitFailure.
func FitQuantileMap(simulated, observed []float64) (*QuantileMap, error) {
	sim, err := newECDF(simulated)
	if err != nil {
		return nil, fmt.Errorf("simulated: %w", err)
	}
	obs, err := newECDF(observed)
	if err != nil {
		return nil, fmt.Errorf("observed: %w", err)
	}
	return &QuantileMap{simulated: sim, observed: obs}, nil
}

// FitQuantileMapper adapts FitQuantileMap to the MapperFitter signature.
func FitQuantileMapper(simulated, observed []float64) (Mapper, error) {
	q, err := FitQuantileMap(simulated, observed)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Apply corrects a single value. NaN passes through unchanged.
func (q *QuantileMap) Apply(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return q.observed.quantile(q.simulated.probability(v))
}
