package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	// EnsembleMembers is the number of forecast members per cycle.
	EnsembleMembers = 52
	// HighResMember is the 1-based index of the deterministic high-resolution run.
	HighResMember = 52
)

// MemberName returns the column name of 1-based member n, e.g. "ensemble_07".
func MemberName(n int) string {
	return fmt.Sprintf("ensemble_%02d", n)
}

// Ensemble is a forecast table: one shared timestamp index and 52 member
// columns. Members[k] holds member k+1.
type Ensemble struct {
	Times   []time.Time
	Members [][]float64
}

// NewEnsemble validates the member count, column lengths and index order.
func NewEnsemble(times []time.Time, members [][]float64) (Ensemble, error) {
	if len(members) != EnsembleMembers {
		return Ensemble{}, fmt.Errorf("ensemble has %d members, want %d: %w", len(members), EnsembleMembers, ErrValidation)
	}
	for k, m := range members {
		if len(m) != len(times) {
			return Ensemble{}, fmt.Errorf("%s has %d values for %d timestamps: %w", MemberName(k+1), len(m), len(times), ErrValidation)
		}
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return Ensemble{}, fmt.Errorf("ensemble index not strictly increasing at %s: %w", times[i].Format(TimestampLayout), ErrValidation)
		}
	}
	return Ensemble{Times: times, Members: members}, nil
}

// Len returns the number of timestamps.
func (e Ensemble) Len() int { return len(e.Times) }

// HighRes returns the deterministic member's column.
func (e Ensemble) HighRes() []float64 { return e.Members[HighResMember-1] }

// Stochastic returns the 51 perturbed members.
func (e Ensemble) Stochastic() [][]float64 { return e.Members[:HighResMember-1] }

// QuantileBand holds the spread of the stochastic members at one timestamp.
type QuantileBand struct {
	Min    float64 `json:"flow_min"`
	P25    float64 `json:"flow_25%"`
	Median float64 `json:"flow_avg"`
	P75    float64 `json:"flow_75%"`
	Max    float64 `json:"flow_max"`
}

// SummaryRow is one timestamp of an ensemble summary. The band and the
// high-resolution value are dropped independently, so either may be nil.
type SummaryRow struct {
	Time time.Time `json:"datetime"`
	*QuantileBand
	HighRes *float64 `json:"high_res,omitempty"`
}

type summaryRowJSON struct {
	Time string `json:"datetime"`
	*QuantileBand
	HighRes *float64 `json:"high_res,omitempty"`
}

// MarshalJSON writes the timestamp in TimestampLayout and omits a missing band.
func (r SummaryRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(summaryRowJSON{
		Time:         r.Time.Format(TimestampLayout),
		QuantileBand: r.QuantileBand,
		HighRes:      r.HighRes,
	})
}

// UnmarshalJSON decodes a row written by MarshalJSON.
func (r *SummaryRow) UnmarshalJSON(data []byte) error {
	var in struct {
		Time    string   `json:"datetime"`
		Min     *float64 `json:"flow_min"`
		P25     float64  `json:"flow_25%"`
		Median  float64  `json:"flow_avg"`
		P75     float64  `json:"flow_75%"`
		Max     float64  `json:"flow_max"`
		HighRes *float64 `json:"high_res"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	t, err := ParseTimestamp(in.Time)
	if err != nil {
		return err
	}
	*r = SummaryRow{Time: t, HighRes: in.HighRes}
	if in.Min != nil {
		r.QuantileBand = &QuantileBand{Min: *in.Min, P25: in.P25, Median: in.Median, P75: in.P75, Max: in.Max}
	}
	return nil
}

// EnsembleSummary is the time-ordered reduction of an ensemble.
type EnsembleSummary []SummaryRow

// SummarizeEnsemble reduces the 51 stochastic members to min/25/50/75/max
// percentiles per timestamp and carries the high-resolution member alongside.
// Timestamps where every stochastic member is NaN get no band; timestamps
// where the high-resolution value is NaN get no high_res. Rows with neither
// are dropped.
func SummarizeEnsemble(e Ensemble) (EnsembleSummary, error) {
	if len(e.Members) != EnsembleMembers {
		return nil, fmt.Errorf("ensemble has %d members, want %d: %w", len(e.Members), EnsembleMembers, ErrValidation)
	}
	if e.Len() == 0 {
		return nil, fmt.Errorf("ensemble: %w", ErrDataUnavailable)
	}

	stochastic := e.Stochastic()
	highRes := e.HighRes()
	row := make([]float64, 0, len(stochastic))

	summary := make(EnsembleSummary, 0, e.Len())
	for i, t := range e.Times {
		row = row[:0]
		for _, member := range stochastic {
			if v := member[i]; !math.IsNaN(v) {
				row = append(row, v)
			}
		}
		out := SummaryRow{Time: t}
		if len(row) > 0 {
			out.QuantileBand = band(row)
		}
		if v := highRes[i]; !math.IsNaN(v) {
			out.HighRes = &v
		}
		if out.QuantileBand == nil && out.HighRes == nil {
			continue
		}
		summary = append(summary, out)
	}
	if len(summary) == 0 {
		return nil, fmt.Errorf("ensemble has no usable values: %w", ErrDataUnavailable)
	}
	return summary, nil
}

// band sorts values in place and reads off the five summary percentiles.
func band(values []float64) *QuantileBand {
	sort.Float64s(values)
	return &QuantileBand{
		Min:    values[0],
		P25:    percentile(values, 0.25),
		Median: percentile(values, 0.50),
		P75:    percentile(values, 0.75),
		Max:    values[len(values)-1],
	}
}

// percentile linearly interpolates between the closest ranks of a sorted
// sample: h = (n-1)q, x[floor(h)] + (h-floor(h))*(x[ceil(h)]-x[floor(h)]).
func percentile(sorted []float64, q float64) float64 {
	h := float64(len(sorted)-1) * q
	lo := int(math.Floor(h))
	hi := int(math.Ceil(h))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}
