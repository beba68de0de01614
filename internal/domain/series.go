package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// MinValue is the floor applied to aligned flows and levels. Ratio-based
// corrections downstream divide by monthly minima, so zero and negative values
// are lifted to this sentinel.
const MinValue = 0.1

// TimestampLayout is the naive, second-resolution layout used on the wire.
const TimestampLayout = "2006-01-02 15:04:05"

var timestampLayouts = []string{
	TimestampLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// RawRow is one (timestamp, value) pair as returned by the persistence layer.
// A null value is carried as NaN after alignment.
type RawRow struct {
	Timestamp string   `json:"datetime"`
	Value     *float64 `json:"value"`
}

// Point is a single aligned observation.
type Point struct {
	Time  time.Time
	Value float64
}

type pointJSON struct {
	Time  string   `json:"datetime"`
	Value *float64 `json:"value"`
}

// MarshalJSON encodes the point with a naive second-resolution timestamp.
// NaN values are written as null.
func (p Point) MarshalJSON() ([]byte, error) {
	out := pointJSON{Time: p.Time.Format(TimestampLayout)}
	if !math.IsNaN(p.Value) {
		v := p.Value
		out.Value = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a point written by MarshalJSON.
func (p *Point) UnmarshalJSON(data []byte) error {
	var in pointJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	t, err := ParseTimestamp(in.Time)
	if err != nil {
		return err
	}
	p.Time = t
	p.Value = math.NaN()
	if in.Value != nil {
		p.Value = *in.Value
	}
	return nil
}

// TimeSeries is an ascending, duplicate-free sequence of points. Functions in
// this package never modify a TimeSeries in place.
type TimeSeries []Point

// ParseTimestamp parses a naive or offset timestamp into UTC, truncated to the second.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, ErrValidation)
}

// AlignRows normalizes raw rows into a TimeSeries: timestamps are parsed and
// truncated to the second, rows are sorted, the first row wins for duplicated
// timestamps, and non-NaN values below MinValue are raised to MinValue.
// Empty input yields an empty series; callers decide whether that is an error.
func AlignRows(rows []RawRow) (TimeSeries, error) {
	series := make(TimeSeries, 0, len(rows))
	for i, row := range rows {
		t, err := ParseTimestamp(row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		v := math.NaN()
		if row.Value != nil {
			v = *row.Value
		}
		series = append(series, Point{Time: t, Value: floorValue(v)})
	}
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Time.Before(series[j].Time)
	})
	return dedupe(series), nil
}

func floorValue(v float64) float64 {
	if math.IsNaN(v) || v >= MinValue {
		return v
	}
	return MinValue
}

// dedupe drops points whose timestamp equals the previous one. The input must be sorted.
func dedupe(series TimeSeries) TimeSeries {
	if len(series) < 2 {
		return series
	}
	out := series[:1]
	for _, p := range series[1:] {
		if p.Time.Equal(out[len(out)-1].Time) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Values returns the series values in time order.
func (s TimeSeries) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// DropNaN returns the points with a usable value.
func (s TimeSeries) DropNaN() TimeSeries {
	out := make(TimeSeries, 0, len(s))
	for _, p := range s {
		if !math.IsNaN(p.Value) {
			out = append(out, p)
		}
	}
	return out
}

// InMonth returns the points that fall in calendar month m of any year.
func (s TimeSeries) InMonth(m time.Month) TimeSeries {
	out := make(TimeSeries, 0, len(s)/12+1)
	for _, p := range s {
		if p.Time.Month() == m {
			out = append(out, p)
		}
	}
	return out
}

// Months returns the calendar months present in the series, ascending.
func (s TimeSeries) Months() []time.Month {
	var seen [13]bool
	for _, p := range s {
		seen[p.Time.Month()] = true
	}
	var months []time.Month
	for m := time.January; m <= time.December; m++ {
		if seen[m] {
			months = append(months, m)
		}
	}
	return months
}

// monthValues returns the non-NaN values of calendar month m.
func (s TimeSeries) monthValues(m time.Month) []float64 {
	var out []float64
	for _, p := range s {
		if p.Time.Month() == m && !math.IsNaN(p.Value) {
			out = append(out, p.Value)
		}
	}
	return out
}

// sortByTime returns a copy of s sorted ascending by timestamp.
func sortByTime(s TimeSeries) TimeSeries {
	out := make(TimeSeries, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}
