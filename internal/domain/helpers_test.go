package domain

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dailySeries builds days consecutive daily points starting at start.
func dailySeries(start time.Time, days int, value func(t time.Time, i int) float64) TimeSeries {
	s := make(TimeSeries, days)
	for i := range s {
		t := start.AddDate(0, 0, i)
		s[i] = Point{Time: t, Value: value(t, i)}
	}
	return s
}

// syntheticSimulated is a seasonal daily hindcast with one flood peak per year.
func syntheticSimulated(years int) TimeSeries {
	start := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(years, 0, 0)
	days := int(end.Sub(start).Hours() / 24)
	return dailySeries(start, days, func(t time.Time, i int) float64 {
		doy := float64(t.YearDay())
		v := 20 + 15*math.Sin(2*math.Pi*doy/365.25) + 10*float64((i*7919)%101)/101
		if t.YearDay() == 180 {
			v += 100 + 7*float64(t.Year()%5)
		}
		return v
	})
}

// scaled maps every value through a*v + b.
func scaled(s TimeSeries, a, b float64) TimeSeries {
	out := make(TimeSeries, len(s))
	for i, p := range s {
		out[i] = Point{Time: p.Time, Value: a*p.Value + b}
	}
	return out
}

func rowsOf(s TimeSeries) []RawRow {
	rows := make([]RawRow, len(s))
	for i, p := range s {
		rows[i] = RawRow{Timestamp: p.Time.Format(TimestampLayout)}
		if !math.IsNaN(p.Value) {
			v := p.Value
			rows[i].Value = &v
		}
	}
	return rows
}

// makeEnsemble builds a 52-member ensemble; value receives the 1-based member
// number and the row index.
func makeEnsemble(t *testing.T, times []time.Time, value func(member, i int) float64) Ensemble {
	t.Helper()
	members := make([][]float64, EnsembleMembers)
	for k := range members {
		col := make([]float64, len(times))
		for i := range col {
			col[i] = value(k+1, i)
		}
		members[k] = col
	}
	e, err := NewEnsemble(times, members)
	require.NoError(t, err)
	return e
}

// stepTimes returns n timestamps spaced by step from start.
func stepTimes(start time.Time, n int, step time.Duration) []time.Time {
	times := make([]time.Time, n)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * step)
	}
	return times
}

func ensembleRows(e Ensemble) EnsembleRows {
	rows := EnsembleRows{Members: make(map[string][]*float64, EnsembleMembers)}
	for _, t := range e.Times {
		rows.Timestamps = append(rows.Timestamps, t.Format(TimestampLayout))
	}
	for k, member := range e.Members {
		col := make([]*float64, len(member))
		for i, v := range member {
			if !math.IsNaN(v) {
				v := v
				col[i] = &v
			}
		}
		rows.Members[MemberName(k+1)] = col
	}
	return rows
}

func ptr(v float64) *float64 { return &v }

// stubMapper subtracts a fixed offset, standing in for a fitted quantile map.
type stubMapper struct{ offset float64 }

func (s stubMapper) Apply(v float64) float64 { return v - s.offset }

func stubFitter(offset float64) MapperFitter {
	return func(simulated, observed []float64) (Mapper, error) {
		if len(simulated) == 0 || len(observed) == 0 {
			return nil, ErrDataUnavailable
		}
		return stubMapper{offset: offset}, nil
	}
}
