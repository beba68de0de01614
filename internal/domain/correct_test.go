package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withoutMonth(s TimeSeries, m time.Month) TimeSeries {
	out := make(TimeSeries, 0, len(s))
	for _, p := range s {
		if p.Time.Month() != m {
			out = append(out, p)
		}
	}
	return out
}

func TestCorrectHistorical_IdenticalSeriesRoundTrip(t *testing.T) {
	sim := syntheticSimulated(2)
	c := NewCorrector(nil, discardLogger())

	corrected, err := c.CorrectHistorical(History{Simulated: sim, Observed: sim})
	require.NoError(t, err)
	require.Len(t, corrected, len(sim))

	for i := range sim {
		assert.True(t, sim[i].Time.Equal(corrected[i].Time))
		assert.InDelta(t, sim[i].Value, corrected[i].Value, 1e-9)
	}
}

func TestCorrectHistorical_DropsNaNIndependently(t *testing.T) {
	sim := syntheticSimulated(1)
	sim[10].Value = math.NaN()
	obs := scaled(sim, 1.5, 0)
	obs[20].Value = math.NaN()

	corrected, err := NewCorrector(nil, discardLogger()).CorrectHistorical(History{Simulated: sim, Observed: obs})
	require.NoError(t, err)
	assert.Len(t, corrected, len(sim)-1)
	for _, p := range corrected {
		assert.False(t, math.IsNaN(p.Value))
	}
}

func TestCorrectHistorical_Errors(t *testing.T) {
	sim := syntheticSimulated(1)
	c := NewCorrector(nil, discardLogger())

	t.Run("empty simulated", func(t *testing.T) {
		_, err := c.CorrectHistorical(History{Observed: sim})
		assert.ErrorIs(t, err, ErrDataUnavailable)
	})

	t.Run("empty observed", func(t *testing.T) {
		_, err := c.CorrectHistorical(History{Simulated: sim, Observed: TimeSeries{{Time: sim[0].Time, Value: math.NaN()}}})
		assert.ErrorIs(t, err, ErrDataUnavailable)
	})

	t.Run("observed month missing", func(t *testing.T) {
		_, err := c.CorrectHistorical(History{Simulated: sim, Observed: withoutMonth(sim, time.July)})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDataUnavailable)
		assert.Contains(t, err.Error(), "July")
	})
}

// marchHistory has a simulated March envelope of exactly [5, 50].
func marchHistory() History {
	start := time.Date(2001, time.March, 1, 0, 0, 0, 0, time.UTC)
	sim := dailySeries(start, 31, func(_ time.Time, i int) float64 { return 5 + 45*float64(i)/30 })
	return History{Simulated: sim, Observed: scaled(sim, 1.1, 0)}
}

func TestCorrectEnsemble_ExcursionFactors(t *testing.T) {
	c := NewCorrector(stubFitter(2), discardLogger())
	times := stepTimes(time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC), 4, 6*time.Hour)
	raw := []float64{70, 2.5, 20, math.NaN()}
	e := makeEnsemble(t, times, func(_, i int) float64 { return raw[i] })

	corrected, err := c.CorrectEnsemble(e, marchHistory())
	require.NoError(t, err)

	for k, member := range corrected.Members {
		assert.InDelta(t, 67.2, member[0], 1e-9, "%s above the envelope: 48 * 70/50", MemberName(k+1))
		assert.InDelta(t, 1.5, member[1], 1e-9, "below the envelope: 3 * 2.5/5")
		assert.InDelta(t, 18.0, member[2], 1e-9, "inside the envelope")
		assert.True(t, math.IsNaN(member[3]))
	}
	assert.Equal(t, 70.0, e.Members[0][0], "input ensemble is not modified")
}

func TestCorrectEnsemble_BoundedInsideEnvelope(t *testing.T) {
	sim := syntheticSimulated(5)
	h := History{Simulated: sim, Observed: scaled(sim, 1.3, 4)}
	c := NewCorrector(nil, discardLogger())

	hist, err := c.CorrectHistorical(h)
	require.NoError(t, err)
	june := hist.InMonth(time.June).Values()
	lo, hi := june[0], june[0]
	for _, v := range june {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	simJune := sim.monthValues(time.June)
	minSim, maxSim := simJune[0], simJune[0]
	for _, v := range simJune {
		minSim = math.Min(minSim, v)
		maxSim = math.Max(maxSim, v)
	}

	times := stepTimes(time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), 40, 6*time.Hour)
	e := makeEnsemble(t, times, func(member, i int) float64 {
		frac := float64((member*31+i*17)%100) / 99
		return minSim + frac*(maxSim-minSim)
	})

	corrected, err := c.CorrectEnsemble(e, h)
	require.NoError(t, err)
	for _, member := range corrected.Members {
		for _, v := range member {
			assert.GreaterOrEqual(t, v, lo-1e-9)
			assert.LessOrEqual(t, v, hi+1e-9)
		}
	}

	t.Run("excursions are preserved", func(t *testing.T) {
		above := makeEnsemble(t, times[:1], func(_, _ int) float64 { return 2 * maxSim })
		out, err := c.CorrectEnsemble(above, h)
		require.NoError(t, err)
		assert.InDelta(t, 2*hi, out.Members[0][0], 1e-6)
	})
}

func TestCorrectEnsemble_Errors(t *testing.T) {
	c := NewCorrector(nil, discardLogger())

	t.Run("empty ensemble", func(t *testing.T) {
		_, err := c.CorrectEnsemble(Ensemble{}, marchHistory())
		assert.ErrorIs(t, err, ErrDataUnavailable)
	})

	t.Run("no history for the forecast month", func(t *testing.T) {
		times := stepTimes(time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC), 2, time.Hour)
		e := makeEnsemble(t, times, func(_, _ int) float64 { return 10 })
		_, err := c.CorrectEnsemble(e, marchHistory())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDataUnavailable)
		assert.Contains(t, err.Error(), "August")
	})
}

func TestCorrectRecords_SkipsFailingMonths(t *testing.T) {
	sim := withoutMonth(syntheticSimulated(3), time.April)
	h := History{Simulated: sim, Observed: scaled(sim, 1.2, 0)}
	c := NewCorrector(nil, discardLogger())

	start := time.Date(2024, time.March, 20, 0, 0, 0, 0, time.UTC)
	records := dailySeries(start, 52, func(_ time.Time, i int) float64 { return 20 + float64(i%9) })
	records[3].Value = math.NaN()

	rc, err := c.CorrectRecords(records, h)
	require.NoError(t, err)

	require.Len(t, rc.Gaps, 1)
	gap := rc.Gaps[0]
	assert.Equal(t, 2024, gap.Year)
	assert.Equal(t, 4, gap.Month)
	assert.Equal(t, 30, gap.Points)
	assert.ErrorIs(t, gap.Err, ErrDataUnavailable)
	assert.Contains(t, gap.Reason, "April")

	// 12 March days (one NaN dropped) + 10 May days
	assert.Len(t, rc.Series, 11+10)
	for i, p := range rc.Series {
		assert.NotEqual(t, time.April, p.Time.Month())
		if i > 0 {
			assert.True(t, p.Time.After(rc.Series[i-1].Time))
		}
	}
}

func TestCorrectRecords_UsesMonthOfEachSlice(t *testing.T) {
	c := NewCorrector(func(simulated, observed []float64) (Mapper, error) {
		// offset encodes the month's simulated minimum so slices are distinguishable
		return stubMapper{offset: -simulated[0]}, nil
	}, discardLogger())
	h := History{
		Simulated: TimeSeries{
			{Time: time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC), Value: 1},
			{Time: time.Date(2001, 1, 2, 0, 0, 0, 0, time.UTC), Value: 100},
			{Time: time.Date(2001, 2, 1, 0, 0, 0, 0, time.UTC), Value: 2},
			{Time: time.Date(2001, 2, 2, 0, 0, 0, 0, time.UTC), Value: 100},
		},
		Observed: TimeSeries{
			{Time: time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC), Value: 1},
			{Time: time.Date(2001, 2, 1, 0, 0, 0, 0, time.UTC), Value: 1},
		},
	}
	records := TimeSeries{
		{Time: time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), Value: 10},
		{Time: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), Value: 10},
	}

	rc, err := c.CorrectRecords(sortByTime(records), h)
	require.NoError(t, err)
	require.Len(t, rc.Series, 2)
	assert.Empty(t, rc.Gaps)
	assert.InDelta(t, 11.0, rc.Series[0].Value, 1e-9)
	assert.InDelta(t, 12.0, rc.Series[1].Value, 1e-9)
}

func TestCorrectRecords_Empty(t *testing.T) {
	_, err := NewCorrector(nil, discardLogger()).CorrectRecords(TimeSeries{{Time: time.Now(), Value: math.NaN()}}, marchHistory())
	assert.ErrorIs(t, err, ErrDataUnavailable)
}
