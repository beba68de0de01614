package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ForecastSlots is the number of lead days reported per forecast cycle.
const ForecastSlots = 15

// AlertLevel classifies a forecast day against return-period thresholds.
// Levels are ordered: AlertUnavailable < R0 < R2 < ... < R100.
type AlertLevel int

const (
	// AlertUnavailable means the day could not be classified. It is never
	// reported as R0.
	AlertUnavailable AlertLevel = iota - 1
	R0
	R2
	R5
	R10
	R25
	R50
	R100
)

var alertNames = map[AlertLevel]string{
	AlertUnavailable: "unavailable",
	R0:               "R0",
	R2:               "R2",
	R5:               "R5",
	R10:              "R10",
	R25:              "R25",
	R50:              "R50",
	R100:             "R100",
}

var levelForYears = map[int]AlertLevel{2: R2, 5: R5, 10: R10, 25: R25, 50: R50, 100: R100}

func (l AlertLevel) String() string {
	if name, ok := alertNames[l]; ok {
		return name
	}
	return fmt.Sprintf("AlertLevel(%d)", int(l))
}

// MarshalText encodes the level by name.
func (l AlertLevel) MarshalText() ([]byte, error) {
	if _, ok := alertNames[l]; !ok {
		return nil, fmt.Errorf("unknown alert level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name written by MarshalText.
func (l *AlertLevel) UnmarshalText(text []byte) error {
	for level, name := range alertNames {
		if name == string(text) {
			*l = level
			return nil
		}
	}
	return fmt.Errorf("unknown alert level %q", text)
}

// AlertSlots holds one level per forecast lead day, d01..d15.
type AlertSlots [ForecastSlots]AlertLevel

// MarshalJSON encodes the slots as {"d01": ..., "d15": ...}.
func (s AlertSlots) MarshalJSON() ([]byte, error) {
	m := make(map[string]AlertLevel, ForecastSlots)
	for i, level := range s {
		m[slotName(i)] = level
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes slots written by MarshalJSON. Missing slots are unavailable.
func (s *AlertSlots) UnmarshalJSON(data []byte) error {
	var m map[string]AlertLevel
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for i := range s {
		level, ok := m[slotName(i)]
		if !ok {
			level = AlertUnavailable
		}
		s[i] = level
	}
	return nil
}

func slotName(i int) string { return fmt.Sprintf("d%02d", i+1) }

// Exceedance is the share of members whose daily maximum exceeded one threshold.
type Exceedance struct {
	Years     int     `json:"years"`
	Threshold float64 `json:"threshold"`
	Members   int     `json:"members"`
	Percent   float64 `json:"percent"`
}

// DayAlert is the classification of one forecast day.
type DayAlert struct {
	Date        string       `json:"date"`
	Level       AlertLevel   `json:"level"`
	Exceedances []Exceedance `json:"exceedances"`
}

// AlertReport is the per-day classification of one forecast cycle plus its
// 15-slot projection and the worst level across all days.
type AlertReport struct {
	Days   []DayAlert `json:"days,omitempty"`
	Slots  AlertSlots `json:"slots"`
	Rollup AlertLevel `json:"rollup"`
}

// UnavailableReport is the report of a forecast that could not be analyzed.
func UnavailableReport() AlertReport {
	var r AlertReport
	for i := range r.Slots {
		r.Slots[i] = AlertUnavailable
	}
	r.Rollup = AlertUnavailable
	return r
}

// AlertEngine classifies forecast days against return-period thresholds.
type AlertEngine struct {
	triggerPercent float64
}

// NewAlertEngine creates an engine that raises a level once at least
// triggerPercent of the ensemble members exceed its threshold.
func NewAlertEngine(triggerPercent float64) (*AlertEngine, error) {
	if !(triggerPercent > 0) || triggerPercent > 100 {
		return nil, fmt.Errorf("trigger percent %g must be in (0, 100]: %w", triggerPercent, ErrValidation)
	}
	return &AlertEngine{triggerPercent: triggerPercent}, nil
}

// TriggerPercent returns the configured exceedance trigger.
func (a *AlertEngine) TriggerPercent() float64 { return a.triggerPercent }

// Classify resamples every member to daily maxima and assigns each day the
// highest return period whose threshold is exceeded by at least the trigger
// percentage of all members. Members with no value on a day count as not
// exceeding. Day i of the forecast (from the first forecast date) fills slot
// d(i+1); slots without a forecast day stay unavailable.
func (a *AlertEngine) Classify(e Ensemble, rp ReturnPeriods) (AlertReport, error) {
	if len(e.Members) != EnsembleMembers {
		return AlertReport{}, fmt.Errorf("ensemble has %d members, want %d: %w", len(e.Members), EnsembleMembers, ErrValidation)
	}
	if e.Len() == 0 {
		return AlertReport{}, fmt.Errorf("ensemble: %w", ErrDataUnavailable)
	}

	days, maxima := dailyMaxima(e)
	thresholds := rp.Thresholds()
	total := len(e.Members)

	report := UnavailableReport()
	first := days[0]
	for d, day := range days {
		alert := DayAlert{Date: day.Format("2006-01-02"), Level: R0}
		for _, th := range thresholds {
			count := 0
			for _, member := range maxima {
				if v := member[d]; !math.IsNaN(v) && v > th.Value {
					count++
				}
			}
			pct := float64(count) * 100 / float64(total)
			alert.Exceedances = append(alert.Exceedances, Exceedance{
				Years:     th.Years,
				Threshold: th.Value,
				Members:   count,
				Percent:   pct,
			})
			if pct >= a.triggerPercent {
				alert.Level = levelForYears[th.Years]
			}
		}
		report.Days = append(report.Days, alert)

		lead := int(day.Sub(first).Hours() / 24)
		if lead < ForecastSlots {
			report.Slots[lead] = alert.Level
		}
		if alert.Level > report.Rollup {
			report.Rollup = alert.Level
		}
	}
	return report, nil
}

// dailyMaxima returns the distinct forecast dates and, per member, the maximum
// non-NaN value on each date (NaN when the member has none).
func dailyMaxima(e Ensemble) ([]time.Time, [][]float64) {
	var days []time.Time
	index := make([]int, e.Len())
	for i, t := range e.Times {
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		if len(days) == 0 || !days[len(days)-1].Equal(day) {
			days = append(days, day)
		}
		index[i] = len(days) - 1
	}

	maxima := make([][]float64, len(e.Members))
	for k, member := range e.Members {
		out := make([]float64, len(days))
		for d := range out {
			out[d] = math.NaN()
		}
		for i, v := range member {
			if math.IsNaN(v) {
				continue
			}
			if d := index[i]; math.IsNaN(out[d]) || v > out[d] {
				out[d] = v
			}
		}
		maxima[k] = out
	}
	return days, maxima
}
