package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// EnsembleRows is the wire form of a forecast ensemble: one timestamp index
// and a column per member keyed ensemble_01..ensemble_52.
type EnsembleRows struct {
	Timestamps []string              `json:"timestamps"`
	Members    map[string][]*float64 `json:"members"`
}

// ForecastJob is one (reach, station, initialization date) unit of work as
// published by the scheduler.
type ForecastJob struct {
	ReachID            string       `json:"reach_id"`
	StationCode        string       `json:"station_code"`
	InitializationDate string       `json:"initialization_date"`
	Unit               string       `json:"unit,omitempty"`
	Simulated          []RawRow     `json:"simulated"`
	Observed           []RawRow     `json:"observed"`
	Records            []RawRow     `json:"records,omitempty"`
	Ensemble           EnsembleRows `json:"ensemble"`
}

// ParseForecastJob deserializes a RawEvent's value into a ForecastJob and
// checks its identity fields. Series content is validated during analysis.
func ParseForecastJob(raw RawEvent) (ForecastJob, error) {
	var job ForecastJob
	if err := json.Unmarshal(raw.Value, &job); err != nil {
		return ForecastJob{}, fmt.Errorf("parse forecast job: %w", err)
	}
	job.ReachID = strings.TrimSpace(job.ReachID)
	job.StationCode = strings.TrimSpace(job.StationCode)
	if job.ReachID == "" {
		return ForecastJob{}, fmt.Errorf("parse forecast job: reach_id is required: %w", ErrValidation)
	}
	if job.StationCode == "" {
		return ForecastJob{}, fmt.Errorf("parse forecast job: station_code is required: %w", ErrValidation)
	}
	if _, err := ParseTimestamp(job.InitializationDate); err != nil {
		return ForecastJob{}, fmt.Errorf("parse forecast job: initialization_date: %w", err)
	}
	return job, nil
}

// Align converts the wire ensemble into an Ensemble with the same alignment
// rules as AlignRows: second resolution, ascending, first duplicate wins and
// values floored at MinValue.
func (r EnsembleRows) Align() (Ensemble, error) {
	columns := make([][]*float64, EnsembleMembers)
	for k := range columns {
		name := MemberName(k + 1)
		col, ok := r.Members[name]
		if !ok {
			return Ensemble{}, fmt.Errorf("ensemble member %s missing: %w", name, ErrValidation)
		}
		if len(col) != len(r.Timestamps) {
			return Ensemble{}, fmt.Errorf("%s has %d values for %d timestamps: %w", name, len(col), len(r.Timestamps), ErrValidation)
		}
		columns[k] = col
	}

	type row struct {
		time  time.Time
		index int
	}
	rows := make([]row, len(r.Timestamps))
	for i, ts := range r.Timestamps {
		t, err := ParseTimestamp(ts)
		if err != nil {
			return Ensemble{}, fmt.Errorf("ensemble row %d: %w", i, err)
		}
		rows[i] = row{time: t, index: i}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].time.Before(rows[j].time) })

	times := make([]time.Time, 0, len(rows))
	members := make([][]float64, EnsembleMembers)
	for _, rw := range rows {
		if n := len(times); n > 0 && times[n-1].Equal(rw.time) {
			continue
		}
		times = append(times, rw.time)
		for k, col := range columns {
			v := math.NaN()
			if p := col[rw.index]; p != nil {
				v = *p
			}
			members[k] = append(members[k], floorValue(v))
		}
	}
	return NewEnsemble(times, members)
}

// Result statuses.
const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
)

// ForecastResult is the analyzed outcome of one ForecastJob.
type ForecastResult struct {
	ID                 string          `json:"id"`
	ReachID            string          `json:"reach_id"`
	StationCode        string          `json:"station_code"`
	InitializationDate string          `json:"initialization_date"`
	Unit               string          `json:"unit,omitempty"`
	Status             string          `json:"status"`
	FailedStage        string          `json:"failed_stage,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	ReturnPeriods      *ReturnPeriods  `json:"return_periods,omitempty"`
	Summary            EnsembleSummary `json:"summary,omitempty"`
	Records            TimeSeries      `json:"corrected_records,omitempty"`
	RecordGaps         []MonthGap      `json:"record_gaps,omitempty"`
	RecordsError       string          `json:"records_error,omitempty"`
	Alerts             AlertReport     `json:"alerts"`
	ProcessedAt        time.Time       `json:"processed_at"`
}

// SerializeForecastResult converts a ForecastResult into an OutputEvent keyed
// by reach so results for one reach stay ordered on a partition.
func SerializeForecastResult(result ForecastResult) (OutputEvent, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize forecast result: %w", err)
	}
	return OutputEvent{
		Key:   []byte(result.ReachID),
		Value: data,
		Headers: map[string]string{
			"result_id":    result.ID,
			"status":       result.Status,
			"rollup":       result.Alerts.Rollup.String(),
			"processed_at": result.ProcessedAt.Format(time.RFC3339),
		},
	}, nil
}
