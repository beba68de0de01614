// Command validate runs the forecast engine over a job fixture and checks the
// properties every analyzed forecast must satisfy: ordered return-period
// thresholds, ordered ensemble summaries, forecasts bounded by the corrected
// history, exact round trips for identical distributions, and consistent
// alert slots. When a result fixture is given it is compared field by field.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -job data/mock/forecast_job_9007781_20240601.json \
//	  -result data/mock/forecast_result_9007781_20240601.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/hydro-forecast-etl/internal/domain"
	"github.com/jonboulle/clockwork"
	"gonum.org/v1/gonum/floats"
)

const tolerance = 1e-9

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// fixture bundles the inputs and intermediate products shared by the phases.
type fixture struct {
	job       domain.ForecastJob
	engine    *domain.Engine
	corrector *domain.Corrector
	history   domain.HistoryAnalysis
	raw       domain.Ensemble
	result    domain.ForecastResult
}

func main() {
	jobPath := flag.String("job", "", "path to the forecast job fixture")
	resultPath := flag.String("result", "", "optional path to the expected result fixture")
	trigger := flag.Float64("trigger", 20, "alert trigger percentage")
	flag.Parse()

	if *jobPath == "" {
		flag.Usage()
		os.Exit(1)
	}
	os.Exit(run(*jobPath, *resultPath, *trigger))
}

func run(jobPath, resultPath string, trigger float64) int {
	fmt.Println("=== Forecast Fixture Validation ===")
	fmt.Println()

	fx, err := load(jobPath, trigger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateReturnPeriods(fx),
		validateIdentityRoundTrip(fx),
		validateBoundedForecast(fx),
		validateSummary(fx),
		validateAlerts(fx),
		validateEscalation(fx),
	}
	if resultPath != "" {
		phases = append(phases, validateResultFixture(fx, resultPath))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Reach %s station %s: %d simulated, %d observed, %d ensemble rows, rollup %s\n",
		fx.job.ReachID, fx.job.StationCode, len(fx.history.History.Simulated),
		len(fx.history.History.Observed), fx.raw.Len(), fx.result.Alerts.Rollup)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func load(jobPath string, trigger float64) (*fixture, error) {
	data, err := os.ReadFile(jobPath)
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	job, err := domain.ParseForecastJob(domain.RawEvent{Value: data})
	if err != nil {
		return nil, err
	}

	// Match genmock so result IDs and timestamps line up.
	initAt, err := domain.ParseTimestamp(job.InitializationDate)
	if err != nil {
		return nil, err
	}
	domain.SetClock(clockwork.NewFakeClockAt(initAt.Add(6 * time.Hour)))
	defer domain.SetClock(nil)

	alerts, err := domain.NewAlertEngine(trigger)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fx := &fixture{job: job, corrector: domain.NewCorrector(nil, logger)}
	fx.engine = domain.NewEngine(fx.corrector, alerts, logger)

	h, err := domain.AlignHistory(job)
	if err != nil {
		return nil, err
	}
	if fx.history, err = fx.engine.AnalyzeHistory(job.ReachID, h); err != nil {
		return nil, err
	}
	if fx.raw, err = job.Ensemble.Align(); err != nil {
		return nil, err
	}
	if fx.result, err = fx.engine.Forecast(job, fx.history); err != nil {
		return nil, err
	}
	return fx, nil
}

func validateReturnPeriods(fx *fixture) *phase {
	p := &phase{name: "Return periods strictly increasing"}
	th := fx.history.ReturnPeriods.Thresholds()
	for i, t := range th {
		if math.IsNaN(t.Value) || math.IsInf(t.Value, 0) {
			p.errorf("RP%d is not finite: %g", t.Years, t.Value)
		}
		if i > 0 && !(t.Value > th[i-1].Value) {
			p.errorf("RP%d (%g) <= RP%d (%g)", t.Years, t.Value, th[i-1].Years, th[i-1].Value)
		}
	}
	return p
}

func validateIdentityRoundTrip(fx *fixture) *phase {
	p := &phase{name: "Identical distributions round trip"}
	sim := fx.history.History.Simulated
	out, err := fx.corrector.CorrectHistorical(domain.History{Simulated: sim, Observed: sim})
	if err != nil {
		p.errorf("correct: %v", err)
		return p
	}
	want := sim.DropNaN()
	if len(out) != len(want) {
		p.errorf("corrected %d points, want %d", len(out), len(want))
		return p
	}
	for i := range out {
		if math.Abs(out[i].Value-want[i].Value) > tolerance {
			p.errorf("%s: %g != %g", out[i].Time.Format(domain.TimestampLayout), out[i].Value, want[i].Value)
		}
	}
	return p
}

func validateBoundedForecast(fx *fixture) *phase {
	p := &phase{name: "Forecast within corrected envelope"}
	if fx.raw.Len() == 0 {
		p.errorf("empty ensemble")
		return p
	}
	month := fx.raw.Times[0].Month()
	simMonth := fx.history.History.Simulated.DropNaN().InMonth(month).Values()
	corrMonth := fx.history.Corrected.InMonth(month).Values()
	if len(simMonth) == 0 || len(corrMonth) == 0 {
		p.errorf("no history for %s", month)
		return p
	}
	simLo, simHi := floats.Min(simMonth), floats.Max(simMonth)
	lo, hi := floats.Min(corrMonth), floats.Max(corrMonth)

	corrected, err := fx.corrector.CorrectEnsemble(fx.raw, fx.history.History)
	if err != nil {
		p.errorf("correct ensemble: %v", err)
		return p
	}
	checked := 0
	for k, member := range fx.raw.Members {
		for i, v := range member {
			if math.IsNaN(v) || v < simLo || v > simHi {
				continue
			}
			checked++
			if c := corrected.Members[k][i]; c < lo-tolerance || c > hi+tolerance {
				p.errorf("%s row %d: %g corrected to %g outside [%g, %g]", domain.MemberName(k+1), i, v, c, lo, hi)
			}
		}
	}
	fmt.Printf("  bounded check: %d in-envelope values for %s\n", checked, month)
	return p
}

func validateSummary(fx *fixture) *phase {
	p := &phase{name: "Ensemble summary ordered"}
	if len(fx.result.Summary) == 0 {
		p.errorf("empty summary")
	}
	for _, row := range fx.result.Summary {
		b := row.QuantileBand
		if b == nil {
			continue
		}
		if !(b.Min <= b.P25 && b.P25 <= b.Median && b.Median <= b.P75 && b.P75 <= b.Max) {
			p.errorf("%s: %+v not ordered", row.Time.Format(domain.TimestampLayout), *b)
		}
	}
	return p
}

func validateAlerts(fx *fixture) *phase {
	p := &phase{name: "Alert slots consistent"}
	report := fx.result.Alerts
	worst := domain.AlertUnavailable
	filled := 0
	for _, day := range report.Days {
		if day.Level > worst {
			worst = day.Level
		}
	}
	for i, level := range report.Slots {
		if level != domain.AlertUnavailable {
			filled++
		}
		if level > report.Rollup {
			p.errorf("slot d%02d (%s) exceeds rollup %s", i+1, level, report.Rollup)
		}
	}
	if report.Rollup != worst {
		p.errorf("rollup %s, worst day %s", report.Rollup, worst)
	}
	if want := min(len(report.Days), domain.ForecastSlots); filled != want {
		p.errorf("%d slots filled for %d forecast days", filled, len(report.Days))
	}
	return p
}

func validateEscalation(fx *fixture) *phase {
	p := &phase{name: "Alerts monotonic in forecast flows"}
	scaled := domain.Ensemble{Times: fx.raw.Times, Members: make([][]float64, len(fx.raw.Members))}
	for k, member := range fx.raw.Members {
		col := make([]float64, len(member))
		floats.ScaleTo(col, 1.5, member)
		scaled.Members[k] = col
	}
	job := fx.job
	job.Records = nil
	job.Ensemble = rowsOf(scaled)
	higher, err := fx.engine.Forecast(job, fx.history)
	if err != nil {
		p.errorf("forecast scaled ensemble: %v", err)
		return p
	}
	for i := range higher.Alerts.Slots {
		if higher.Alerts.Slots[i] < fx.result.Alerts.Slots[i] {
			p.errorf("d%02d dropped from %s to %s", i+1, fx.result.Alerts.Slots[i], higher.Alerts.Slots[i])
		}
	}
	return p
}

func validateResultFixture(fx *fixture, path string) *phase {
	p := &phase{name: "Result fixture matches engine output"}
	data, err := os.ReadFile(path)
	if err != nil {
		p.errorf("read: %v", err)
		return p
	}
	var want domain.ForecastResult
	if err := json.Unmarshal(data, &want); err != nil {
		p.errorf("decode: %v", err)
		return p
	}
	got := fx.result
	if want.ID != got.ID {
		p.errorf("id %s, engine %s", want.ID, got.ID)
	}
	if want.Status != got.Status {
		p.errorf("status %s, engine %s", want.Status, got.Status)
	}
	if want.Alerts.Slots != got.Alerts.Slots || want.Alerts.Rollup != got.Alerts.Rollup {
		p.errorf("alerts %v/%s, engine %v/%s", want.Alerts.Slots, want.Alerts.Rollup, got.Alerts.Slots, got.Alerts.Rollup)
	}
	if want.ReturnPeriods == nil || got.ReturnPeriods == nil {
		p.errorf("missing return periods")
		return p
	}
	wantTh, gotTh := want.ReturnPeriods.Thresholds(), got.ReturnPeriods.Thresholds()
	for i := range wantTh {
		if math.Abs(wantTh[i].Value-gotTh[i].Value) > 1e-6 {
			p.errorf("RP%d %g, engine %g", wantTh[i].Years, wantTh[i].Value, gotTh[i].Value)
		}
	}
	if len(want.Summary) != len(got.Summary) {
		p.errorf("summary rows %d, engine %d", len(want.Summary), len(got.Summary))
	}
	return p
}

// rowsOf converts an aligned ensemble back to its wire form.
func rowsOf(e domain.Ensemble) domain.EnsembleRows {
	rows := domain.EnsembleRows{Members: make(map[string][]*float64, len(e.Members))}
	for _, t := range e.Times {
		rows.Timestamps = append(rows.Timestamps, t.Format(domain.TimestampLayout))
	}
	for k, member := range e.Members {
		col := make([]*float64, len(member))
		for i, v := range member {
			if !math.IsNaN(v) {
				col[i] = &v
			}
		}
		rows.Members[domain.MemberName(k+1)] = col
	}
	return rows
}
