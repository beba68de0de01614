// Command genmock reads hydrological CSV exports for one reach and generates
// the forecast job fixture consumed by the ETL tests, plus the analyzed result
// the pipeline produces for it. It runs the actual domain engine so the result
// fixture matches real pipeline behavior.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -csv-dir data/mock \
//	  -reach 9007781 -station H0105 -init 2024-06-01 \
//	  -job-out data/mock/forecast_job_9007781_20240601.json \
//	  -result-out data/mock/forecast_result_9007781_20240601.json
//
// The CSV directory must contain simulated_<reach>.csv and
// observed_<reach>.csv (datetime,value), ensemble_<reach>_<yyyymmdd>.csv
// (datetime,ensemble_01..ensemble_52) and optionally records_<reach>.csv.
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/hydro-forecast-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvDir := flag.String("csv-dir", "", "directory containing the reach CSV exports")
	reach := flag.String("reach", "", "reach ID")
	station := flag.String("station", "", "station code")
	initDate := flag.String("init", "", "forecast initialization date (YYYY-MM-DD)")
	unit := flag.String("unit", "m3/s", "unit of the series")
	jobOut := flag.String("job-out", "", "output path for the forecast job fixture")
	resultOut := flag.String("result-out", "", "output path for the analyzed result fixture")
	trigger := flag.Float64("trigger", 20, "alert trigger percentage")
	flag.Parse()

	if *csvDir == "" || *reach == "" || *station == "" || *initDate == "" || *jobOut == "" || *resultOut == "" {
		flag.Usage()
		return errors.New("missing required flags: -csv-dir, -reach, -station, -init, -job-out, -result-out")
	}
	initAt, err := time.Parse("2006-01-02", *initDate)
	if err != nil {
		return fmt.Errorf("invalid -init: %w", err)
	}

	// Set a fixed clock for reproducible ProcessedAt timestamps.
	domain.SetClock(clockwork.NewFakeClockAt(initAt.Add(6 * time.Hour)))
	defer domain.SetClock(nil)

	job := domain.ForecastJob{
		ReachID:            *reach,
		StationCode:        *station,
		InitializationDate: *initDate,
		Unit:               *unit,
	}
	if job.Simulated, err = readSeriesCSV(filepath.Join(*csvDir, "simulated_"+*reach+".csv")); err != nil {
		return fmt.Errorf("simulated: %w", err)
	}
	if job.Observed, err = readSeriesCSV(filepath.Join(*csvDir, "observed_"+*reach+".csv")); err != nil {
		return fmt.Errorf("observed: %w", err)
	}
	ensembleFile := fmt.Sprintf("ensemble_%s_%s.csv", *reach, initAt.Format("20060102"))
	if job.Ensemble, err = readEnsembleCSV(filepath.Join(*csvDir, ensembleFile)); err != nil {
		return fmt.Errorf("ensemble: %w", err)
	}
	job.Records, err = readSeriesCSV(filepath.Join(*csvDir, "records_"+*reach+".csv"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("records: %w", err)
	}
	log.Printf("%s: %d simulated, %d observed, %d records, %d ensemble rows",
		job.ReachID, len(job.Simulated), len(job.Observed), len(job.Records), len(job.Ensemble.Timestamps))

	alerts, err := domain.NewAlertEngine(*trigger)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	engine := domain.NewEngine(domain.NewCorrector(nil, logger), alerts, logger)
	result := engine.Analyze(job)

	if err := writeJSON(*jobOut, job); err != nil {
		return fmt.Errorf("writing job fixture: %w", err)
	}
	log.Printf("wrote job fixture: %s", *jobOut)

	if err := writeJSON(*resultOut, result); err != nil {
		return fmt.Errorf("writing result fixture: %w", err)
	}
	log.Printf("wrote result fixture: %s", *resultOut)

	printStats(result)
	return nil
}

// readSeriesCSV reads a datetime,value export. Empty values become nulls.
func readSeriesCSV(path string) ([]domain.RawRow, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	ts, val := indexOf(header, "datetime"), indexOf(header, "value")
	if ts < 0 || val < 0 {
		return nil, fmt.Errorf("%s: want datetime and value columns, got %v", path, header)
	}

	out := make([]domain.RawRow, 0, len(rows))
	for i, row := range rows {
		v, err := parseValue(row[val])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		out = append(out, domain.RawRow{Timestamp: row[ts], Value: v})
	}
	return out, nil
}

// readEnsembleCSV reads a datetime,ensemble_01..ensemble_52 export.
func readEnsembleCSV(path string) (domain.EnsembleRows, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return domain.EnsembleRows{}, err
	}
	ts := indexOf(header, "datetime")
	if ts < 0 {
		return domain.EnsembleRows{}, fmt.Errorf("%s: missing datetime column", path)
	}

	ens := domain.EnsembleRows{Members: make(map[string][]*float64, domain.EnsembleMembers)}
	for _, row := range rows {
		ens.Timestamps = append(ens.Timestamps, row[ts])
	}
	for n := 1; n <= domain.EnsembleMembers; n++ {
		name := domain.MemberName(n)
		col := indexOf(header, name)
		if col < 0 {
			return domain.EnsembleRows{}, fmt.Errorf("%s: missing column %s", path, name)
		}
		values := make([]*float64, len(rows))
		for i, row := range rows {
			if values[i], err = parseValue(row[col]); err != nil {
				return domain.EnsembleRows{}, fmt.Errorf("%s row %d %s: %w", path, i+2, name, err)
			}
		}
		ens.Members[name] = values
	}
	return ens, nil
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%s: empty file", path)
		}
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	return header, rows, nil
}

func indexOf(header []string, col string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), col) {
			return i
		}
	}
	return -1
}

func parseValue(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", " ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(result domain.ForecastResult) {
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Result ID: %s\n", result.ID)
	fmt.Printf("Status: %s\n", result.Status)
	if result.Status != domain.StatusOK {
		fmt.Printf("Failed stage: %s (%s)\n", result.FailedStage, result.Reason)
		return
	}
	for _, th := range result.ReturnPeriods.Thresholds() {
		fmt.Printf("RP%-3d %10.3f\n", th.Years, th.Value)
	}
	fmt.Printf("Summary rows: %d\n", len(result.Summary))
	fmt.Printf("Corrected records: %d (gaps: %d)\n", len(result.Records), len(result.RecordGaps))
	fmt.Print("Slots:")
	for i, level := range result.Alerts.Slots {
		fmt.Printf(" d%02d=%s", i+1, level)
	}
	fmt.Printf("\nRollup: %s\n", result.Alerts.Rollup)
}
