package corpus

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	appconfig "calibflow/config"
	"calibflow/models"
)

func testWriterConfig(dir string) *appconfig.Config {
	return &appconfig.Config{
		Calibflow: appconfig.CalibflowConfig{Name: "test", Version: "0"},
		Simulation: appconfig.SimulationConfig{
			Spot: 100, Variance: 0.04, Horizon: 1, Steps: 252, Paths: 64, BaseSeed: 7,
		},
		Grid: appconfig.GridConfig{
			Mu:    appconfig.AxisConfig{Min: 0, Max: 0.1, Count: 2},
			Kappa: appconfig.AxisConfig{Min: 1, Max: 3, Count: 3},
			Theta: appconfig.AxisConfig{Min: 0.04, Max: 0.04, Count: 1},
			Sigma: appconfig.AxisConfig{Min: 0.5, Max: 0.5, Count: 1},
			Rho:   appconfig.AxisConfig{Min: -0.7, Max: 0, Count: 1},
		},
		Surface: appconfig.SurfaceConfig{
			Strikes:    []float64{90, 100, 110},
			Maturities: []appconfig.MaturityConfig{{Steps: 252, Years: 1}},
		},
		Corpus: appconfig.CorpusConfig{
			Dir:           dir,
			Dataset:       "heston_test",
			Compression:   "snappy",
			MaxWorkers:    1,
			FileRecords:   4,
			FlushInterval: time.Hour,
		},
	}
}

// makeRecord fabricates a record with full-mantissa floats so the round trip
// test can catch any precision loss.
func makeRecord(runID string, cell int) models.SurfaceRecord {
	f := float64(cell + 1)
	return models.SurfaceRecord{
		RunID:     runID,
		CellIndex: int64(cell),
		Seed:      int64(cell)*7919 + 13,
		Mu:        math.Sqrt2 / (10 * f),
		Kappa:     math.Pi / f,
		Theta:     1.0 / (3.0 * f),
		Sigma:     math.E / (10 * f),
		Rho:       -1.0 / (7.0 * f),
		Spot:      100,
		Variance:  0.04,
		Prices: []float64{
			math.Pi * f,
			math.Sqrt(f) / 3,
			1.0/f + 1e-13,
		},
		GeneratedAt: time.Now().UTC(),
	}
}

func TestCorpusRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := testWriterConfig(dir)
	const runID = "run-roundtrip"

	ch := make(chan models.SurfaceBatch, 4)
	w, err := NewCorpusWriter(cfg, ch)
	if err != nil {
		t.Fatalf("NewCorpusWriter failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	want := make([]models.SurfaceRecord, 6)
	for i := range want {
		want[i] = makeRecord(runID, i)
	}
	ch <- models.SurfaceBatch{BatchID: "b1", RunID: runID, Records: want[:4], RecordCount: 4}
	ch <- models.SurfaceBatch{BatchID: "b2", RunID: runID, Records: want[4:], RecordCount: 2}
	close(ch)
	w.Stop()

	stats := w.Stats()
	if stats.FilesWritten != 2 || stats.RecordsWritten != 6 {
		t.Fatalf("stats = %+v, want 2 files 6 records", stats)
	}
	if stats.ErrorsCount != 0 {
		t.Fatalf("writer reported %d errors", stats.ErrorsCount)
	}

	data, err := LoadRun(dir, cfg.Corpus.Dataset, runID)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	if err := data.Validate(); err != nil {
		t.Fatalf("loaded run failed validation: %v", err)
	}
	if len(data.Records) != len(want) {
		t.Fatalf("loaded %d records, want %d", len(data.Records), len(want))
	}

	for i, got := range data.Records {
		exp := want[i]
		if got.RunID != exp.RunID || got.CellIndex != exp.CellIndex || got.Seed != exp.Seed {
			t.Fatalf("record %d identity mismatch: %+v", i, got)
		}
		if got.Mu != exp.Mu || got.Kappa != exp.Kappa || got.Theta != exp.Theta ||
			got.Sigma != exp.Sigma || got.Rho != exp.Rho {
			t.Fatalf("record %d parameters not bit-identical: got %+v want %+v", i, got, exp)
		}
		if got.Spot != exp.Spot || got.Variance != exp.Variance {
			t.Fatalf("record %d market state mismatch", i)
		}
		if len(got.Prices) != len(exp.Prices) {
			t.Fatalf("record %d has %d prices, want %d", i, len(got.Prices), len(exp.Prices))
		}
		for j := range exp.Prices {
			if got.Prices[j] != exp.Prices[j] {
				t.Fatalf("record %d price %d not bit-identical: %v vs %v",
					i, j, got.Prices[j], exp.Prices[j])
			}
		}
		if got.GeneratedAt.UnixMilli() != exp.GeneratedAt.UnixMilli() {
			t.Fatalf("record %d timestamp mismatch", i)
		}
	}

	if data.Manifest == nil {
		t.Fatal("run manifest not loaded")
	}
	if data.Manifest.TotalFiles != 2 || data.Manifest.TotalRecords != 6 {
		t.Fatalf("manifest totals = %d/%d, want 2/6", data.Manifest.TotalFiles, data.Manifest.TotalRecords)
	}
	if data.Manifest.Run.BaseSeed != 7 || len(data.Manifest.Run.Axes) != 5 {
		t.Fatalf("manifest run info incomplete: %+v", data.Manifest.Run)
	}

	catalog := filepath.Join(dir, "catalog", "heston_test.json")
	if _, err := os.Stat(catalog); err != nil {
		t.Fatalf("catalog entry not written: %v", err)
	}
}

func TestCorpusMatrices(t *testing.T) {
	dir := t.TempDir()
	cfg := testWriterConfig(dir)
	const runID = "run-matrices"

	ch := make(chan models.SurfaceBatch, 1)
	w, err := NewCorpusWriter(cfg, ch)
	if err != nil {
		t.Fatalf("NewCorpusWriter failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	records := []models.SurfaceRecord{makeRecord(runID, 0), makeRecord(runID, 1)}
	ch <- models.SurfaceBatch{BatchID: "b", RunID: runID, Records: records, RecordCount: 2}
	close(ch)
	w.Stop()

	data, err := LoadRun(dir, cfg.Corpus.Dataset, runID)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	x, y, err := data.Matrices()
	if err != nil {
		t.Fatalf("Matrices failed: %v", err)
	}

	rows, cols := x.Dims()
	if rows != 2 || cols != models.NumParams {
		t.Fatalf("X is %dx%d, want 2x%d", rows, cols, models.NumParams)
	}
	rows, cols = y.Dims()
	if rows != 2 || cols != 3 {
		t.Fatalf("Y is %dx%d, want 2x3", rows, cols)
	}
	if x.At(1, 1) != records[1].Kappa {
		t.Fatalf("X(1,1) = %v, want kappa %v", x.At(1, 1), records[1].Kappa)
	}
	if y.At(0, 2) != records[0].Prices[2] {
		t.Fatalf("Y(0,2) = %v, want %v", y.At(0, 2), records[0].Prices[2])
	}
}

func TestLoadRunMissing(t *testing.T) {
	if _, err := LoadRun(t.TempDir(), "nope", "absent"); !errors.Is(err, ErrEmptyRun) {
		t.Fatalf("err = %v, want ErrEmptyRun", err)
	}
}

func TestLatestRun(t *testing.T) {
	dir := t.TempDir()

	if _, err := LatestRun(dir, "heston_test"); !errors.Is(err, ErrEmptyRun) {
		t.Fatalf("empty dataset: err = %v, want ErrEmptyRun", err)
	}

	older := RunDir(dir, "heston_test", "run-a")
	newer := RunDir(dir, "heston_test", "run-b")
	if err := os.MkdirAll(older, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(newer, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	got, err := LatestRun(dir, "heston_test")
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if got != "run-b" {
		t.Fatalf("LatestRun = %q, want run-b", got)
	}
}

func TestValidateDetectsGaps(t *testing.T) {
	d := &RunData{Records: []models.SurfaceRecord{
		{CellIndex: 0, Prices: []float64{1}},
		{CellIndex: 2, Prices: []float64{1}},
	}}
	if err := d.Validate(); !errors.Is(err, ErrCorruptRun) {
		t.Fatalf("err = %v, want ErrCorruptRun", err)
	}

	d = &RunData{Records: []models.SurfaceRecord{
		{CellIndex: 0, Prices: []float64{1, 2}},
		{CellIndex: 1, Prices: []float64{1}},
	}}
	if err := d.Validate(); !errors.Is(err, ErrCorruptRun) {
		t.Fatalf("ragged widths: err = %v, want ErrCorruptRun", err)
	}
}
