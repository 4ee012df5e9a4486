package corpus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"gonum.org/v1/gonum/mat"

	"calibflow/internal/metadata"
	"calibflow/logger"
	"calibflow/models"
)

// ErrEmptyRun reports a run directory without part files.
var ErrEmptyRun = errors.New("corpus run holds no part files")

// ErrCorruptRun reports a run whose records disagree with its manifest or
// whose cell coverage has holes.
var ErrCorruptRun = errors.New("corpus run is inconsistent")

// RunData is a fully loaded corpus run, records sorted by cell index.
type RunData struct {
	Records  []models.SurfaceRecord
	Manifest *metadata.RunManifest
}

// RunDir returns the directory of a run inside the corpus tree.
func RunDir(dir, dataset, runID string) string {
	return filepath.Join(dir, fmt.Sprintf("dataset=%s", dataset), fmt.Sprintf("run=%s", runID))
}

// LatestRun returns the most recently modified run id under the dataset.
func LatestRun(dir, dataset string) (string, error) {
	runs, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("dataset=%s", dataset), "run=*"))
	if err != nil {
		return "", fmt.Errorf("list runs: %w", err)
	}

	var latest string
	var latestMod time.Time
	for _, run := range runs {
		info, err := os.Stat(run)
		if err != nil || !info.IsDir() {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = run
			latestMod = info.ModTime()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("dataset %s under %s: %w", dataset, dir, ErrEmptyRun)
	}
	return strings.TrimPrefix(filepath.Base(latest), "run="), nil
}

// LoadRun reads every part file of a corpus run back into memory. Prices and
// parameters come back bit-identical to what the writer was handed.
func LoadRun(dir, dataset, runID string) (*RunData, error) {
	runDir := RunDir(dir, dataset, runID)
	log := logger.GetLogger().WithComponent("corpus_loader").WithFields(logger.Fields{
		"dataset": dataset,
		"run_id":  runID,
	})

	parts, err := filepath.Glob(filepath.Join(runDir, "part-*.parquet"))
	if err != nil {
		return nil, fmt.Errorf("list part files: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%s: %w", runDir, ErrEmptyRun)
	}
	sort.Strings(parts)

	var records []models.SurfaceRecord
	for _, part := range parts {
		rows, err := readPartFile(part)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", part, err)
		}
		records = append(records, rows...)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].CellIndex < records[j].CellIndex })

	data := &RunData{Records: records}
	if manifest, err := metadata.ReadRunManifest(runDir); err == nil {
		data.Manifest = manifest
		if manifest.TotalRecords != int64(len(records)) {
			return nil, fmt.Errorf("manifest expects %d records, read %d: %w",
				manifest.TotalRecords, len(records), ErrCorruptRun)
		}
	} else {
		log.WithError(err).Warn("run manifest missing, skipping consistency check")
	}

	log.WithFields(logger.Fields{
		"part_files": len(parts),
		"records":    len(records),
	}).Info("corpus run loaded")

	return data, nil
}

func readPartFile(path string) ([]models.SurfaceRecord, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open part file: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(ParquetSurfaceRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	rows := make([]ParquetSurfaceRecord, num)
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}

	records := make([]models.SurfaceRecord, 0, num)
	for _, row := range rows {
		records = append(records, models.SurfaceRecord{
			RunID:       row.RunID,
			CellIndex:   row.CellIndex,
			Seed:        row.Seed,
			Mu:          row.Mu,
			Kappa:       row.Kappa,
			Theta:       row.Theta,
			Sigma:       row.Sigma,
			Rho:         row.Rho,
			Spot:        row.Spot,
			Variance:    row.Variance,
			Prices:      row.Prices,
			GeneratedAt: time.UnixMilli(row.GeneratedAt).UTC(),
		})
	}
	return records, nil
}

// Validate checks that the run covers cells 0..n-1 exactly once and that
// every record carries the same surface width.
func (d *RunData) Validate() error {
	if len(d.Records) == 0 {
		return ErrEmptyRun
	}
	width := len(d.Records[0].Prices)
	for i, rec := range d.Records {
		if rec.CellIndex != int64(i) {
			return fmt.Errorf("cell %d found at position %d: %w", rec.CellIndex, i, ErrCorruptRun)
		}
		if len(rec.Prices) != width {
			return fmt.Errorf("cell %d has %d prices, others have %d: %w",
				rec.CellIndex, len(rec.Prices), width, ErrCorruptRun)
		}
	}
	return nil
}

// Matrices lays the run out as training matrices: X holds one parameter
// vector per row, Y the matching flattened price surface.
func (d *RunData) Matrices() (x, y *mat.Dense, err error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}

	n := len(d.Records)
	width := len(d.Records[0].Prices)
	x = mat.NewDense(n, models.NumParams, nil)
	y = mat.NewDense(n, width, nil)
	for i, rec := range d.Records {
		x.SetRow(i, rec.Params().Vector())
		y.SetRow(i, rec.Prices)
	}
	return x, y, nil
}
