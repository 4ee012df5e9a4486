package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DataFile describes a single parquet part file written by the corpus writer.
type DataFile struct {
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
	Timestamp   time.Time      `json:"-"`
}

// ManifestEntry mirrors the information kept in an Iceberg manifest file.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot holds minimal information required for time-travel queries.
type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest-list"`
}

// AxisInfo records one parameter range of the sweep.
type AxisInfo struct {
	Name  string  `json:"name"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// MaturityInfo records one maturity of the price surface layout.
type MaturityInfo struct {
	Steps int     `json:"steps"`
	Years float64 `json:"years"`
}

// RunInfo captures everything needed to regenerate or reuse a corpus run:
// the market state, discretisation, seed, parameter axes and surface layout.
type RunInfo struct {
	Dataset    string         `json:"dataset"`
	RunID      string         `json:"run_id"`
	Spot       float64        `json:"spot"`
	Variance   float64        `json:"variance"`
	Horizon    float64        `json:"horizon"`
	Steps      int            `json:"steps"`
	Paths      int            `json:"paths"`
	BaseSeed   int64          `json:"base_seed"`
	Axes       []AxisInfo     `json:"axes"`
	Strikes    []float64      `json:"strikes"`
	Maturities []MaturityInfo `json:"maturities"`
}

// SchemaFingerprint hashes the record layout of the run. Corpora with equal
// fingerprints have comparable rows: same axes order, same surface shape.
func (r RunInfo) SchemaFingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "spot=%v;variance=%v;horizon=%v;steps=%d;paths=%d;", r.Spot, r.Variance, r.Horizon, r.Steps, r.Paths)
	for _, a := range r.Axes {
		fmt.Fprintf(&b, "axis=%s:%v:%v:%d;", a.Name, a.Min, a.Max, a.Count)
	}
	for _, k := range r.Strikes {
		fmt.Fprintf(&b, "strike=%v;", k)
	}
	for _, m := range r.Maturities {
		fmt.Fprintf(&b, "maturity=%d:%v;", m.Steps, m.Years)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// RunManifest is the top level metadata file of one corpus run.
type RunManifest struct {
	FormatVersion     int        `json:"format-version"`
	RunUUID           string     `json:"run-uuid"`
	Location          string     `json:"location"`
	Run               RunInfo    `json:"run"`
	SchemaFingerprint string     `json:"schema-fingerprint"`
	TotalFiles        int64      `json:"total-files"`
	TotalRecords      int64      `json:"total-records"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Generator incrementally builds run metadata as part files land on disk.
// Safe for concurrent use by the writer workers.
type Generator struct {
	basePath string
	run      RunInfo
	runUUID  string

	mu           sync.Mutex
	snapshots    []Snapshot
	totalFiles   int64
	totalRecords int64
}

// NewGenerator returns a metadata generator rooted at basePath, normally the
// run directory holding the part files.
func NewGenerator(basePath string, run RunInfo) *Generator {
	return &Generator{
		basePath: basePath,
		run:      run,
		runUUID:  uuid.NewString(),
	}
}

// AddFile records a newly written parquet file and updates run metadata.
func (g *Generator) AddFile(df DataFile) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	snapID := df.Timestamp.UnixNano()
	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)
	manifestPath := filepath.Join(g.basePath, "metadata", manifestFile)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return err
	}
	entry := ManifestEntry{Status: 1, DataFile: df}
	b, err := json.Marshal([]ManifestEntry{entry})
	if err != nil {
		return err
	}
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return err
	}
	snapshot := Snapshot{
		SnapshotID:  snapID,
		TimestampMs: df.Timestamp.UnixMilli(),
		Manifest:    manifestFile,
	}
	g.snapshots = append(g.snapshots, snapshot)
	g.totalFiles++
	g.totalRecords += df.RecordCount
	return g.writeRunManifest()
}

func (g *Generator) writeRunManifest() error {
	if len(g.snapshots) == 0 {
		return nil
	}
	rm := RunManifest{
		FormatVersion:     2,
		RunUUID:           g.runUUID,
		Location:          g.basePath,
		Run:               g.run,
		SchemaFingerprint: g.run.SchemaFingerprint(),
		TotalFiles:        g.totalFiles,
		TotalRecords:      g.totalRecords,
		CurrentSnapshotID: g.snapshots[len(g.snapshots)-1].SnapshotID,
		Snapshots:         g.snapshots,
	}
	metaPath := filepath.Join(g.basePath, "metadata", "manifest.json")
	b, err := json.MarshalIndent(rm, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, b, 0o644)
}

// WriteCatalogEntry creates a catalog entry pointing the dataset name at the
// latest run manifest.
func (g *Generator) WriteCatalogEntry(catalogDir string) error {
	metaLoc := filepath.Join(g.basePath, "metadata", "manifest.json")
	entry := map[string]string{
		"name":              g.run.Dataset,
		"run_id":            g.run.RunID,
		"metadata_location": metaLoc,
	}
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(catalogDir, fmt.Sprintf("%s.json", g.run.Dataset))
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ReadRunManifest loads the manifest of a run directory.
func ReadRunManifest(runDir string) (*RunManifest, error) {
	b, err := os.ReadFile(filepath.Join(runDir, "metadata", "manifest.json"))
	if err != nil {
		return nil, err
	}
	var rm RunManifest
	if err := json.Unmarshal(b, &rm); err != nil {
		return nil, fmt.Errorf("failed to parse run manifest: %w", err)
	}
	return &rm, nil
}
