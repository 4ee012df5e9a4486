package surrogate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"
)

const checkpointVersion = 1

// checkpointFile is the JSON layout of a saved model. Weights are stored
// row-major per layer so a checkpoint can be rebuilt without guessing
// at orientation.
type checkpointFile struct {
	Version int         `json:"version"`
	SavedAt time.Time   `json:"saved_at"`
	Sizes   []int       `json:"sizes"`
	Weights [][]float64 `json:"weights"`
	Biases  [][]float64 `json:"biases"`
	XScaler *Scaler     `json:"x_scaler"`
	YScaler *Scaler     `json:"y_scaler"`
}

// Save writes the model to path as JSON, creating parent directories as
// needed.
func (m *Model) Save(path string) error {
	cp := checkpointFile{
		Version: checkpointVersion,
		SavedAt: time.Now().UTC(),
		Sizes:   m.Net.Sizes(),
		XScaler: m.XScaler,
		YScaler: m.YScaler,
	}
	for _, w := range m.Net.weights {
		r, c := w.Dims()
		row := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			row = append(row, w.RawRowView(i)...)
		}
		cp.Weights = append(cp.Weights, row)
	}
	for _, b := range m.Net.biases {
		cp.Biases = append(cp.Biases, append([]float64(nil), b.RawVector().Data...))
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// LoadModel reads a checkpoint written by Save and rebuilds the model. The
// stored shapes are validated before any matrix is constructed.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var cp checkpointFile
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}
	if len(cp.Sizes) < 2 {
		return nil, fmt.Errorf("checkpoint needs at least 2 layer sizes, got %d", len(cp.Sizes))
	}
	layers := len(cp.Sizes) - 1
	if len(cp.Weights) != layers || len(cp.Biases) != layers {
		return nil, fmt.Errorf("checkpoint holds %d weight and %d bias layers, want %d",
			len(cp.Weights), len(cp.Biases), layers)
	}
	if cp.XScaler == nil || cp.YScaler == nil {
		return nil, fmt.Errorf("checkpoint is missing scalers")
	}
	if err := cp.XScaler.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input scaler: %w", err)
	}
	if err := cp.YScaler.Validate(); err != nil {
		return nil, fmt.Errorf("invalid output scaler: %w", err)
	}
	if w := cp.XScaler.Width(); w != cp.Sizes[0] {
		return nil, fmt.Errorf("input scaler width %d does not match input layer %d", w, cp.Sizes[0])
	}
	if w := cp.YScaler.Width(); w != cp.Sizes[layers] {
		return nil, fmt.Errorf("output scaler width %d does not match output layer %d", w, cp.Sizes[layers])
	}

	net := &Network{sizes: append([]int(nil), cp.Sizes...)}
	for l := 0; l < layers; l++ {
		rows, cols := cp.Sizes[l+1], cp.Sizes[l]
		if len(cp.Weights[l]) != rows*cols {
			return nil, fmt.Errorf("layer %d holds %d weights, want %d", l, len(cp.Weights[l]), rows*cols)
		}
		if len(cp.Biases[l]) != rows {
			return nil, fmt.Errorf("layer %d holds %d biases, want %d", l, len(cp.Biases[l]), rows)
		}
		net.weights = append(net.weights, mat.NewDense(rows, cols, append([]float64(nil), cp.Weights[l]...)))
		net.biases = append(net.biases, mat.NewVecDense(rows, append([]float64(nil), cp.Biases[l]...)))
	}

	return &Model{Net: net, XScaler: cp.XScaler, YScaler: cp.YScaler}, nil
}
