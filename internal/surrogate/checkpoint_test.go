package surrogate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"calibflow/models"
)

func TestCheckpointRoundTrip(t *testing.T) {
	x, y := trainingData(t, 24)
	cfg := trainerConfig()
	cfg.Epochs = 20

	model, _, err := NewTrainer(cfg).Train(context.Background(), x, y)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "checkpoints", "surrogate.json")
	require.NoError(t, model.Save(path))

	loaded, err := LoadModel(path)
	require.NoError(t, err)
	require.Equal(t, model.Net.Sizes(), loaded.Net.Sizes())

	params := models.HestonParams{Mu: 0.03, Kappa: 3.0, Theta: 0.06, Sigma: 0.5, Rho: -0.4}
	want, err := model.Predict(params)
	require.NoError(t, err)
	got, err := loaded.Predict(params)
	require.NoError(t, err)
	require.Equal(t, want, got, "a reloaded model must predict identically")
}

func TestLoadModelMissingFile(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadModelRejectsBadPayloads(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, cp checkpointFile) string {
		data, err := json.Marshal(cp)
		require.NoError(t, err)
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o644))
		return path
	}

	scaler2 := &Scaler{Min: []float64{0, 0}, Max: []float64{1, 1}}
	scaler1 := &Scaler{Min: []float64{0}, Max: []float64{1}}

	cases := []struct {
		name string
		cp   checkpointFile
	}{
		{"bad version", checkpointFile{Version: 9, Sizes: []int{2, 1},
			Weights: [][]float64{{1, 2}}, Biases: [][]float64{{0}},
			XScaler: scaler2, YScaler: scaler1}},
		{"too few sizes", checkpointFile{Version: 1, Sizes: []int{2},
			XScaler: scaler2, YScaler: scaler1}},
		{"layer count mismatch", checkpointFile{Version: 1, Sizes: []int{2, 1},
			Weights: nil, Biases: [][]float64{{0}},
			XScaler: scaler2, YScaler: scaler1}},
		{"missing scalers", checkpointFile{Version: 1, Sizes: []int{2, 1},
			Weights: [][]float64{{1, 2}}, Biases: [][]float64{{0}}}},
		{"scaler width mismatch", checkpointFile{Version: 1, Sizes: []int{2, 1},
			Weights: [][]float64{{1, 2}}, Biases: [][]float64{{0}},
			XScaler: scaler1, YScaler: scaler1}},
		{"truncated weights", checkpointFile{Version: 1, Sizes: []int{2, 1},
			Weights: [][]float64{{1}}, Biases: [][]float64{{0}},
			XScaler: scaler2, YScaler: scaler1}},
		{"truncated biases", checkpointFile{Version: 1, Sizes: []int{2, 1},
			Weights: [][]float64{{1, 2}}, Biases: [][]float64{{}},
			XScaler: scaler2, YScaler: scaler1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadModel(write("cp.json", tc.cp))
			require.Error(t, err)
		})
	}
}

func TestLoadModelRejectsCorruptJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := LoadModel(path)
	require.Error(t, err)
}
