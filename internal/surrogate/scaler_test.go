package surrogate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/mat"
)

func TestFitScalerBounds(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{
		1, -4,
		5, 0,
		3, 2,
	})
	s := FitScaler(x)
	require.Equal(t, []float64{1, -4}, s.Min)
	require.Equal(t, []float64{5, 2}, s.Max)
	require.Equal(t, 2, s.Width())
	require.NoError(t, s.Validate())
}

func TestScalerRoundTrip(t *testing.T) {
	x := mat.NewDense(4, 3, []float64{
		0.01, 0.5, -0.9,
		0.20, 4.0, 0.9,
		0.10, 2.0, 0.0,
		0.05, 1.0, -0.3,
	})
	s := FitScaler(x)

	in := []float64{0.10, 2.0, 0.0}
	scaled, err := s.ScaleVec(in)
	require.NoError(t, err)
	for _, v := range scaled {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 1.0)
	}

	back, err := s.InverseVec(scaled)
	require.NoError(t, err)
	for j := range in {
		require.InDelta(t, in[j], back[j], 1e-12)
	}
}

func TestScalerDegenerateColumn(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{
		7, 1,
		7, 2,
		7, 3,
	})
	s := FitScaler(x)

	scaled, err := s.ScaleVec([]float64{7, 2})
	require.NoError(t, err)
	require.Equal(t, 0.0, scaled[0])

	back, err := s.InverseVec([]float64{0.42, 0.5})
	require.NoError(t, err)
	require.Equal(t, 7.0, back[0], "degenerate column inverts to its single value")
}

func TestScalerShapeMismatch(t *testing.T) {
	s := FitScaler(mat.NewDense(2, 2, []float64{0, 0, 1, 1}))

	_, err := s.ScaleVec([]float64{1, 2, 3})
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = s.InverseVec([]float64{0.5})
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = s.Scale(mat.NewDense(2, 3, nil))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestScalerValidate(t *testing.T) {
	require.Error(t, (&Scaler{Min: []float64{0}, Max: []float64{1, 2}}).Validate())
	require.Error(t, (&Scaler{Min: []float64{math.NaN()}, Max: []float64{1}}).Validate())
	require.Error(t, (&Scaler{Min: []float64{0}, Max: []float64{math.Inf(1)}}).Validate())
	require.Error(t, (&Scaler{Min: []float64{2}, Max: []float64{1}}).Validate())
	require.NoError(t, (&Scaler{Min: []float64{1}, Max: []float64{1}}).Validate())
}

func TestScaleMatrix(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{
		0, 10,
		4, 30,
	})
	s := FitScaler(x)
	scaled, err := s.Scale(x)
	require.NoError(t, err)

	require.Equal(t, 0.0, scaled.At(0, 0))
	require.Equal(t, 1.0, scaled.At(1, 0))
	require.Equal(t, 0.0, scaled.At(0, 1))
	require.Equal(t, 1.0, scaled.At(1, 1))
}
