package surrogate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/mat"
)

func TestNewNetworkValidatesSizes(t *testing.T) {
	_, err := NewNetwork([]int{3}, 1)
	require.Error(t, err)

	_, err = NewNetwork([]int{3, 0, 2}, 1)
	require.Error(t, err)

	n, err := NewNetwork([]int{3, 4, 2}, 1)
	require.NoError(t, err)
	require.Equal(t, []int{3, 4, 2}, n.Sizes())
	require.Equal(t, 3, n.InputDim())
	require.Equal(t, 2, n.OutputDim())
}

func TestNewNetworkDeterministicBySeed(t *testing.T) {
	in := []float64{0.3, -0.2, 0.9}

	a, err := NewNetwork([]int{3, 5, 2}, 11)
	require.NoError(t, err)
	b, err := NewNetwork([]int{3, 5, 2}, 11)
	require.NoError(t, err)
	c, err := NewNetwork([]int{3, 5, 2}, 12)
	require.NoError(t, err)

	outA, err := a.Forward(in)
	require.NoError(t, err)
	outB, err := b.Forward(in)
	require.NoError(t, err)
	outC, err := c.Forward(in)
	require.NoError(t, err)

	require.Equal(t, outA, outB, "same seed must give the same network")
	require.NotEqual(t, outA, outC, "different seeds must give different networks")
}

func TestForwardShapeMismatch(t *testing.T) {
	n, err := NewNetwork([]int{2, 3, 1}, 1)
	require.NoError(t, err)

	_, err = n.Forward([]float64{1, 2, 3})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestForwardMatchesHandComputation(t *testing.T) {
	// 2-2-1 network with fixed weights: hidden applies ELU, output is linear.
	n := &Network{
		sizes: []int{2, 2, 1},
		weights: []*mat.Dense{
			mat.NewDense(2, 2, []float64{1, 0, 0, -1}),
			mat.NewDense(1, 2, []float64{2, 3}),
		},
		biases: []*mat.VecDense{
			mat.NewVecDense(2, []float64{0.5, 0}),
			mat.NewVecDense(1, []float64{-1}),
		},
	}

	out, err := n.Forward([]float64{1, 2})
	require.NoError(t, err)
	require.Len(t, out, 1)

	h0 := elu(1*1 + 0*2 + 0.5)
	h1 := elu(0*1 + -1*2 + 0)
	require.InDelta(t, 2*h0+3*h1-1, out[0], 1e-12)
	require.Equal(t, math.Exp(-2)-1, h1, "negative pre-activation takes the ELU branch")
}

func TestBackpropMatchesFiniteDifference(t *testing.T) {
	n, err := NewNetwork([]int{2, 3, 2}, 7)
	require.NoError(t, err)

	in := []float64{0.4, -0.6}
	target := []float64{0.2, 0.8}

	halfSSE := func() float64 {
		out, err := n.Forward(in)
		require.NoError(t, err)
		s := 0.0
		for i := range out {
			r := out[i] - target[i]
			s += r * r
		}
		return 0.5 * s
	}

	gradW := make([]*mat.Dense, len(n.weights))
	gradB := make([]*mat.VecDense, len(n.biases))
	for l, w := range n.weights {
		r, c := w.Dims()
		gradW[l] = mat.NewDense(r, c, nil)
		gradB[l] = mat.NewVecDense(r, nil)
	}
	st := n.forwardPass(in)
	sse := n.backprop(st, target, gradW, gradB)
	require.InDelta(t, 2*halfSSE(), sse, 1e-12)

	const h = 1e-6
	for l, w := range n.weights {
		rows, cols := w.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				orig := w.At(i, j)
				w.Set(i, j, orig+h)
				up := halfSSE()
				w.Set(i, j, orig-h)
				down := halfSSE()
				w.Set(i, j, orig)

				want := (up - down) / (2 * h)
				require.InDelta(t, want, gradW[l].At(i, j), 1e-6, "weight gradient [%d](%d,%d)", l, i, j)
			}
		}
	}
	for l, b := range n.biases {
		for i := 0; i < b.Len(); i++ {
			orig := b.AtVec(i)
			b.SetVec(i, orig+h)
			up := halfSSE()
			b.SetVec(i, orig-h)
			down := halfSSE()
			b.SetVec(i, orig)

			want := (up - down) / (2 * h)
			require.InDelta(t, want, gradB[l].AtVec(i), 1e-6, "bias gradient [%d](%d)", l, i)
		}
	}
}

func TestBackpropAccumulates(t *testing.T) {
	n, err := NewNetwork([]int{2, 2, 1}, 3)
	require.NoError(t, err)

	gradW := []*mat.Dense{mat.NewDense(2, 2, nil), mat.NewDense(1, 2, nil)}
	gradB := []*mat.VecDense{mat.NewVecDense(2, nil), mat.NewVecDense(1, nil)}

	in := []float64{0.5, 0.1}
	target := []float64{1}
	st := n.forwardPass(in)
	n.backprop(st, target, gradW, gradB)
	first := mat.DenseCopyOf(gradW[1])

	st = n.forwardPass(in)
	n.backprop(st, target, gradW, gradB)
	for j := 0; j < 2; j++ {
		require.InDelta(t, 2*first.At(0, j), gradW[1].At(0, j), 1e-12,
			"a second identical sample doubles the accumulated gradient")
	}
}
