package surrogate

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Network is a dense feed-forward map with ELU hidden activations and a
// linear output layer. Weights for layer l have shape sizes[l+1] x sizes[l].
type Network struct {
	sizes   []int
	weights []*mat.Dense
	biases  []*mat.VecDense
}

// NewNetwork builds a network with the given layer widths, input first and
// output last. Weights start Xavier-uniform from the seeded source, biases at
// zero, so the same seed always yields the same initial network.
func NewNetwork(sizes []int, seed uint64) (*Network, error) {
	if len(sizes) < 2 {
		return nil, fmt.Errorf("network needs an input and an output layer, got %d sizes", len(sizes))
	}
	for i, size := range sizes {
		if size < 1 {
			return nil, fmt.Errorf("layer %d size %d must be positive", i, size)
		}
	}

	src := rand.NewSource(seed)
	n := &Network{sizes: append([]int(nil), sizes...)}
	for l := 0; l < len(sizes)-1; l++ {
		fanIn, fanOut := sizes[l], sizes[l+1]
		limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
		u := distuv.Uniform{Min: -limit, Max: limit, Src: src}

		w := mat.NewDense(fanOut, fanIn, nil)
		for i := 0; i < fanOut; i++ {
			for j := 0; j < fanIn; j++ {
				w.Set(i, j, u.Rand())
			}
		}
		n.weights = append(n.weights, w)
		n.biases = append(n.biases, mat.NewVecDense(fanOut, nil))
	}
	return n, nil
}

// Sizes returns a copy of the layer widths, input first.
func (n *Network) Sizes() []int {
	return append([]int(nil), n.sizes...)
}

// InputDim returns the expected input vector width.
func (n *Network) InputDim() int {
	return n.sizes[0]
}

// OutputDim returns the produced output vector width.
func (n *Network) OutputDim() int {
	return n.sizes[len(n.sizes)-1]
}

// Forward evaluates the network on one input vector.
func (n *Network) Forward(in []float64) ([]float64, error) {
	if len(in) != n.InputDim() {
		return nil, fmt.Errorf("input has %d entries, want %d: %w", len(in), n.InputDim(), ErrShapeMismatch)
	}
	out := n.forwardPass(in).output()
	res := make([]float64, out.Len())
	for i := range res {
		res[i] = out.AtVec(i)
	}
	return res, nil
}

func elu(x float64) float64 {
	if x > 0 {
		return x
	}
	return math.Exp(x) - 1
}

func eluPrime(x float64) float64 {
	if x > 0 {
		return 1
	}
	return math.Exp(x)
}

// forwardState caches the pre-activations and activations of one pass so
// backprop can reuse them. acts[0] is the input, acts[len] the output.
type forwardState struct {
	pre  []*mat.VecDense
	acts []*mat.VecDense
}

func (st *forwardState) output() *mat.VecDense {
	return st.acts[len(st.acts)-1]
}

func (n *Network) forwardPass(in []float64) *forwardState {
	acts := make([]*mat.VecDense, 1, len(n.weights)+1)
	acts[0] = mat.NewVecDense(len(in), append([]float64(nil), in...))
	pre := make([]*mat.VecDense, 0, len(n.weights))

	a := acts[0]
	for l, w := range n.weights {
		rows, _ := w.Dims()
		z := mat.NewVecDense(rows, nil)
		z.MulVec(w, a)
		z.AddVec(z, n.biases[l])
		pre = append(pre, z)

		if l < len(n.weights)-1 {
			act := mat.NewVecDense(rows, nil)
			for i := 0; i < rows; i++ {
				act.SetVec(i, elu(z.AtVec(i)))
			}
			a = act
		} else {
			a = z
		}
		acts = append(acts, a)
	}
	return &forwardState{pre: pre, acts: acts}
}

// backprop accumulates the gradients of one sample's half squared error into
// gradW/gradB and returns the sample's squared-error sum.
func (n *Network) backprop(st *forwardState, target []float64, gradW []*mat.Dense, gradB []*mat.VecDense) float64 {
	out := st.output()
	delta := mat.NewVecDense(out.Len(), nil)
	sse := 0.0
	for i := 0; i < out.Len(); i++ {
		r := out.AtVec(i) - target[i]
		delta.SetVec(i, r)
		sse += r * r
	}

	cur := delta
	for l := len(n.weights) - 1; l >= 0; l-- {
		var outer mat.Dense
		outer.Outer(1, cur, st.acts[l])
		gradW[l].Add(gradW[l], &outer)
		gradB[l].AddVec(gradB[l], cur)

		if l > 0 {
			width := st.pre[l-1].Len()
			back := mat.NewVecDense(width, nil)
			back.MulVec(n.weights[l].T(), cur)
			for i := 0; i < width; i++ {
				back.SetVec(i, back.AtVec(i)*eluPrime(st.pre[l-1].AtVec(i)))
			}
			cur = back
		}
	}
	return sse
}
