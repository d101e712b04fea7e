package nn

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrInputDim     = errors.New("nn: input width does not match the network")
	ErrNoActivation = errors.New("nn: backward called without a preceding forward pass")
	ErrInvalidShape = errors.New("nn: depth must be at least 2 and widths positive")
)

// A fully connected layer computing x*W + b.
type Linear struct {
	W *mat.Dense
	B *mat.VecDense

	GradW *mat.Dense
	GradB *mat.VecDense
}

// Create a layer with weights and biases drawn from U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	bound := 1 / math.Sqrt(float64(in))
	w := make([]float64, in*out)
	for idx := range w {
		w[idx] = (rng.Float64()*2 - 1) * bound
	}
	b := make([]float64, out)
	for idx := range b {
		b[idx] = (rng.Float64()*2 - 1) * bound
	}

	return &Linear{
		W:     mat.NewDense(in, out, w),
		B:     mat.NewVecDense(out, b),
		GradW: mat.NewDense(in, out, nil),
		GradB: mat.NewVecDense(out, nil),
	}
}

// Get the layer input and output widths.
func (l *Linear) Dims() (int, int) {
	return l.W.Dims()
}

// An MLP with ReLU activations between its linear layers. The last layer has
// no activation.
type MLP struct {
	Layers []*Linear

	// Inputs fed to each layer during the last forward pass.
	acts []*mat.Dense
}

// Create a network with depth linear layers of the given hidden width. The
// bias of the output layer starts at zero.
func NewMLP(dimIn, width, depth, dimOut int, rng *rand.Rand) (*MLP, error) {
	if depth < 2 || dimIn <= 0 || width <= 0 || dimOut <= 0 {
		return nil, ErrInvalidShape
	}

	m := &MLP{}
	m.Layers = append(m.Layers, NewLinear(dimIn, width, rng))
	for i := 0; i < depth-2; i++ {
		m.Layers = append(m.Layers, NewLinear(width, width, rng))
	}
	last := NewLinear(width, dimOut, rng)
	last.B.Zero()
	m.Layers = append(m.Layers, last)
	return m, nil
}

// Get the input width.
func (m *MLP) InputDim() int {
	in, _ := m.Layers[0].Dims()
	return in
}

// Get the output width.
func (m *MLP) OutputDim() int {
	_, out := m.Layers[len(m.Layers)-1].Dims()
	return out
}

// Forward evaluates the network on n rows of the flattened float32 input and
// returns the flattened output. Activations are cached for Backward.
func (m *MLP) Forward(input []float32, n int) ([]float32, error) {
	dimIn := m.InputDim()
	if n == 0 {
		m.acts = nil
		return nil, nil
	}
	if len(input) != n*dimIn {
		return nil, ErrInputDim
	}

	x := make([]float64, len(input))
	for idx, v := range input {
		x[idx] = float64(v)
	}
	h := mat.NewDense(n, dimIn, x)

	m.acts = make([]*mat.Dense, len(m.Layers))
	last := len(m.Layers) - 1
	for l, layer := range m.Layers {
		m.acts[l] = h
		_, dimOut := layer.Dims()

		out := mat.NewDense(n, dimOut, nil)
		out.Mul(h, layer.W)
		bias := layer.B.RawVector().Data
		raw := out.RawMatrix()
		for r := 0; r < n; r++ {
			row := raw.Data[r*raw.Stride : r*raw.Stride+dimOut]
			for c := range row {
				row[c] += bias[c]
				if l < last && row[c] < 0 {
					row[c] = 0
				}
			}
		}
		h = out
	}

	raw := h.RawMatrix()
	_, dimOut := h.Dims()
	output := make([]float32, n*dimOut)
	for r := 0; r < n; r++ {
		for c := 0; c < dimOut; c++ {
			output[r*dimOut+c] = float32(raw.Data[r*raw.Stride+c])
		}
	}
	return output, nil
}

// Backward accumulates parameter gradients for the last forward pass and
// returns the gradient with respect to the input.
func (m *MLP) Backward(gradOut []float32) ([]float32, error) {
	if m.acts == nil {
		if len(gradOut) == 0 {
			return nil, nil
		}
		return nil, ErrNoActivation
	}

	n, _ := m.acts[0].Dims()
	dimOut := m.OutputDim()
	if len(gradOut) != n*dimOut {
		return nil, ErrInputDim
	}

	g64 := make([]float64, len(gradOut))
	for idx, v := range gradOut {
		g64[idx] = float64(v)
	}
	g := mat.NewDense(n, dimOut, g64)

	for l := len(m.Layers) - 1; l >= 0; l-- {
		layer := m.Layers[l]

		// ReLU mask from this layer's output, which is the next layer's input
		if l < len(m.Layers)-1 {
			gRaw := g.RawMatrix()
			aRaw := m.acts[l+1].RawMatrix()
			_, cols := g.Dims()
			for r := 0; r < n; r++ {
				for c := 0; c < cols; c++ {
					if aRaw.Data[r*aRaw.Stride+c] <= 0 {
						gRaw.Data[r*gRaw.Stride+c] = 0
					}
				}
			}
		}

		var gw mat.Dense
		gw.Mul(m.acts[l].T(), g)
		layer.GradW.Add(layer.GradW, &gw)

		gb := layer.GradB.RawVector().Data
		gRaw := g.RawMatrix()
		_, cols := g.Dims()
		for r := 0; r < n; r++ {
			for c := 0; c < cols; c++ {
				gb[c] += gRaw.Data[r*gRaw.Stride+c]
			}
		}

		in, _ := layer.Dims()
		gIn := mat.NewDense(n, in, nil)
		gIn.Mul(g, layer.W.T())
		g = gIn
	}

	raw := g.RawMatrix()
	dimIn := m.InputDim()
	out := make([]float32, n*dimIn)
	for r := 0; r < n; r++ {
		for c := 0; c < dimIn; c++ {
			out[r*dimIn+c] = float32(raw.Data[r*raw.Stride+c])
		}
	}
	return out, nil
}

// Reset all parameter gradients.
func (m *MLP) ZeroGrad() {
	for _, layer := range m.Layers {
		layer.GradW.Zero()
		layer.GradB.Zero()
	}
}

// Register all network parameters with an optimizer.
func (m *MLP) Register(opt *Adam, name string, lr float64) {
	for _, layer := range m.Layers {
		opt.AddFloat64(name, layer.W.RawMatrix().Data, layer.GradW.RawMatrix().Data, lr)
		opt.AddFloat64(name, layer.B.RawVector().Data, layer.GradB.RawVector().Data, lr)
	}
}
