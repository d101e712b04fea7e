package model

import (
	"errors"

	"github.com/achilleasa/radiance/renderer"
)

var ErrNoForwardState = errors.New("model: result does not carry forward pass state")

// Backward accumulates parameter gradients for a forward pass result given
// the loss gradient with respect to the composited colors (3 floats per ray)
// and, optionally, the final ray transmittance. The gradients are added to
// the grid gradient buffers and the network parameter gradients.
func (m *Model) Backward(res *Result, gradRGB, gradAlphaInvLast []float32) error {
	st := res.state
	if st == nil {
		return ErrNoForwardState
	}
	if len(gradRGB) != 3*res.NumRays || (gradAlphaInvLast != nil && len(gradAlphaInvLast) != res.NumRays) {
		return renderer.ErrShapeMismatch
	}

	gradWeights, gradColors, gradLast, err := renderer.CompositeBackward(m.pool, st.seg, res.Weights, res.Colors, gradRGB, st.opts.Background)
	if err != nil {
		return err
	}
	for ray, g := range gradAlphaInvLast {
		gradLast[ray] += g
	}

	if err = m.colorBackward(st, res.Colors, gradColors); err != nil {
		return err
	}

	// Samples dropped by the weight threshold receive no weight gradient
	gwAll := make([]float32, len(st.alpha))
	for i, idx := range st.keepIdx {
		gwAll[idx] = gradWeights[i]
	}
	gradAlpha, err := renderer.Alphas2WeightsBackward(m.pool, st.alpha, st.weights, st.alphaSeg, gwAll, gradLast)
	if err != nil {
		return err
	}
	gradDensity, err := renderer.Raw2AlphaBackward(m.pool, st.exp, gradAlpha, st.interval)
	if err != nil {
		return err
	}
	return m.Density.QueryBackward(m.pool, st.alphaPoints, gradDensity)
}

// Propagate sample color gradients through the sigmoid, the network and the
// feature grid.
func (m *Model) colorBackward(st *passState, colors, gradColors []float32) error {
	n := len(st.points)

	gradLogits := make([]float32, len(colors))
	for i, c := range colors {
		gradLogits[i] = gradColors[i] * c * (1 - c)
	}
	if m.Mode == ColorCoarse {
		return m.K0.QueryBackward(m.pool, st.points, gradLogits)
	}

	gradIn, err := m.RGBNet.Backward(gradLogits)
	if err != nil {
		return err
	}
	if m.K0 == nil || n == 0 {
		return nil
	}

	ch := m.K0.Channels
	rowDim := m.RGBNet.InputDim()
	gradK0 := make([]float32, n*ch)
	for i := 0; i < n; i++ {
		dst := gradK0[i*ch : (i+1)*ch]
		src := gradIn[i*rowDim : (i+1)*rowDim]
		switch m.Mode {
		case ColorDirect:
			copy(dst, src[:ch])
		case ColorResidual:
			copy(dst[:3], gradLogits[3*i:3*i+3])
			copy(dst[3:], src[:ch-3])
		}
	}
	return m.K0.QueryBackward(m.pool, st.points, gradK0)
}
