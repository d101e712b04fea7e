package renderer

import "github.com/achilleasa/radiance/tracer"

// Rays stop accumulating once their transmittance drops below this value.
const earlyStopTransmittance = 1e-3

// Weights holds the result of compositing per-sample alphas along rays.
type Weights struct {
	// Per-sample weights and the transmittance before each sample.
	W []float32
	T []float32

	// Per-ray transmittance left after the last contributing sample.
	AlphaInvLast []float32

	// Per-ray index one past the last contributing sample.
	End []int
}

// Alphas2Weights runs the front-to-back compositing recurrence
// w_i = T_i*alpha_i, T_{i+1} = T_i*(1-alpha_i) on every ray. Each ray is
// processed sequentially by a single goroutine so the output does not depend
// on the pool size.
func Alphas2Weights(pool *tracer.Pool, alpha []float32, seg *tracer.Segments) (*Weights, error) {
	if len(alpha) != seg.Samples {
		return nil, ErrShapeMismatch
	}

	res := &Weights{
		W:            make([]float32, len(alpha)),
		T:            make([]float32, len(alpha)),
		AlphaInvLast: make([]float32, seg.NumRays()),
		End:          make([]int, seg.NumRays()),
	}

	seg.Each(pool, func(ray, start, end int) {
		tCum := float32(1)
		i := start
		for ; i < end; i++ {
			res.T[i] = tCum
			res.W[i] = tCum * alpha[i]
			tCum *= 1 - alpha[i]
			if tCum < earlyStopTransmittance {
				i++
				break
			}
		}
		res.End[ray] = i
		res.AlphaInvLast[ray] = tCum
	})
	return res, nil
}

// Alphas2WeightsBackward computes the alpha gradients given the gradients of
// the per-sample weights and of the per-ray final transmittance. A reverse
// scan accumulates the contribution of every later sample.
func Alphas2WeightsBackward(pool *tracer.Pool, alpha []float32, fw *Weights, seg *tracer.Segments, gradWeights, gradAlphaInvLast []float32) ([]float32, error) {
	if len(alpha) != seg.Samples || len(gradWeights) != len(alpha) || len(gradAlphaInvLast) != seg.NumRays() {
		return nil, ErrShapeMismatch
	}

	grad := make([]float32, len(alpha))
	seg.Each(pool, func(ray, start, _ int) {
		// Accumulate in float64 so saturated samples (alpha == 1) divide
		// by a non-zero denominator.
		back := float64(gradAlphaInvLast[ray]) * float64(fw.AlphaInvLast[ray])
		for i := fw.End[ray] - 1; i >= start; i-- {
			grad[i] = float32(float64(gradWeights[i])*float64(fw.T[i]) - back/(1-float64(alpha[i])+1e-10))
			back += float64(gradWeights[i]) * float64(fw.W[i])
		}
	})
	return grad, nil
}
