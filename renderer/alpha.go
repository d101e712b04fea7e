package renderer

import (
	"github.com/achilleasa/radiance/tracer"
	"github.com/chewxy/math32"
)

// Clamp applied to exp(density + shift) in the alpha gradient.
const maxExpGrad = 1e10

// ActShift returns the density bias that makes a zero density voxel start with
// the given alpha value.
func ActShift(alphaInit float32) float32 {
	return math32.Log(1/(1-alphaInit) - 1)
}

// Raw2Alpha converts raw densities to alpha values with
// alpha = 1 - (1 + exp(density + shift))^(-interval). The exponential term is
// returned for use by Raw2AlphaBackward.
func Raw2Alpha(pool *tracer.Pool, density []float32, shift, interval float32) (alpha, exp []float32) {
	alpha = make([]float32, len(density))
	exp = make([]float32, len(density))
	if len(density) == 0 {
		return alpha, exp
	}
	if pool == nil {
		pool = tracer.Default()
	}

	pool.Run(len(density), func(blk tracer.Block) {
		for i := blk.Start; i < blk.End; i++ {
			e := math32.Exp(density[i] + shift)
			exp[i] = e
			alpha[i] = 1 - math32.Pow(1+e, -interval)
		}
	})
	return alpha, exp
}

// Raw2AlphaBackward maps alpha gradients to density gradients.
func Raw2AlphaBackward(pool *tracer.Pool, exp, gradAlpha []float32, interval float32) ([]float32, error) {
	if len(exp) != len(gradAlpha) {
		return nil, ErrShapeMismatch
	}
	grad := make([]float32, len(exp))
	if len(exp) == 0 {
		return grad, nil
	}
	if pool == nil {
		pool = tracer.Default()
	}

	pool.Run(len(exp), func(blk tracer.Block) {
		for i := blk.Start; i < blk.End; i++ {
			e := exp[i]
			grad[i] = math32.Min(e, maxExpGrad) * math32.Pow(1+e, -interval-1) * interval * gradAlpha[i]
		}
	})
	return grad, nil
}
