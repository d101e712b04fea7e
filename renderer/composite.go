package renderer

import (
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
)

// Composite blends per-sample RGB colors into per-ray colors:
// rgb = sum(w_i * c_i) + alphaInvLast * bg. Colors and the result are
// flattened with 3 floats per entry.
func Composite(pool *tracer.Pool, seg *tracer.Segments, weights, colors, alphaInvLast []float32, bg types.Vec3) ([]float32, error) {
	if len(weights) != seg.Samples || len(colors) != 3*len(weights) || len(alphaInvLast) != seg.NumRays() {
		return nil, ErrShapeMismatch
	}

	weighted := make([]float32, len(colors))
	for i, w := range weights {
		weighted[3*i] = w * colors[3*i]
		weighted[3*i+1] = w * colors[3*i+1]
		weighted[3*i+2] = w * colors[3*i+2]
	}

	out := make([]float32, 3*seg.NumRays())
	seg.Sum(pool, weighted, 3, out)
	for ray, t := range alphaInvLast {
		out[3*ray] += t * bg[0]
		out[3*ray+1] += t * bg[1]
		out[3*ray+2] += t * bg[2]
	}
	return out, nil
}

// CompositeBackward propagates per-ray color gradients back to the sample
// weights, the sample colors and the final ray transmittance.
func CompositeBackward(pool *tracer.Pool, seg *tracer.Segments, weights, colors, gradRGB []float32, bg types.Vec3) (gradWeights, gradColors, gradAlphaInvLast []float32, err error) {
	if len(weights) != seg.Samples || len(colors) != 3*len(weights) || len(gradRGB) != 3*seg.NumRays() {
		return nil, nil, nil, ErrShapeMismatch
	}

	gradWeights = make([]float32, len(weights))
	gradColors = make([]float32, len(colors))
	gradAlphaInvLast = make([]float32, seg.NumRays())

	seg.Each(pool, func(ray, start, end int) {
		g := gradRGB[3*ray : 3*ray+3]
		gradAlphaInvLast[ray] = g[0]*bg[0] + g[1]*bg[1] + g[2]*bg[2]
		for i := start; i < end; i++ {
			c := colors[3*i : 3*i+3]
			gradWeights[i] = g[0]*c[0] + g[1]*c[1] + g[2]*c[2]
			w := weights[i]
			gradColors[3*i] = w * g[0]
			gradColors[3*i+1] = w * g[1]
			gradColors[3*i+2] = w * g[2]
		}
	})
	return gradWeights, gradColors, gradAlphaInvLast, nil
}

// Depth returns the expected step index of each ray: sum(w_i * step_i).
func Depth(pool *tracer.Pool, seg *tracer.Segments, weights []float32, stepId []int32) ([]float32, error) {
	if len(weights) != seg.Samples || len(stepId) != len(weights) {
		return nil, ErrShapeMismatch
	}

	weighted := make([]float32, len(weights))
	for i, w := range weights {
		weighted[i] = w * float32(stepId[i])
	}
	out := make([]float32, seg.NumRays())
	seg.Sum(pool, weighted, 1, out)
	return out, nil
}

// DepthLabel flags, for every sample, whether it is the step closest to the
// ray's depth estimate. Depth values are distances along the ray measured in
// the same units as tMin.
func DepthLabel(depth, tMin []float32, stepDist float32, rayId, stepId []int32) []bool {
	depthId := make([]int32, len(depth))
	for ray := range depth {
		depthId[ray] = int32((depth[ray] - tMin[ray]) / stepDist)
	}

	out := make([]bool, len(rayId))
	for i, ray := range rayId {
		out[i] = depthId[ray] == stepId[i]
	}
	return out
}
