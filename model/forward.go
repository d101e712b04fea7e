package model

import (
	"github.com/achilleasa/radiance/nn"
	"github.com/achilleasa/radiance/renderer"
	"github.com/achilleasa/radiance/scene"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
)

// Result holds the output of a forward pass. Per-sample arrays only contain
// the samples that survived the occupancy and alpha/weight thresholds.
type Result struct {
	NumRays int

	// Per-ray composited colors (3 floats per ray), final transmittance and
	// optional depth estimate.
	RGB          []float32
	AlphaInvLast []float32
	Depth        []float32

	// Per-sample data.
	Weights []float32
	Alpha   []float32
	Colors  []float32
	Density []float32
	RayId   []int32
	StepId  []int32

	// Set for samples that lie on the depth estimate of their ray.
	DepthLabel []bool

	state *passState
}

// Intermediate values kept for the backward pass.
type passState struct {
	opts     RenderOptions
	interval float32

	// Samples after the alpha threshold; these are the samples the
	// compositing recurrence ran on.
	alphaPoints []types.Vec3
	alphaSeg    *tracer.Segments
	alpha       []float32
	exp         []float32
	weights     *renderer.Weights

	// Samples after the weight threshold and their index in the alpha set.
	points  []types.Vec3
	seg     *tracer.Segments
	keepIdx []int

	// Raw feature grid samples (point-major).
	k0 []float32
}

// Forward renders a batch of rays. Rays and view directions must have the same
// length.
func (m *Model) Forward(raysO, raysD, viewdirs []types.Vec3, opts RenderOptions) (*Result, error) {
	if len(raysO) != len(raysD) || len(viewdirs) != len(raysD) {
		return nil, renderer.ErrShapeMismatch
	}

	numRays := len(raysO)
	st := &passState{
		opts:     opts,
		interval: opts.StepSize * m.VoxelSizeRatio,
	}

	samples, err := m.sampleRays(raysO, raysD, opts)
	if err != nil {
		return nil, err
	}
	samples = samples.Filter(m.Mask.Test(m.pool, samples.Points))

	// Query density and drop samples that are nearly transparent
	density := m.Density.Query(m.pool, samples.Points)
	alpha, exp := renderer.Raw2Alpha(m.pool, density, m.ActShift, st.interval)
	if m.FastColorThres > 0 {
		keep := thresholdMask(alpha, m.FastColorThres)
		samples = samples.Filter(keep)
		density = filterFloats(density, keep, 1)
		alpha = filterFloats(alpha, keep, 1)
		exp = filterFloats(exp, keep, 1)
	}
	st.alphaPoints = samples.Points
	st.alpha = alpha
	st.exp = exp

	if st.alphaSeg, err = tracer.NewSegments(samples.RayId, numRays); err != nil {
		return nil, err
	}
	if st.weights, err = renderer.Alphas2Weights(m.pool, alpha, st.alphaSeg); err != nil {
		return nil, err
	}

	var depthLabel []bool
	if opts.DepthLabel {
		depthLabel = m.depthLabels(samples, st)
	}

	// Drop samples that do not contribute to the final color
	weights := st.weights.W
	rayId, stepId := samples.RayId, samples.StepId
	st.points = samples.Points
	st.keepIdx = identity(len(weights))
	if m.FastColorThres > 0 {
		keep := thresholdMask(weights, m.FastColorThres)
		kept := samples.Filter(keep)
		st.points, rayId, stepId = kept.Points, kept.RayId, kept.StepId
		weights = filterFloats(weights, keep, 1)
		alpha = filterFloats(alpha, keep, 1)
		density = filterFloats(density, keep, 1)
		st.keepIdx = filterInts(st.keepIdx, keep)
		if depthLabel != nil {
			depthLabel = filterBools(depthLabel, keep)
		}
	}
	if st.seg, err = tracer.NewSegments(rayId, numRays); err != nil {
		return nil, err
	}

	colors, err := m.sampleColors(st, rayId, viewdirs)
	if err != nil {
		return nil, err
	}

	rgb, err := renderer.Composite(m.pool, st.seg, weights, colors, st.weights.AlphaInvLast, opts.Background)
	if err != nil {
		return nil, err
	}

	res := &Result{
		NumRays:      numRays,
		RGB:          rgb,
		AlphaInvLast: st.weights.AlphaInvLast,
		Weights:      weights,
		Alpha:        alpha,
		Colors:       colors,
		Density:      density,
		RayId:        rayId,
		StepId:       stepId,
		DepthLabel:   depthLabel,
		state:        st,
	}
	if opts.RenderDepth {
		if res.Depth, err = renderer.Depth(m.pool, st.seg, weights, stepId); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Sample points along rays using the model bbox and voxel-relative step size.
// The far plane is ignored as rays always terminate at the bbox exit.
func (m *Model) sampleRays(raysO, raysD []types.Vec3, opts RenderOptions) (*scene.Samples, error) {
	sampler := scene.Sampler{
		BBox:       m.BBox,
		Near:       opts.Near,
		Far:        scene.FarSentinel,
		StepDist:   opts.StepSize * m.VoxelSize,
		MaxSamples: opts.MaxSamples,
	}
	return sampler.Sample(m.pool, raysO, raysD)
}

// Flag the samples closest to the weighted depth of their ray.
func (m *Model) depthLabels(samples *scene.Samples, st *passState) []bool {
	dist := make([]float32, samples.Len())
	for i, ray := range samples.RayId {
		dist[i] = st.weights.W[i] * (float32(samples.StepId[i])*samples.StepDist + samples.TMin[ray])
	}
	depth := make([]float32, st.alphaSeg.NumRays())
	st.alphaSeg.Sum(m.pool, dist, 1, depth)
	return renderer.DepthLabel(depth, samples.TMin, samples.StepDist, samples.RayId, samples.StepId)
}

// Evaluate the color of every sample that survived the weight threshold.
func (m *Model) sampleColors(st *passState, rayId []int32, viewdirs []types.Vec3) ([]float32, error) {
	n := len(st.points)
	if m.K0 != nil {
		st.k0 = m.K0.Query(m.pool, st.points)
	}

	if m.Mode == ColorCoarse {
		colors := make([]float32, 3*n)
		for i, v := range st.k0 {
			colors[i] = nn.Sigmoid(v)
		}
		return colors, nil
	}

	input := m.netInput(st, rayId, viewdirs)
	logits, err := m.RGBNet.Forward(input, n)
	if err != nil {
		return nil, err
	}
	if m.Mode == ColorResidual {
		dim := m.K0.Channels
		for i := 0; i < n; i++ {
			for c := 0; c < 3; c++ {
				logits[3*i+c] += st.k0[i*dim+c]
			}
		}
	}

	colors := make([]float32, len(logits))
	for i, v := range logits {
		colors[i] = nn.Sigmoid(v)
	}
	return colors, nil
}

// Assemble the network input rows: the view features of each sample
// followed by the positional encoding of its ray direction.
func (m *Model) netInput(st *passState, rayId []int32, viewdirs []types.Vec3) []float32 {
	n := len(st.points)
	peDim := nn.EncodedDim(m.ViewBasePE)
	pe := nn.PositionalEncoding(viewdirs, m.ViewBasePE)

	featOffset, featDim := 0, 0
	switch m.Mode {
	case ColorDirect:
		featDim = m.K0.Channels
	case ColorResidual:
		featOffset, featDim = 3, m.K0.Channels-3
	}

	rowDim := featDim + peDim
	input := make([]float32, n*rowDim)
	for i := 0; i < n; i++ {
		row := input[i*rowDim : (i+1)*rowDim]
		if featDim > 0 {
			ch := m.K0.Channels
			copy(row[:featDim], st.k0[i*ch+featOffset:i*ch+featOffset+featDim])
		}
		ray := int(rayId[i])
		copy(row[featDim:], pe[ray*peDim:(ray+1)*peDim])
	}
	return input
}

func thresholdMask(values []float32, thres float32) []bool {
	keep := make([]bool, len(values))
	for i, v := range values {
		keep[i] = v > thres
	}
	return keep
}

func filterFloats(values []float32, keep []bool, dim int) []float32 {
	out := make([]float32, 0, len(values))
	for i, k := range keep {
		if k {
			out = append(out, values[i*dim:(i+1)*dim]...)
		}
	}
	return out
}

func filterInts(values []int, keep []bool) []int {
	out := make([]int, 0, len(values))
	for i, k := range keep {
		if k {
			out = append(out, values[i])
		}
	}
	return out
}

func filterBools(values []bool, keep []bool) []bool {
	out := make([]bool, 0, len(values))
	for i, k := range keep {
		if k {
			out = append(out, values[i])
		}
	}
	return out
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
