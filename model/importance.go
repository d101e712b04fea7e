package model

import (
	"github.com/achilleasa/radiance/grid"
	"github.com/achilleasa/radiance/renderer"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
)

// AccumulateImportance renders a batch of rays and scatters the weight of
// every contributing sample into the voxels surrounding it. Scores keep
// accumulating across calls until ResetImportance or ScaleVolumeGrid.
func (m *Model) AccumulateImportance(raysO, raysD []types.Vec3, opts RenderOptions) error {
	if len(raysO) != len(raysD) {
		return renderer.ErrShapeMismatch
	}
	if m.importance == nil {
		imp, err := grid.New(1, m.Density.WorldSize, m.BBox)
		if err != nil {
			return err
		}
		imp.ZeroGrad()
		m.importance = imp
		m.Importance = imp.Grad
	}

	samples, err := m.sampleRays(raysO, raysD, opts)
	if err != nil {
		return err
	}
	samples = samples.Filter(m.Mask.Test(m.pool, samples.Points))

	alpha, _ := renderer.Raw2Alpha(m.pool, m.Density.Query(m.pool, samples.Points), m.ActShift, opts.StepSize*m.VoxelSizeRatio)
	if m.FastColorThres > 0 {
		keep := thresholdMask(alpha, m.FastColorThres)
		samples = samples.Filter(keep)
		alpha = filterFloats(alpha, keep, 1)
	}

	seg, err := tracer.NewSegments(samples.RayId, len(raysO))
	if err != nil {
		return err
	}
	fw, err := renderer.Alphas2Weights(m.pool, alpha, seg)
	if err != nil {
		return err
	}

	points, weights := samples.Points, fw.W
	if m.FastColorThres > 0 {
		keep := thresholdMask(weights, m.FastColorThres)
		points = samples.Filter(keep).Points
		weights = filterFloats(weights, keep, 1)
	}
	return m.importance.QueryBackward(m.pool, points, weights)
}

// ResetImportance discards accumulated importance scores.
func (m *Model) ResetImportance() {
	m.Importance, m.importance = nil, nil
}
