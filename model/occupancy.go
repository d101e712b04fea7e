package model

import (
	"time"

	"github.com/achilleasa/radiance/grid"
	"github.com/achilleasa/radiance/nn"
	"github.com/achilleasa/radiance/renderer"
	"github.com/achilleasa/radiance/types"
)

// ScaleVolumeGrid resamples the density and feature grids so that the bbox
// holds approximately numVoxels voxels. When the new lattice is small enough
// the occupancy cache is resampled to the new lattice and refined with the
// current alpha threshold. Accumulated importance is discarded.
func (m *Model) ScaleVolumeGrid(numVoxels int) error {
	start := time.Now()
	from := m.Density.WorldSize
	ws := m.setGridResolution(numVoxels)

	density, err := m.Density.Rescale(m.pool, ws)
	if err != nil {
		return err
	}
	var k0 *grid.Grid
	if m.K0 != nil {
		if k0, err = m.K0.Rescale(m.pool, ws); err != nil {
			return err
		}
	}
	m.Density, m.K0 = density, k0
	m.Importance, m.importance = nil, nil
	m.ZeroGrad()

	if ws.Volume() <= maxCacheRebuildVolume {
		mask, err := m.Mask.Resample(m.pool, ws)
		if err != nil {
			return err
		}
		count := mask.Rebuild(m.densityProbe, m.FastColorThres)
		m.Mask = mask
		m.logger.Infof("occupancy cache rebuilt at %s: %d occupied voxels", ws, count)
	}

	m.logger.Noticef("scaled volume grid from %s to %s in %d ms", from, ws, time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Probe alpha at arbitrary points.
func (m *Model) densityProbe(points []types.Vec3) []float32 {
	return m.Activate(m.Density.Query(m.pool, points))
}

// CacheThreshold returns the annealed alpha threshold for a training step.
// Step -1 selects the final threshold.
func (m *Model) CacheThreshold(step int) float32 {
	if step == -1 || m.NIters <= 0 {
		return m.FastColorThresFinal
	}
	n := float32(m.NIters)
	s := float32(step)
	return m.FastColorThresInit*(n-s)/n + m.FastColorThresFinal*s/n
}

// ImportanceKeep returns the fraction of cumulative importance retained at a
// step of the dynamic pruning phase: cur at its first step, then a linear
// ramp from 1 at the start towards cur at the last training step.
func (m *Model) ImportanceKeep(step int, cur float32) float32 {
	if step == m.NDynamicIters || m.NIters <= m.NDynamicIters {
		return cur
	}
	progress := float32(step-m.NDynamicIters) / float32(m.NIters-m.NDynamicIters)
	return 1 - progress*(1-cur)
}

// UpdateOccupancyCache anneals the alpha threshold, clears cache voxels
// whose dilated alpha fell below it and, once the dynamic pruning phase has
// started, intersects the cache with the importance keep-set. It returns the
// number of occupied voxels after the update.
func (m *Model) UpdateOccupancyCache(step int, keep float32) (int, error) {
	before := m.Mask.Count()
	count := before
	if step == -1 || m.NIters > 0 {
		m.FastColorThres = m.CacheThreshold(step)
		count = m.Mask.Rebuild(m.densityProbe, m.FastColorThres)
	}

	if step >= m.NDynamicIters && keep != 1 {
		if m.Importance == nil {
			return count, ErrNoImportance
		}
		if len(m.Importance) != len(m.Mask.Mask) {
			return count, ErrMaskLayout
		}
		frac := m.ImportanceKeep(step, keep)
		var err error
		if count, err = m.Mask.IntersectWithImportance(m.Importance, frac); err != nil {
			return count, err
		}
		m.logger.Infof("importance pruning at step %d keeps %.2f%% of the importance", step, frac*100)
	}

	m.logger.Infof("occupancy cache update at step %d (threshold %g): %d -> %d voxels", step, m.FastColorThres, before, count)
	return count, nil
}

// MaskoutNearCamVox clears the density of all voxels within nearClip of any
// camera origin.
func (m *Model) MaskoutNearCamVox(camOrigins []types.Vec3, nearClip float32) int {
	count := m.Density.MaskoutNearCamVox(m.pool, camOrigins, nearClip)
	m.logger.Infof("masked out %d voxels near %d cameras", count, len(camOrigins))
	return count
}

// VoxelCountViews returns, for every density voxel, the number of views
// whose rays pass through it with a total trilinear weight above 1.
func (m *Model) VoxelCountViews(views []renderer.RayGenerator, near, stepSize float32) ([]float32, error) {
	start := time.Now()
	ws := m.Density.WorldSize
	count := make([]float32, ws.Volume())
	opts := RenderOptions{Near: near, StepSize: stepSize}

	for _, view := range views {
		origins, dirs, _ := view.Rays()
		samples, err := m.sampleRays(origins, dirs, opts)
		if err != nil {
			return nil, err
		}

		ones, err := grid.New(1, ws, m.BBox)
		if err != nil {
			return nil, err
		}
		grad := make([]float32, samples.Len())
		for i := range grad {
			grad[i] = 1
		}
		if err = ones.QueryBackward(m.pool, samples.Points, grad); err != nil {
			return nil, err
		}
		for addr, g := range ones.Grad {
			if g > 1 {
				count[addr]++
			}
		}
	}

	m.logger.Infof("counted voxel views for %d views in %d ms", len(views), time.Since(start).Nanoseconds()/1e6)
	return count, nil
}

// SetPerVoxelLR scales the density and feature learning rate of every voxel
// by its view count relative to the most observed voxel. The multipliers are
// dropped once the grids are replaced.
func (m *Model) SetPerVoxelLR(opt *nn.Adam, counts []float32) error {
	vol := m.Density.WorldSize.Volume()
	if len(counts) != vol {
		return ErrMaskLayout
	}
	var maxCount float32
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	if maxCount == 0 {
		return nil
	}

	scale := make([]float64, vol)
	for addr, c := range counts {
		scale[addr] = float64(c / maxCount)
	}
	opt.SetLRScale(ParamDensity, scale)
	if m.K0 != nil {
		// Feature channels share the scale of their voxel
		k0Scale := make([]float64, m.K0.Channels*vol)
		for c := 0; c < m.K0.Channels; c++ {
			copy(k0Scale[c*vol:], scale)
		}
		opt.SetLRScale(ParamK0, k0Scale)
	}
	return nil
}

// HitCoarseGeo reports whether any sample of each ray falls in an occupied
// cache voxel.
func (m *Model) HitCoarseGeo(raysO, raysD []types.Vec3, opts RenderOptions) ([]bool, error) {
	samples, err := m.sampleRays(raysO, raysD, opts)
	if err != nil {
		return nil, err
	}
	hit := make([]bool, len(raysO))
	for i, occupied := range m.Mask.Test(m.pool, samples.Points) {
		if occupied {
			hit[samples.RayId[i]] = true
		}
	}
	return hit, nil
}
