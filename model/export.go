package model

import (
	"github.com/achilleasa/radiance/grid"
	"github.com/achilleasa/radiance/prune"
)

// Export holds the retained voxels of a pruned model.
type Export struct {
	// Retained voxels in density grid address order.
	Keep []bool

	// Quantized retained density values and feature rows (channels of a
	// voxel stored together). Features is nil in ColorImplicit mode.
	Density  *prune.Quantized
	Features *prune.Quantized
}

// Get the retained voxels: the occupied voxels holding keepFraction of the
// accumulated importance.
func (m *Model) keepSet(keepFraction float32) ([]bool, error) {
	if len(m.Mask.Mask) != m.Density.WorldSize.Volume() {
		return nil, ErrMaskLayout
	}
	importance := m.Importance
	if keepFraction != 1 && importance == nil {
		return nil, ErrNoImportance
	}
	if importance == nil {
		importance = make([]float32, len(m.Mask.Mask))
	}
	return prune.RankAndPrune(importance, m.Mask.Mask, keepFraction)
}

// Prune zeroes the density and features of every voxel outside the keep-set,
// restricts the occupancy cache to it and returns the keep-set.
func (m *Model) Prune(keepFraction float32) ([]bool, error) {
	keep, err := m.keepSet(keepFraction)
	if err != nil {
		return nil, err
	}
	density := gatherKept(m.Density, keep)
	var features []float32
	if m.K0 != nil {
		features = gatherKept(m.K0, keep)
	}
	if err = m.replaceKept(keep, density, features); err != nil {
		return nil, err
	}
	m.logger.Noticef("pruned model keeps %.2f%% of the voxels", prune.KeptFraction(keep)*100)
	return keep, nil
}

// PruneAndQuantize prunes the model like Prune and quantizes the retained
// density values and feature rows to bitWidth integers. The grids are
// replaced by their dequantized counterparts so the model renders exactly
// what the export reconstructs.
func (m *Model) PruneAndQuantize(keepFraction float32, bitWidth int) (*Export, error) {
	keep, err := m.keepSet(keepFraction)
	if err != nil {
		return nil, err
	}

	exp := &Export{Keep: keep}
	density := gatherKept(m.Density, keep)
	if exp.Density, err = prune.Quantize(density, bitWidth); err != nil {
		return nil, err
	}
	m.warnOverflow("density", exp.Density)

	var features []float32
	if m.K0 != nil {
		raw := gatherKept(m.K0, keep)
		if exp.Features, err = prune.Quantize(raw, bitWidth); err != nil {
			return nil, err
		}
		m.warnOverflow("feature", exp.Features)
		features = exp.Features.Dequantize()
	}

	if err = m.replaceKept(keep, exp.Density.Dequantize(), features); err != nil {
		return nil, err
	}
	m.logger.Noticef("quantized %d retained voxels (%.2f%%) to %d bits", len(density), prune.KeptFraction(keep)*100, bitWidth)
	return exp, nil
}

// Restore installs retained voxel values, laid out like a dequantized export,
// into fresh grids and restricts the occupancy cache to keep. A nil slice
// leaves the corresponding grid untouched.
func (m *Model) Restore(keep []bool, density, features []float32) error {
	return m.replaceKept(keep, density, features)
}

func (m *Model) warnOverflow(name string, q *prune.Quantized) {
	if q.Overflow > 0 {
		m.logger.Warningf("%d %s values exceeded the %d bit range and were clamped", q.Overflow, name, q.BitWidth)
	}
}

// Collect the values of all kept voxels. Channels of a voxel are stored
// together.
func gatherKept(g *grid.Grid, keep []bool) []float32 {
	vol := g.WorldSize.Volume()
	kept := 0
	for _, k := range keep {
		if k {
			kept++
		}
	}

	out := make([]float32, 0, kept*g.Channels)
	for addr, k := range keep {
		if !k {
			continue
		}
		for c := 0; c < g.Channels; c++ {
			out = append(out, g.Data[c*vol+addr])
		}
	}
	return out
}

// Replace the density and/or feature grid with grids holding the supplied
// values at the kept voxels and zero everywhere else.
func (m *Model) replaceKept(keep []bool, density, features []float32) error {
	if density != nil {
		g, err := scatterKept(m.Density, keep, density)
		if err != nil {
			return err
		}
		m.Density = g
	}
	if features != nil && m.K0 != nil {
		g, err := scatterKept(m.K0, keep, features)
		if err != nil {
			return err
		}
		m.K0 = g
	}
	copy(m.Mask.Mask, keep)
	m.ZeroGrad()
	return nil
}

func scatterKept(src *grid.Grid, keep []bool, values []float32) (*grid.Grid, error) {
	g, err := grid.New(src.Channels, src.WorldSize, src.BBox)
	if err != nil {
		return nil, err
	}
	g.Version = src.Version + 1

	vol := g.WorldSize.Volume()
	if len(keep) != vol {
		return nil, ErrMaskLayout
	}
	pos := 0
	for addr, k := range keep {
		if !k {
			continue
		}
		if pos+g.Channels > len(values) {
			return nil, grid.ErrShapeMismatch
		}
		for c := 0; c < g.Channels; c++ {
			g.Data[c*vol+addr] = values[pos]
			pos++
		}
	}
	if pos != len(values) {
		return nil, grid.ErrShapeMismatch
	}
	return g, nil
}
