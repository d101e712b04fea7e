package grid

import (
	"github.com/achilleasa/radiance/prune"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
	"github.com/chewxy/math32"
)

// AlphaProbe evaluates the alpha value of the scene at a set of points.
type AlphaProbe func(points []types.Vec3) []float32

// A boolean occupancy cache over a bounding box. Points are matched to the
// nearest lattice voxel; anything outside the lattice is unoccupied.
type MaskGrid struct {
	WorldSize types.WorldSize
	BBox      types.BBox

	// Occupancy flags in WorldSize.Addr order.
	Mask []bool

	scale types.Vec3
	shift types.Vec3
}

// Create a mask grid from existing occupancy flags.
func NewMaskGrid(mask []bool, worldSize types.WorldSize, bbox types.BBox) (*MaskGrid, error) {
	if !worldSize.Valid() {
		return nil, ErrInvalidWorldSize
	}
	if !bbox.Valid() {
		return nil, ErrInvalidBBox
	}
	if len(mask) != worldSize.Volume() {
		return nil, ErrShapeMismatch
	}

	m := &MaskGrid{
		WorldSize: worldSize,
		BBox:      bbox,
		Mask:      mask,
	}
	for axis := 0; axis < 3; axis++ {
		m.scale[axis] = float32(worldSize[axis]-1) / (bbox.Max[axis] - bbox.Min[axis])
		m.shift[axis] = -bbox.Min[axis] * m.scale[axis]
	}
	return m, nil
}

// Create a mask grid where every voxel is occupied.
func NewFullMaskGrid(worldSize types.WorldSize, bbox types.BBox) (*MaskGrid, error) {
	mask := make([]bool, worldSize.Volume())
	for idx := range mask {
		mask[idx] = true
	}
	return NewMaskGrid(mask, worldSize, bbox)
}

// Get the lattice address that a point snaps to or -1 if it falls outside
// the lattice. A single-voxel axis has no scale so points on it must lie
// within the bbox.
func (m *MaskGrid) addrOf(p types.Vec3) int {
	var idx [3]int
	q := p.MulVec(m.scale).Add(m.shift)
	for axis := 0; axis < 3; axis++ {
		if m.WorldSize[axis] == 1 && (p[axis] < m.BBox.Min[axis] || p[axis] > m.BBox.Max[axis]) {
			return -1
		}
		idx[axis] = int(math32.Round(q[axis]))
		if idx[axis] < 0 || idx[axis] >= m.WorldSize[axis] {
			return -1
		}
	}
	return m.WorldSize.Addr(idx[0], idx[1], idx[2])
}

// Test looks up the occupancy of each point.
func (m *MaskGrid) Test(pool *tracer.Pool, points []types.Vec3) []bool {
	out := make([]bool, len(points))
	if len(points) == 0 {
		return out
	}
	if pool == nil {
		pool = tracer.Default()
	}

	pool.Run(len(points), func(blk tracer.Block) {
		for p := blk.Start; p < blk.End; p++ {
			if addr := m.addrOf(points[p]); addr >= 0 {
				out[p] = m.Mask[addr]
			}
		}
	})
	return out
}

// Count returns the number of occupied voxels.
func (m *MaskGrid) Count() int {
	count := 0
	for _, v := range m.Mask {
		if v {
			count++
		}
	}
	return count
}

// Points returns the world-space lattice points of the mask.
func (m *MaskGrid) Points() []types.Vec3 {
	return LatticePoints(m.BBox, m.WorldSize)
}

// OccupiedBBox returns the tightest box around the occupied lattice points.
// The second return value is false if no voxel is occupied.
func (m *MaskGrid) OccupiedBBox() (types.BBox, bool) {
	var (
		out   types.BBox
		found bool
	)
	for addr, p := range m.Points() {
		if !m.Mask[addr] {
			continue
		}
		if !found {
			out = types.NewBBox(p, p)
			found = true
			continue
		}
		out.Min = types.MinVec3(out.Min, p)
		out.Max = types.MaxVec3(out.Max, p)
	}
	return out, found
}

// Resample creates a mask at a new resolution by looking up the current mask
// at the new lattice points.
func (m *MaskGrid) Resample(pool *tracer.Pool, worldSize types.WorldSize) (*MaskGrid, error) {
	return NewMaskGrid(m.Test(pool, LatticePoints(m.BBox, worldSize)), worldSize, m.BBox)
}

// Rebuild probes alpha at the lattice points, dilates it with a 3x3x3 max
// filter and clears every voxel whose dilated alpha does not exceed
// threshold. Voxels are only ever cleared. The number of occupied voxels
// after the update is returned.
func (m *MaskGrid) Rebuild(probe AlphaProbe, threshold float32) int {
	alpha := MaxPool3(probe(m.Points()), m.WorldSize)

	count := 0
	for addr, occupied := range m.Mask {
		occupied = occupied && alpha[addr] > threshold
		m.Mask[addr] = occupied
		if occupied {
			count++
		}
	}
	return count
}

// IntersectWithImportance clears every voxel that falls outside the set of
// most important voxels holding keepFraction of the total importance.
// Importance must be laid out like the mask.
func (m *MaskGrid) IntersectWithImportance(importance []float32, keepFraction float32) (int, error) {
	keep, err := prune.RankAndPrune(importance, m.Mask, keepFraction)
	if err != nil {
		return 0, err
	}
	m.Mask = keep
	return m.Count(), nil
}

// MaskoutNearCamVox sets channel 0 of every voxel lying within nearClip of
// any camera origin to -100. It returns the number of updated voxels.
func (g *Grid) MaskoutNearCamVox(pool *tracer.Pool, camOrigins []types.Vec3, nearClip float32) int {
	if len(camOrigins) == 0 {
		return 0
	}
	if pool == nil {
		pool = tracer.Default()
	}

	points := g.Points()
	hit := make([]bool, len(points))
	pool.Run(len(points), func(blk tracer.Block) {
		for p := blk.Start; p < blk.End; p++ {
			for _, o := range camOrigins {
				if points[p].Sub(o).Len() <= nearClip {
					hit[p] = true
					break
				}
			}
		}
	})

	count := 0
	for addr, h := range hit {
		if h {
			g.Data[addr] = -100
			count++
		}
	}
	return count
}
