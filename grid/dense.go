// Package grid implements dense voxel grids with trilinear interpolation and
// the boolean occupancy cache used to skip empty space.
package grid

import (
	"errors"
	"sync"

	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
	"github.com/chewxy/math32"
)

const (
	// Number of locks guarding scatter-adds into the gradient buffer. Must be
	// a power of 2.
	numShards = 256
)

var (
	ErrInvalidWorldSize = errors.New("grid: world size must be positive along every axis")
	ErrInvalidBBox      = errors.New("grid: bbox must have a positive extent along every axis")
	ErrInvalidChannels  = errors.New("grid: channel count must be positive")
	ErrShapeMismatch    = errors.New("grid: buffer length does not match point count")
)

// A dense [C][X][Y][Z] float32 voxel grid spanning a bounding box. Voxel 0
// sits on BBox.Min and voxel N-1 on BBox.Max along each axis.
type Grid struct {
	Channels  int
	WorldSize types.WorldSize
	BBox      types.BBox

	// Incremented every time the grid is resampled.
	Version int

	// Channel-major voxel values: Data[c*volume + WorldSize.Addr(i,j,k)].
	Data []float32

	// Gradient buffer with the same layout as Data. Allocated on the first
	// call to ZeroGrad or QueryBackward.
	Grad []float32

	shardLocks [numShards]sync.Mutex
}

// Create a new zero-filled grid.
func New(channels int, worldSize types.WorldSize, bbox types.BBox) (*Grid, error) {
	if channels <= 0 {
		return nil, ErrInvalidChannels
	}
	if !worldSize.Valid() {
		return nil, ErrInvalidWorldSize
	}
	if !bbox.Valid() {
		return nil, ErrInvalidBBox
	}

	return &Grid{
		Channels:  channels,
		WorldSize: worldSize,
		BBox:      bbox,
		Data:      make([]float32, channels*worldSize.Volume()),
	}, nil
}

// Fill every voxel of every channel with v.
func (g *Grid) Fill(v float32) {
	for idx := range g.Data {
		g.Data[idx] = v
	}
}

// Get the value of channel c at voxel (i, j, k).
func (g *Grid) At(c, i, j, k int) float32 {
	return g.Data[c*g.WorldSize.Volume()+g.WorldSize.Addr(i, j, k)]
}

// Set the value of channel c at voxel (i, j, k).
func (g *Grid) Set(c, i, j, k int, v float32) {
	g.Data[c*g.WorldSize.Volume()+g.WorldSize.Addr(i, j, k)] = v
}

// Reset the gradient buffer.
func (g *Grid) ZeroGrad() {
	if len(g.Grad) != len(g.Data) {
		g.Grad = make([]float32, len(g.Data))
		return
	}
	for idx := range g.Grad {
		g.Grad[idx] = 0
	}
}

// Points returns the world-space position of every lattice voxel in address
// order.
func (g *Grid) Points() []types.Vec3 {
	return LatticePoints(g.BBox, g.WorldSize)
}

// LatticePoints returns the linspace lattice of ws voxels spanning bbox in
// address order (z fastest).
func LatticePoints(bbox types.BBox, ws types.WorldSize) []types.Vec3 {
	xs := bbox.Linspace(0, ws[0])
	ys := bbox.Linspace(1, ws[1])
	zs := bbox.Linspace(2, ws[2])

	points := make([]types.Vec3, 0, ws.Volume())
	for _, x := range xs {
		for _, y := range ys {
			for _, z := range zs {
				points = append(points, types.XYZ(x, y, z))
			}
		}
	}
	return points
}

// Trilinear corner addresses and weights for a point. Corners outside the
// lattice are omitted.
type corners struct {
	addr   [8]int
	weight [8]float32
	count  int
}

// Convert a world-space point into continuous lattice coordinates.
func (g *Grid) toIndex(p types.Vec3) [3]float32 {
	var u [3]float32
	for axis := 0; axis < 3; axis++ {
		n := g.WorldSize[axis]
		if n == 1 {
			continue
		}
		u[axis] = (p[axis] - g.BBox.Min[axis]) / (g.BBox.Max[axis] - g.BBox.Min[axis]) * float32(n-1)
	}
	return u
}

func (g *Grid) cornersAt(u [3]float32, out *corners) {
	out.count = 0

	var base [3]int
	var frac [3]float32
	for axis := 0; axis < 3; axis++ {
		f := math32.Floor(u[axis])
		base[axis] = int(f)
		frac[axis] = u[axis] - f
	}

	ws := g.WorldSize
	for c := 0; c < 8; c++ {
		var idx [3]int
		w := float32(1)
		for axis := 0; axis < 3; axis++ {
			if c&(4>>axis) != 0 {
				idx[axis] = base[axis] + 1
				w *= frac[axis]
			} else {
				idx[axis] = base[axis]
				w *= 1 - frac[axis]
			}
			if idx[axis] < 0 || idx[axis] >= ws[axis] {
				w = 0
			}
		}
		if w == 0 {
			continue
		}
		out.addr[out.count] = ws.Addr(idx[0], idx[1], idx[2])
		out.weight[out.count] = w
		out.count++
	}
}

// Query interpolates all channels at each point. The result is point-major:
// out[p*Channels + c].
func (g *Grid) Query(pool *tracer.Pool, points []types.Vec3) []float32 {
	out := make([]float32, len(points)*g.Channels)
	if len(points) == 0 {
		return out
	}
	if pool == nil {
		pool = tracer.Default()
	}

	vol := g.WorldSize.Volume()
	pool.Run(len(points), func(blk tracer.Block) {
		var cr corners
		for p := blk.Start; p < blk.End; p++ {
			g.cornersAt(g.toIndex(points[p]), &cr)
			row := out[p*g.Channels : (p+1)*g.Channels]
			for n := 0; n < cr.count; n++ {
				for c := range row {
					row[c] += cr.weight[n] * g.Data[c*vol+cr.addr[n]]
				}
			}
		}
	})
	return out
}

// QueryBackward scatter-adds gradOut (point-major, see Query) into the
// gradient buffer using the trilinear weights of each point.
func (g *Grid) QueryBackward(pool *tracer.Pool, points []types.Vec3, gradOut []float32) error {
	if len(gradOut) != len(points)*g.Channels {
		return ErrShapeMismatch
	}
	if len(g.Grad) != len(g.Data) {
		g.ZeroGrad()
	}
	if len(points) == 0 {
		return nil
	}
	if pool == nil {
		pool = tracer.Default()
	}

	vol := g.WorldSize.Volume()
	pool.Run(len(points), func(blk tracer.Block) {
		var cr corners
		for p := blk.Start; p < blk.End; p++ {
			row := gradOut[p*g.Channels : (p+1)*g.Channels]
			if allZero(row) {
				continue
			}
			g.cornersAt(g.toIndex(points[p]), &cr)
			for n := 0; n < cr.count; n++ {
				addr := cr.addr[n]
				mu := &g.shardLocks[addr&(numShards-1)]
				mu.Lock()
				for c, gv := range row {
					g.Grad[c*vol+addr] += cr.weight[n] * gv
				}
				mu.Unlock()
			}
		}
	})
	return nil
}

// Rescale resamples the grid to a new resolution with align-corners
// trilinear interpolation. The receiver is left untouched.
func (g *Grid) Rescale(pool *tracer.Pool, worldSize types.WorldSize) (*Grid, error) {
	out, err := New(g.Channels, worldSize, g.BBox)
	if err != nil {
		return nil, err
	}
	out.Version = g.Version + 1
	if pool == nil {
		pool = tracer.Default()
	}

	var ratio [3]float32
	for axis := 0; axis < 3; axis++ {
		if worldSize[axis] > 1 {
			ratio[axis] = float32(g.WorldSize[axis]-1) / float32(worldSize[axis]-1)
		}
	}

	srcVol := g.WorldSize.Volume()
	dstVol := worldSize.Volume()
	pool.Run(dstVol, func(blk tracer.Block) {
		var cr corners
		for addr := blk.Start; addr < blk.End; addr++ {
			i, j, k := worldSize.Coords(addr)
			u := [3]float32{float32(i) * ratio[0], float32(j) * ratio[1], float32(k) * ratio[2]}
			// Keep the far edge on the last source voxel.
			for axis := 0; axis < 3; axis++ {
				if last := float32(g.WorldSize[axis] - 1); u[axis] > last {
					u[axis] = last
				}
			}
			g.cornersAt(u, &cr)
			for c := 0; c < g.Channels; c++ {
				var v float32
				for n := 0; n < cr.count; n++ {
					v += cr.weight[n] * g.Data[c*srcVol+cr.addr[n]]
				}
				out.Data[c*dstVol+addr] = v
			}
		}
	})
	return out, nil
}

// TotalVariationAddGrad adds the gradient of a clamped total variation
// penalty into the gradient buffer. Each axis weight is divided by 6. Unless
// denseMode is set only voxels that already carry a gradient are updated.
func (g *Grid) TotalVariationAddGrad(pool *tracer.Pool, wx, wy, wz float32, denseMode bool) {
	if len(g.Grad) != len(g.Data) {
		g.ZeroGrad()
	}
	if pool == nil {
		pool = tracer.Default()
	}

	w := [3]float32{wx / 6, wy / 6, wz / 6}
	ws := g.WorldSize
	stride := [3]int{ws[1] * ws[2], ws[2], 1}
	vol := ws.Volume()

	pool.Run(len(g.Data), func(blk tracer.Block) {
		for index := blk.Start; index < blk.End; index++ {
			if !denseMode && g.Grad[index] == 0 {
				continue
			}
			i, j, k := ws.Coords(index % vol)
			pos := [3]int{i, j, k}
			v := g.Data[index]

			var add float32
			for axis := 0; axis < 3; axis++ {
				if pos[axis] > 0 {
					add += w[axis] * clamp(v-g.Data[index-stride[axis]], -1, 1)
				}
				if pos[axis] < ws[axis]-1 {
					add += w[axis] * clamp(v-g.Data[index+stride[axis]], -1, 1)
				}
			}
			g.Grad[index] += add
		}
	})
}

// MaxPool3 applies a 3x3x3 stride-1 max filter to a single channel volume.
// Neighbors outside the lattice are ignored.
func MaxPool3(values []float32, ws types.WorldSize) []float32 {
	cur := append([]float32(nil), values...)
	tmp := make([]float32, len(values))
	stride := [3]int{ws[1] * ws[2], ws[2], 1}

	// The filter is separable so run one 3-tap pass per axis.
	for axis := 0; axis < 3; axis++ {
		for addr := range cur {
			i, j, k := ws.Coords(addr)
			pos := [3]int{i, j, k}[axis]
			m := cur[addr]
			if pos > 0 && cur[addr-stride[axis]] > m {
				m = cur[addr-stride[axis]]
			}
			if pos < ws[axis]-1 && cur[addr+stride[axis]] > m {
				m = cur[addr+stride[axis]]
			}
			tmp[addr] = m
		}
		cur, tmp = tmp, cur
	}
	return cur
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func allZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
