package scene

import (
	"math"
	"math/rand"
	"sort"

	"github.com/achilleasa/radiance/renderer"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
	"github.com/go-gl/mathgl/mgl64"
)

// An ellipsoid with constant density and color.
type Blob struct {
	Center  mgl64.Vec3
	Radii   mgl64.Vec3
	Density float64
	Color   mgl64.Vec3
}

// Contains returns true if p lies inside the blob.
func (b *Blob) Contains(p mgl64.Vec3) bool {
	var r2 float64
	for axis := 0; axis < 3; axis++ {
		v := (p[axis] - b.Center[axis]) / b.Radii[axis]
		r2 += v * v
	}
	return r2 <= 1
}

// A Phantom is an analytic scene made of overlapping blobs. It renders ground
// truth images by integrating its absorption along each ray and serves as a
// stand-in for captured photographs.
type Phantom struct {
	BBox       types.BBox
	Blobs      []Blob
	Background mgl64.Vec3

	// Integration step in world units.
	Step float64

	Cameras []*Camera

	// Rendered views, one per camera with Width*Height colors each.
	views [][]types.Vec3
	rng   *rand.Rand

	// First global pixel index of every view followed by the pixel total.
	viewOffsets []int
	gen         *BatchIndexGenerator
}

// Create the default phantom: three colored blobs inside [-1, 1]^3 seen by n
// cameras placed on an orbit.
func NewPhantom(numViews, width, height int, seed int64) *Phantom {
	ph := &Phantom{
		BBox:       types.NewBBox(types.XYZ(-1, -1, -1), types.XYZ(1, 1, 1)),
		Background: mgl64.Vec3{1, 1, 1},
		Step:       0.01,
		rng:        rand.New(rand.NewSource(seed)),
		Blobs: []Blob{
			{Center: mgl64.Vec3{0, 0, 0}, Radii: mgl64.Vec3{0.5, 0.35, 0.5}, Density: 8, Color: mgl64.Vec3{0.9, 0.3, 0.2}},
			{Center: mgl64.Vec3{0.45, 0.3, -0.2}, Radii: mgl64.Vec3{0.25, 0.25, 0.25}, Density: 15, Color: mgl64.Vec3{0.2, 0.8, 0.3}},
			{Center: mgl64.Vec3{-0.4, -0.35, 0.3}, Radii: mgl64.Vec3{0.3, 0.15, 0.2}, Density: 20, Color: mgl64.Vec3{0.2, 0.3, 0.9}},
		},
	}
	ph.Cameras = OrbitCameras(numViews, width, height, 40, types.XYZ(0, 0, 0), 3.5, 25)
	return ph
}

// Evaluate density and emitted color at a point.
func (ph *Phantom) sample(p mgl64.Vec3) (float64, mgl64.Vec3) {
	var density float64
	var color mgl64.Vec3
	for idx := range ph.Blobs {
		b := &ph.Blobs[idx]
		if !b.Contains(p) {
			continue
		}
		density += b.Density
		color = color.Add(b.Color.Mul(b.Density))
	}
	if density > 0 {
		color = color.Mul(1 / density)
	}
	return density, color
}

// Integrate emission and absorption along a ray between near and far.
func (ph *Phantom) Trace(origin, dir types.Vec3, near, far float32) types.Vec3 {
	o := mgl64.Vec3{float64(origin[0]), float64(origin[1]), float64(origin[2])}
	d := mgl64.Vec3{float64(dir[0]), float64(dir[1]), float64(dir[2])}.Normalize()

	transmittance := 1.0
	var rgb mgl64.Vec3
	for s := float64(near); s < float64(far); s += ph.Step {
		density, color := ph.sample(o.Add(d.Mul(s)))
		if density == 0 {
			continue
		}
		alpha := 1 - math.Exp(-density*ph.Step)
		rgb = rgb.Add(color.Mul(transmittance * alpha))
		transmittance *= 1 - alpha
		if transmittance < 1e-4 {
			break
		}
	}
	rgb = rgb.Add(ph.Background.Mul(transmittance))
	return types.XYZ(float32(rgb[0]), float32(rgb[1]), float32(rgb[2]))
}

// Render the ground truth view of every camera.
func (ph *Phantom) RenderViews(pool *tracer.Pool, near, far float32) {
	if pool == nil {
		pool = tracer.Default()
	}

	ph.views = make([][]types.Vec3, len(ph.Cameras))
	ph.viewOffsets = make([]int, len(ph.Cameras)+1)
	ph.gen = nil
	for idx, cam := range ph.Cameras {
		ph.viewOffsets[idx+1] = ph.viewOffsets[idx] + cam.Width*cam.Height
		origins, dirs, _ := cam.Rays()
		view := make([]types.Vec3, len(origins))
		pool.Run(len(origins), func(blk tracer.Block) {
			for px := blk.Start; px < blk.End; px++ {
				view[px] = ph.Trace(origins[px], dirs[px], near, far)
			}
		})
		ph.views[idx] = view
	}
}

// Get the rendered ground truth for a view.
func (ph *Phantom) View(idx int) []types.Vec3 {
	return ph.views[idx]
}

// CameraOrigins returns the position of every camera.
func (ph *Phantom) CameraOrigins() []types.Vec3 {
	out := make([]types.Vec3, len(ph.Cameras))
	for idx, cam := range ph.Cameras {
		out[idx] = cam.Origin()
	}
	return out
}

// Views returns the ray generators of all cameras.
func (ph *Phantom) Views() []renderer.RayGenerator {
	out := make([]renderer.RayGenerator, len(ph.Cameras))
	for idx, cam := range ph.Cameras {
		out[idx] = cam
	}
	return out
}

// Batch draws n random pixels across all rendered views and returns their
// rays and ground truth colors. Pixels are drawn without replacement until
// every pixel has been used once. RenderViews must be called first.
func (ph *Phantom) Batch(n int) (raysO, raysD, viewdirs, target []types.Vec3) {
	if len(ph.views) == 0 || n <= 0 {
		return nil, nil, nil, nil
	}
	total := ph.viewOffsets[len(ph.Cameras)]
	if ph.gen == nil || ph.gen.batch != n {
		ph.gen = NewBatchIndexGenerator(total, n, ph.rng.Int63())
	}

	pixels := ph.gen.Next()
	for len(pixels) < n {
		pixels = append(pixels, ph.gen.Next()...)
	}
	pixels = pixels[:n]

	raysO = make([]types.Vec3, n)
	raysD = make([]types.Vec3, n)
	viewdirs = make([]types.Vec3, n)
	target = make([]types.Vec3, n)
	for idx, pixel := range pixels {
		view := sort.SearchInts(ph.viewOffsets, pixel+1) - 1
		cam := ph.Cameras[view]
		px := pixel - ph.viewOffsets[view]
		raysO[idx], raysD[idx] = cam.Ray(px%cam.Width, px/cam.Width)
		viewdirs[idx] = raysD[idx].Normalize()
		target[idx] = ph.views[view][px]
	}
	return raysO, raysD, viewdirs, target
}
