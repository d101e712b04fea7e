package model

import (
	"math"
	"math/rand"
	"testing"

	"github.com/achilleasa/radiance/config"
	"github.com/achilleasa/radiance/nn"
	"github.com/achilleasa/radiance/renderer"
	"github.com/achilleasa/radiance/scene"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
)

func testModel(t *testing.T, rgbnetDim int, direct bool) *Model {
	cfg := config.Default()
	cfg.Model.NumVoxels = 12 * 12 * 12
	cfg.Model.NumVoxelsBase = 12 * 12 * 12
	cfg.Model.RGBNetDim = rgbnetDim
	cfg.Model.RGBNetDirect = direct
	cfg.Model.RGBNetWidth = 16
	cfg.Model.FastColorThresInit = 0
	cfg.Model.FastColorThresFinal = 0
	cfg.Train.NIters = 100
	cfg.Prune.DynamicIters = 50

	m, err := New(cfg, tracer.NewPool(2, nil))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// Fill the grids with a deterministic non-trivial pattern.
func fillPattern(m *Model) {
	for idx := range m.Density.Data {
		m.Density.Data[idx] = float32(idx%7)*0.5 - 1
	}
	if m.K0 != nil {
		for idx := range m.K0.Data {
			m.K0.Data[idx] = float32(idx%5)*0.3 - 0.6
		}
	}
}

func testRays() (raysO, raysD, viewdirs []types.Vec3) {
	raysO = []types.Vec3{
		types.XYZ(0.05, 0.13, -3),
		types.XYZ(-0.3, 0.2, -3),
		// Misses the bbox
		types.XYZ(5, 5, -3),
	}
	raysD = []types.Vec3{
		types.XYZ(0.02, 0.01, 1),
		types.XYZ(0.1, -0.05, 1),
		types.XYZ(0, 0, 1),
	}
	for _, d := range raysD {
		viewdirs = append(viewdirs, d.Normalize())
	}
	return raysO, raysD, viewdirs
}

func TestModelLayout(t *testing.T) {
	type spec struct {
		dim    int
		direct bool
		mode   ColorMode
		k0     int
	}
	specs := []spec{
		{0, false, ColorCoarse, 3},
		{12, true, ColorDirect, 12},
		{9, false, ColorResidual, 9},
	}

	for specIndex, s := range specs {
		m := testModel(t, s.dim, s.direct)
		if m.Mode != s.mode {
			t.Fatalf("[spec %d] expected mode %s; got %s", specIndex, s.mode, m.Mode)
		}
		if m.K0.Channels != s.k0 {
			t.Fatalf("[spec %d] expected %d feature channels; got %d", specIndex, s.k0, m.K0.Channels)
		}
		if m.Mask.WorldSize != m.WorldSize() {
			t.Fatalf("[spec %d] expected the cache to share the density lattice", specIndex)
		}
		if (m.RGBNet == nil) != (s.mode == ColorCoarse) {
			t.Fatalf("[spec %d] unexpected color network presence", specIndex)
		}
	}
}

func TestEmptyRaysRenderBackground(t *testing.T) {
	m := testModel(t, 12, true)
	fillPattern(m)
	raysO, raysD, viewdirs := testRays()

	opts := m.Render
	opts.Background = types.XYZ(0.25, 0.5, 0.75)
	res, err := m.Forward(raysO, raysD, viewdirs, opts)
	if err != nil {
		t.Fatal(err)
	}

	if res.AlphaInvLast[2] != 1 {
		t.Fatalf("expected a missed ray to keep full transmittance; got %f", res.AlphaInvLast[2])
	}
	for c := 0; c < 3; c++ {
		if res.RGB[6+c] != opts.Background[c] {
			t.Fatalf("expected the missed ray to render the background; got %v", res.RGB[6:9])
		}
	}
	for _, ray := range res.RayId {
		if ray == 2 {
			t.Fatal("expected no samples for the missed ray")
		}
	}

	// Clearing the cache leaves every ray without samples
	for idx := range m.Mask.Mask {
		m.Mask.Mask[idx] = false
	}
	if res, err = m.Forward(raysO, raysD, viewdirs, opts); err != nil {
		t.Fatal(err)
	}
	if len(res.Weights) != 0 {
		t.Fatalf("expected no samples; got %d", len(res.Weights))
	}
	if err = m.Backward(res, make([]float32, 9), nil); err != nil {
		t.Fatal(err)
	}
}

func TestForwardShapeMismatch(t *testing.T) {
	m := testModel(t, 0, false)
	raysO, raysD, viewdirs := testRays()
	if _, err := m.Forward(raysO[:2], raysD, viewdirs, m.Render); err != renderer.ErrShapeMismatch {
		t.Fatalf("expected ErrShapeMismatch; got %v", err)
	}
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	m := testModel(t, 0, false)
	fillPattern(m)
	raysO, raysD, viewdirs := testRays()

	rng := rand.New(rand.NewSource(3))
	gradRGB := make([]float32, 9)
	for idx := range gradRGB {
		gradRGB[idx] = rng.Float32()*2 - 1
	}
	gradLast := []float32{0.3, -0.7, 0.1}

	loss := func() float64 {
		res, err := m.Forward(raysO, raysD, viewdirs, m.Render)
		if err != nil {
			t.Fatal(err)
		}
		var sum float64
		for idx, v := range res.RGB {
			sum += float64(v) * float64(gradRGB[idx])
		}
		for idx, v := range res.AlphaInvLast {
			sum += float64(v) * float64(gradLast[idx])
		}
		return sum
	}

	res, err := m.Forward(raysO, raysD, viewdirs, m.Render)
	if err != nil {
		t.Fatal(err)
	}
	m.ZeroGrad()
	if err = m.Backward(res, gradRGB, gradLast); err != nil {
		t.Fatal(err)
	}

	check := func(name string, data, grad []float32) {
		// Probe the first few voxels that carry a gradient
		probed := 0
		for idx, g := range grad {
			if math.Abs(float64(g)) < 1e-4 {
				continue
			}
			const h = 5e-2
			orig := data[idx]
			data[idx] = orig + h
			lp := loss()
			data[idx] = orig - h
			lm := loss()
			data[idx] = orig

			numeric := (lp - lm) / (2 * h)
			if math.Abs(numeric-float64(g)) > 2e-2*math.Abs(numeric)+1e-5 {
				t.Fatalf("[%s voxel %d] expected gradient %f; got %f", name, idx, numeric, g)
			}
			if probed++; probed == 8 {
				break
			}
		}
		if probed == 0 {
			t.Fatalf("expected some %s voxels to receive a gradient", name)
		}
	}

	check("density", m.Density.Data, append([]float32(nil), m.Density.Grad...))
	check("k0", m.K0.Data, append([]float32(nil), m.K0.Grad...))
}

func TestBackwardThroughNetwork(t *testing.T) {
	for _, direct := range []bool{true, false} {
		m := testModel(t, 9, direct)
		fillPattern(m)
		raysO, raysD, viewdirs := testRays()

		res, err := m.Forward(raysO, raysD, viewdirs, m.Render)
		if err != nil {
			t.Fatal(err)
		}
		gradRGB := []float32{1, 1, 1, -1, -1, -1, 1, 1, 1}
		if err = m.Backward(res, gradRGB, nil); err != nil {
			t.Fatal(err)
		}

		if !hasNonZero(m.Density.Grad) || !hasNonZero(m.K0.Grad) {
			t.Fatalf("[direct %t] expected grid gradients", direct)
		}
		if !hasNonZero(m.RGBNet.Layers[0].GradW.RawMatrix().Data) {
			t.Fatalf("[direct %t] expected network gradients", direct)
		}
	}
}

func TestBackwardWithoutState(t *testing.T) {
	m := testModel(t, 0, false)
	if err := m.Backward(&Result{NumRays: 1}, make([]float32, 3), nil); err != ErrNoForwardState {
		t.Fatalf("expected ErrNoForwardState; got %v", err)
	}
}

func TestRenderDepth(t *testing.T) {
	m := testModel(t, 0, false)
	fillPattern(m)
	raysO, raysD, viewdirs := testRays()

	opts := m.Render
	opts.RenderDepth = true
	opts.DepthLabel = true
	res, err := m.Forward(raysO, raysD, viewdirs, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Depth) != 3 || res.Depth[2] != 0 || res.Depth[0] <= 0 {
		t.Fatalf("expected positive depth for hits and zero for misses; got %v", res.Depth)
	}
	if len(res.DepthLabel) != len(res.Weights) {
		t.Fatalf("expected one depth label per sample; got %d labels for %d samples", len(res.DepthLabel), len(res.Weights))
	}
}

func TestUpdateOccupancyCache(t *testing.T) {
	m := testModel(t, 0, false)
	m.Density.Fill(-100)
	ws := m.WorldSize()
	c := ws[0] / 2
	m.Density.Set(0, c, c, c, 10)
	m.FastColorThresFinal = 1e-3

	count, err := m.UpdateOccupancyCache(-1, 1)
	if err != nil {
		t.Fatal(err)
	}
	// The dilated alpha keeps the 3x3x3 neighborhood of the dense voxel
	if count != 27 {
		t.Fatalf("expected 27 occupied voxels; got %d", count)
	}
	if m.FastColorThres != 1e-3 {
		t.Fatalf("expected the final threshold to be selected; got %g", m.FastColorThres)
	}

	before := append([]bool(nil), m.Mask.Mask...)
	again, err := m.UpdateOccupancyCache(-1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if again != count {
		t.Fatalf("expected a repeated rebuild to keep %d voxels; got %d", count, again)
	}
	for idx := range before {
		if before[idx] != m.Mask.Mask[idx] {
			t.Fatalf("expected identical masks after a repeated rebuild; voxel %d differs", idx)
		}
	}

	// Raising density elsewhere never re-occupies cleared voxels
	m.Density.Fill(10)
	if again, _ = m.UpdateOccupancyCache(-1, 1); again != count {
		t.Fatalf("expected the cache to only shrink; got %d voxels", again)
	}
}

func TestOccupancySchedule(t *testing.T) {
	m := testModel(t, 0, false)
	m.FastColorThresInit = 1e-4
	m.FastColorThresFinal = 1e-2

	type spec struct {
		step  int
		thres float32
		keep  float32
	}
	specs := []spec{
		{0, 1e-4, 1},
		{50, 0.00505, 0.9},
		{75, 0.007525, 0.95},
		{100, 1e-2, 0.9},
		{-1, 1e-2, 0.9},
	}

	for specIndex, s := range specs {
		if got := m.CacheThreshold(s.step); math.Abs(float64(got-s.thres)) > 1e-6 {
			t.Fatalf("[spec %d] expected threshold %g; got %g", specIndex, s.thres, got)
		}
		if s.step < m.NDynamicIters {
			continue
		}
		if got := m.ImportanceKeep(s.step, 0.9); math.Abs(float64(got-s.keep)) > 1e-6 {
			t.Fatalf("[spec %d] expected keep fraction %g; got %g", specIndex, s.keep, got)
		}
	}
}

func TestImportancePruning(t *testing.T) {
	m := testModel(t, 0, false)
	fillPattern(m)
	raysO, raysD, _ := testRays()

	if _, err := m.UpdateOccupancyCache(60, 0.5); err != ErrNoImportance {
		t.Fatalf("expected ErrNoImportance; got %v", err)
	}

	if err := m.AccumulateImportance(raysO, raysD, m.Render); err != nil {
		t.Fatal(err)
	}
	if !hasNonZero(m.Importance) {
		t.Fatal("expected voxels along the rays to receive importance")
	}

	before := m.Mask.Count()
	count, err := m.UpdateOccupancyCache(60, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if count >= before {
		t.Fatalf("expected importance pruning to clear voxels; got %d of %d", count, before)
	}
	for addr, occupied := range m.Mask.Mask {
		if occupied && m.Importance[addr] == 0 {
			t.Fatalf("expected voxel %d without importance to be cleared", addr)
		}
	}
}

func TestScaleVolumeGrid(t *testing.T) {
	m := testModel(t, 0, false)
	fillPattern(m)
	from := m.WorldSize()

	if err := m.ScaleVolumeGrid(8 * m.NumVoxels); err != nil {
		t.Fatal(err)
	}
	ws := m.WorldSize()
	if ws.Volume() <= from.Volume() {
		t.Fatalf("expected the lattice to grow from %s; got %s", from, ws)
	}
	if m.K0.WorldSize != ws || m.Mask.WorldSize != ws {
		t.Fatal("expected every grid to share the new lattice")
	}
	if m.Density.Version != 1 {
		t.Fatalf("expected density version 1; got %d", m.Density.Version)
	}
	if len(m.Density.Grad) != len(m.Density.Data) {
		t.Fatal("expected a gradient buffer for the new grid")
	}
	if math.Abs(float64(m.VoxelSizeRatio-0.5)) > 1e-4 {
		t.Fatalf("expected voxel size ratio 0.5; got %f", m.VoxelSizeRatio)
	}
}

func TestPruneAndQuantize(t *testing.T) {
	m := testModel(t, 0, false)
	rng := rand.New(rand.NewSource(9))
	for idx := range m.Density.Data {
		m.Density.Data[idx] = rng.Float32()*2 - 1
	}
	for idx := range m.K0.Data {
		m.K0.Data[idx] = rng.Float32()*2 - 1
	}
	origDensity := append([]float32(nil), m.Density.Data...)
	origMask := append([]bool(nil), m.Mask.Mask...)

	if _, err := m.PruneAndQuantize(0.5, 8); err != ErrNoImportance {
		t.Fatalf("expected ErrNoImportance; got %v", err)
	}

	exp, err := m.PruneAndQuantize(1, 8)
	if err != nil {
		t.Fatal(err)
	}
	for idx := range origMask {
		if exp.Keep[idx] != origMask[idx] {
			t.Fatal("expected a keep fraction of 1 to retain the occupancy cache")
		}
	}
	if exp.Density.Overflow != 0 {
		t.Fatalf("expected no overflow; got %d", exp.Density.Overflow)
	}
	for idx, v := range origDensity {
		if diff := math.Abs(float64(m.Density.Data[idx] - v)); diff > float64(exp.Density.MaxError())+1e-6 {
			t.Fatalf("[voxel %d] expected reconstruction within %f; got error %f", idx, exp.Density.MaxError(), diff)
		}
	}
	if exp.Features == nil || len(exp.Features.Values) != len(m.K0.Data) {
		t.Fatal("expected quantized features for every retained voxel")
	}
	if m.Density.Version != 1 {
		t.Fatalf("expected density grid to be replaced; got version %d", m.Density.Version)
	}
}

func TestPruneZeroesDroppedVoxels(t *testing.T) {
	m := testModel(t, 0, false)
	fillPattern(m)
	raysO, raysD, _ := testRays()
	if err := m.AccumulateImportance(raysO, raysD, m.Render); err != nil {
		t.Fatal(err)
	}

	keep, err := m.Prune(0.5)
	if err != nil {
		t.Fatal(err)
	}
	vol := m.WorldSize().Volume()
	for addr, k := range keep {
		if k != m.Mask.Mask[addr] {
			t.Fatalf("expected the cache to match the keep-set at voxel %d", addr)
		}
		if k {
			continue
		}
		if m.Density.Data[addr] != 0 {
			t.Fatalf("expected pruned voxel %d to have zero density", addr)
		}
		for c := 0; c < m.K0.Channels; c++ {
			if m.K0.Data[c*vol+addr] != 0 {
				t.Fatalf("expected pruned voxel %d to have zero features", addr)
			}
		}
	}
}

func TestHitCoarseGeo(t *testing.T) {
	m := testModel(t, 0, false)
	raysO, raysD, _ := testRays()

	hit, err := m.HitCoarseGeo(raysO, raysD, m.Render)
	if err != nil {
		t.Fatal(err)
	}
	if !hit[0] || !hit[1] || hit[2] {
		t.Fatalf("expected the first two rays to hit; got %v", hit)
	}

	for idx := range m.Mask.Mask {
		m.Mask.Mask[idx] = false
	}
	hit, _ = m.HitCoarseGeo(raysO, raysD, m.Render)
	if hit[0] || hit[1] {
		t.Fatalf("expected no hits against an empty cache; got %v", hit)
	}
}

type rayBatch struct {
	o, d []types.Vec3
}

func (rb rayBatch) Rays() (origins, dirs, viewdirs []types.Vec3) {
	return rb.o, rb.d, rb.d
}

func TestVoxelCountViews(t *testing.T) {
	m := testModel(t, 0, false)
	ws := m.WorldSize()
	xs := m.BBox.Linspace(0, ws[0])
	ys := m.BBox.Linspace(1, ws[1])

	// A ray running along a lattice line
	view := rayBatch{
		o: []types.Vec3{types.XYZ(xs[3], ys[4], -3)},
		d: []types.Vec3{types.XYZ(0, 0, 1)},
	}
	count, err := m.VoxelCountViews([]renderer.RayGenerator{view, view}, 0, 0.5)
	if err != nil {
		t.Fatal(err)
	}

	seen := 0
	for addr, c := range count {
		i, j, _ := ws.Coords(addr)
		if c == 0 {
			continue
		}
		if c != 2 || i != 3 || j != 4 {
			t.Fatalf("expected only voxels on the ray line to be seen by both views; voxel (%d, %d) has count %f", i, j, c)
		}
		seen++
	}
	if seen == 0 {
		t.Fatal("expected voxels along the ray to be counted")
	}
}

func TestSetPerVoxelLR(t *testing.T) {
	m := testModel(t, 0, false)
	opt := nn.NewAdam()
	m.RegisterParams(opt, 0.1, 0.1, 0)

	vol := m.WorldSize().Volume()
	if err := m.SetPerVoxelLR(opt, make([]float32, vol-1)); err != ErrMaskLayout {
		t.Fatalf("expected ErrMaskLayout; got %v", err)
	}

	counts := make([]float32, vol)
	counts[0], counts[1] = 4, 2
	if err := m.SetPerVoxelLR(opt, counts); err != nil {
		t.Fatal(err)
	}
	for idx := range m.Density.Grad {
		m.Density.Grad[idx] = 1
	}
	for idx := range m.K0.Grad {
		m.K0.Grad[idx] = 1
	}
	before := append([]float32(nil), m.Density.Data...)
	lastChannel := (m.K0.Channels - 1) * vol
	k0Before := m.K0.Data[lastChannel+1]
	opt.Step()

	type spec struct {
		addr int
		exp  float32
	}
	specs := []spec{{0, 0.1}, {1, 0.05}, {2, 0}, {vol - 1, 0}}
	for specIndex, spec := range specs {
		if got := before[spec.addr] - m.Density.Data[spec.addr]; math.Abs(float64(got-spec.exp)) > 1e-5 {
			t.Fatalf("[spec %d] expected voxel %d to move by %f; got %f", specIndex, spec.addr, spec.exp, got)
		}
	}
	if got := k0Before - m.K0.Data[lastChannel+1]; math.Abs(float64(got-0.05)) > 1e-5 {
		t.Fatalf("expected feature channels to share the voxel scale; got step %f", got)
	}
}

func TestMaskoutNearCamVox(t *testing.T) {
	m := testModel(t, 0, false)
	count := m.MaskoutNearCamVox([]types.Vec3{types.XYZ(-1, -1, -1)}, 0.01)
	if count != 1 || m.Density.At(0, 0, 0, 0) != -100 {
		t.Fatalf("expected the corner voxel to be masked out; got %d voxels", count)
	}
}

func TestRenderFrame(t *testing.T) {
	m := testModel(t, 12, true)
	fillPattern(m)

	cam := scene.NewCamera(4, 3, 45)
	cam.LookAt(types.XYZ(0, 0, -3), types.XYZ(0, 0, 0), types.XYZ(0, 1, 0))

	r, err := renderer.NewDefault(m, m.Pool(), renderer.Options{FrameW: 4, FrameH: 3, ChunkSize: 5, RenderDepth: true})
	if err != nil {
		t.Fatal(err)
	}
	frame, err := r.Render(cam)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Color.Bounds().Dx() != 4 || len(frame.Depth) != 12 {
		t.Fatal("expected a 4x3 frame with depth")
	}
}

func hasNonZero[T float32 | float64](values []T) bool {
	for _, v := range values {
		if v != 0 {
			return true
		}
	}
	return false
}
