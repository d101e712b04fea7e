package renderer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
)

func mustSegments(t *testing.T, rayId []int32, numRays int) *tracer.Segments {
	seg, err := tracer.NewSegments(rayId, numRays)
	if err != nil {
		t.Fatal(err)
	}
	return seg
}

func TestActShift(t *testing.T) {
	shift := ActShift(0.01)
	alpha, _ := Raw2Alpha(nil, []float32{0}, shift, 1)
	if math.Abs(float64(alpha[0])-0.01) > 1e-6 {
		t.Fatalf("expected zero density to map to alpha 0.01; got %f", alpha[0])
	}
}

func TestRaw2AlphaBackward(t *testing.T) {
	density := []float32{-3, -0.5, 0, 0.7, 2.5}
	gradAlpha := []float32{1, -2, 0.5, 3, 1}
	const shift, interval = -1.2, 0.5

	_, exp := Raw2Alpha(nil, density, shift, interval)
	grad, err := Raw2AlphaBackward(nil, exp, gradAlpha, interval)
	if err != nil {
		t.Fatal(err)
	}

	const h = 1e-3
	for i := range density {
		ap, _ := Raw2Alpha(nil, []float32{density[i] + h}, shift, interval)
		am, _ := Raw2Alpha(nil, []float32{density[i] - h}, shift, interval)
		numeric := float64(ap[0]-am[0]) / (2 * h) * float64(gradAlpha[i])
		if math.Abs(numeric-float64(grad[i])) > 1e-3 {
			t.Fatalf("[sample %d] expected gradient %f; got %f", i, numeric, grad[i])
		}
	}

	if _, err := Raw2AlphaBackward(nil, exp, gradAlpha[:2], interval); err != ErrShapeMismatch {
		t.Fatalf("expected ErrShapeMismatch; got %v", err)
	}
}

func TestRaw2AlphaSaturation(t *testing.T) {
	alpha, exp := Raw2Alpha(nil, []float32{1e4}, 0, 1)
	if alpha[0] != 1 {
		t.Fatalf("expected alpha 1 for a huge density; got %f", alpha[0])
	}
	grad, _ := Raw2AlphaBackward(nil, exp, []float32{1}, 1)
	if math.IsNaN(float64(grad[0])) || math.IsInf(float64(grad[0]), 0) {
		t.Fatalf("expected a finite gradient; got %f", grad[0])
	}
}

func TestSingleSampleWeights(t *testing.T) {
	for _, a := range []float32{0, 0.1, 0.5, 0.9, 0.99} {
		seg := mustSegments(t, []int32{0}, 1)
		res, err := Alphas2Weights(nil, []float32{a}, seg)
		if err != nil {
			t.Fatal(err)
		}
		if res.W[0] != a {
			t.Fatalf("[alpha %f] expected weight %f; got %f", a, a, res.W[0])
		}
		if math.Abs(float64(res.AlphaInvLast[0]-(1-a))) > 1e-7 {
			t.Fatalf("[alpha %f] expected alphainv_last %f; got %f", a, 1-a, res.AlphaInvLast[0])
		}
	}
}

func TestOpaqueSampleBlocksRay(t *testing.T) {
	density := []float32{-2, -1, 1e4, 0, 3}
	alpha, _ := Raw2Alpha(nil, density, 0, 1)
	seg := mustSegments(t, []int32{0, 0, 0, 0, 0}, 1)

	res, err := Alphas2Weights(nil, alpha, seg)
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(float64(res.W[2]-res.T[2])) > 1e-6 {
		t.Fatalf("expected the opaque sample to take all remaining transmittance %f; got %f", res.T[2], res.W[2])
	}
	for i := 3; i < len(density); i++ {
		if res.W[i] > 1e-6 {
			t.Fatalf("[sample %d] expected weight ~0 behind the opaque sample; got %f", i, res.W[i])
		}
	}
	if res.End[0] != 3 {
		t.Fatalf("expected the ray to stop after sample 2; got end %d", res.End[0])
	}
	if res.AlphaInvLast[0] > 1e-6 {
		t.Fatalf("expected no transmittance left; got %f", res.AlphaInvLast[0])
	}
}

func TestWeightsForUnsortedRays(t *testing.T) {
	// Ray 1 is stored before ray 0
	alpha := []float32{0.5, 0.5, 0.25}
	seg := mustSegments(t, []int32{1, 1, 0}, 2)

	res, err := Alphas2Weights(nil, alpha, seg)
	if err != nil {
		t.Fatal(err)
	}
	expW := []float32{0.5, 0.25, 0.25}
	for i, exp := range expW {
		if math.Abs(float64(res.W[i]-exp)) > 1e-7 {
			t.Fatalf("[sample %d] expected weight %f; got %f", i, exp, res.W[i])
		}
	}
	if math.Abs(float64(res.AlphaInvLast[0]-0.75)) > 1e-7 || math.Abs(float64(res.AlphaInvLast[1]-0.25)) > 1e-7 {
		t.Fatalf("expected alphainv_last [0.75 0.25]; got %v", res.AlphaInvLast)
	}

	colors := []float32{1, 0, 0, 1, 0, 0, 0, 0, 1}
	rgb, err := Composite(nil, seg, res.W, colors, res.AlphaInvLast, types.XYZ(0, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(rgb[2]-0.25)) > 1e-7 || math.Abs(float64(rgb[3]-0.75)) > 1e-7 {
		t.Fatalf("expected ray 0 blue 0.25 and ray 1 red 0.75; got %v", rgb)
	}
}

// Build a random batch where ray 1 has no samples.
func randomBatch(rng *rand.Rand) ([]int32, []float32) {
	counts := []int{5, 0, 1, 9, 3}
	var rayId []int32
	var alpha []float32
	for ray, n := range counts {
		for i := 0; i < n; i++ {
			rayId = append(rayId, int32(ray))
			alpha = append(alpha, 0.05+0.3*rng.Float32())
		}
	}
	return rayId, alpha
}

func TestAlphas2WeightsBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	rayId, alpha := randomBatch(rng)
	seg := mustSegments(t, rayId, 5)

	gradW := make([]float32, len(alpha))
	for i := range gradW {
		gradW[i] = rng.Float32()*2 - 1
	}
	gradLast := []float32{0.3, -0.7, 1.1, 0.4, -0.2}

	loss := func(a []float32) float64 {
		res, err := Alphas2Weights(nil, a, seg)
		if err != nil {
			t.Fatal(err)
		}
		var sum float64
		for i, w := range res.W {
			sum += float64(w * gradW[i])
		}
		for ray, v := range res.AlphaInvLast {
			sum += float64(v * gradLast[ray])
		}
		return sum
	}

	fw, _ := Alphas2Weights(nil, alpha, seg)
	grad, err := Alphas2WeightsBackward(nil, alpha, fw, seg, gradW, gradLast)
	if err != nil {
		t.Fatal(err)
	}

	const h = 1e-3
	for i := range alpha {
		ap := append([]float32(nil), alpha...)
		am := append([]float32(nil), alpha...)
		ap[i] += h
		am[i] -= h
		numeric := (loss(ap) - loss(am)) / (2 * h)
		if math.Abs(numeric-float64(grad[i])) > 2e-3 {
			t.Fatalf("[sample %d] expected gradient %f; got %f", i, numeric, grad[i])
		}
	}
}

func TestCompositorWorkerIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	rayId, alpha := randomBatch(rng)
	seg := mustSegments(t, rayId, 5)

	colors := make([]float32, 3*len(alpha))
	for i := range colors {
		colors[i] = rng.Float32()
	}
	bg := types.XYZ(1, 0.5, 0)

	refPool := tracer.NewPool(1, nil)
	refW, _ := Alphas2Weights(refPool, alpha, seg)
	refRGB, _ := Composite(refPool, seg, refW.W, colors, refW.AlphaInvLast, bg)

	for _, workers := range []int{2, 3, 16} {
		pool := tracer.NewPool(workers, tracer.ChunkScheduler(1))
		w, _ := Alphas2Weights(pool, alpha, seg)
		rgb, _ := Composite(pool, seg, w.W, colors, w.AlphaInvLast, bg)
		for i := range refW.W {
			if w.W[i] != refW.W[i] {
				t.Fatalf("[workers %d] expected bit-identical weight for sample %d", workers, i)
			}
		}
		for i := range refRGB {
			if rgb[i] != refRGB[i] {
				t.Fatalf("[workers %d] expected bit-identical color component %d", workers, i)
			}
		}
	}
}

func TestCompositeEmptyRay(t *testing.T) {
	seg := mustSegments(t, []int32{0, 0}, 3)
	res, _ := Alphas2Weights(nil, []float32{0.5, 0.5}, seg)
	bg := types.XYZ(0.2, 0.4, 0.6)

	rgb, err := Composite(nil, seg, res.W, []float32{1, 0, 0, 1, 0, 0}, res.AlphaInvLast, bg)
	if err != nil {
		t.Fatal(err)
	}

	for _, ray := range []int{1, 2} {
		if res.AlphaInvLast[ray] != 1 {
			t.Fatalf("[ray %d] expected alphainv_last 1; got %f", ray, res.AlphaInvLast[ray])
		}
		for c := 0; c < 3; c++ {
			if rgb[3*ray+c] != bg[c] {
				t.Fatalf("[ray %d] expected background color; got %v", ray, rgb[3*ray:3*ray+3])
			}
		}
	}

	// 0.75 red plus 0.25 background
	exp := []float32{0.75 + 0.25*0.2, 0.25 * 0.4, 0.25 * 0.6}
	for c := range exp {
		if math.Abs(float64(rgb[c]-exp[c])) > 1e-6 {
			t.Fatalf("expected ray 0 color %v; got %v", exp, rgb[:3])
		}
	}
}

func TestCompositeBackward(t *testing.T) {
	seg := mustSegments(t, []int32{0, 0, 1}, 2)
	weights := []float32{0.2, 0.5, 0.9}
	colors := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
	gradRGB := []float32{1, 2, 3, -1, 0, 1}
	bg := types.XYZ(1, 1, 1)

	gw, gc, gl, err := CompositeBackward(nil, seg, weights, colors, gradRGB, bg)
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(float64(gw[0])-(0.1+0.4+0.9)) > 1e-6 || math.Abs(float64(gw[2])-(-0.7+0.9)) > 1e-6 {
		t.Fatalf("unexpected weight gradients %v", gw)
	}
	if math.Abs(float64(gc[4])-0.5*2) > 1e-6 {
		t.Fatalf("expected color gradient 1.0; got %f", gc[4])
	}
	if gl[0] != 6 || gl[1] != 0 {
		t.Fatalf("expected alphainv_last gradients [6 0]; got %v", gl)
	}
}

func TestDepthAndLabel(t *testing.T) {
	seg := mustSegments(t, []int32{0, 0, 0}, 1)
	depth, err := Depth(nil, seg, []float32{0.1, 0.8, 0.1}, []int32{0, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(depth[0])-1) > 1e-6 {
		t.Fatalf("expected depth 1; got %f", depth[0])
	}

	label := DepthLabel([]float32{1.25}, []float32{1}, 0.1, []int32{0, 0, 0}, []int32{1, 2, 3})
	if label[0] || !label[1] || label[2] {
		t.Fatalf("expected only step 2 to be labelled; got %v", label)
	}
}
