package scene

import (
	"math"
	"testing"

	"github.com/achilleasa/radiance/renderer"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
)

var unitBox = types.NewBBox(types.XYZ(0, 0, 0), types.XYZ(1, 1, 1))

func TestSampleSingleRay(t *testing.T) {
	raysO := []types.Vec3{types.XYZ(0.5, 0.5, -1)}
	raysD := []types.Vec3{types.XYZ(0, 0, 1)}

	s, err := Sample(nil, raysO, raysD, unitBox, 0.2, FarSentinel, 0.1)
	if err != nil {
		t.Fatal(err)
	}

	if s.TMin[0] != 1 || s.TMax[0] != 2 {
		t.Fatalf("expected ray interval [1, 2]; got [%f, %f]", s.TMin[0], s.TMax[0])
	}

	expCount := int(math.Floor(float64(s.TMax[0]-s.TMin[0])/0.1)) + 1
	if s.Len() != 11 || s.Len() != expCount {
		t.Fatalf("expected 11 samples; got %d", s.Len())
	}

	for idx := 0; idx < s.Len(); idx++ {
		if s.RayId[idx] != 0 {
			t.Fatalf("[sample %d] expected ray id 0; got %d", idx, s.RayId[idx])
		}
		if s.StepId[idx] != int32(idx) {
			t.Fatalf("[sample %d] expected step id %d; got %d", idx, idx, s.StepId[idx])
		}
		expZ := float32(idx) * 0.1
		if math.Abs(float64(s.Points[idx][2]-expZ)) > 1e-5 {
			t.Fatalf("[sample %d] expected z = %f; got %f", idx, expZ, s.Points[idx][2])
		}
	}
}

func TestSampleGrouping(t *testing.T) {
	raysO := []types.Vec3{
		types.XYZ(0.5, 0.5, -1),
		types.XYZ(5, 5, 5),
		types.XYZ(-1, 0.5, 0.5),
		types.XYZ(0.5, 0.5, 0.5),
	}
	raysD := []types.Vec3{
		types.XYZ(0, 0, 2),
		types.XYZ(0, 0, 1),
		types.XYZ(1, 0, 0),
		types.XYZ(0, 0, 0),
	}

	ref, err := Sample(tracer.NewPool(1, nil), raysO, raysD, unitBox, 0, FarSentinel, 0.25)
	if err != nil {
		t.Fatal(err)
	}

	// Missing and zero-length rays do not produce samples
	if ref.NSteps[1] != 0 || ref.NSteps[3] != 0 {
		t.Fatalf("expected no steps for rays 1 and 3; got %v", ref.NSteps)
	}
	// Direction length does not change the arc-length spacing
	if ref.NSteps[0] != 5 || ref.NSteps[2] != 5 {
		t.Fatalf("expected 5 steps for rays 0 and 2; got %v", ref.NSteps)
	}

	if _, err := tracer.NewSegments(ref.RayId, ref.NumRays()); err != nil {
		t.Fatalf("expected grouped samples; got %v", err)
	}

	par, err := Sample(tracer.NewPool(4, tracer.ChunkScheduler(1)), raysO, raysD, unitBox, 0, FarSentinel, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	if par.Len() != ref.Len() {
		t.Fatalf("expected %d samples with 4 workers; got %d", ref.Len(), par.Len())
	}
	for idx := range ref.Points {
		if par.Points[idx] != ref.Points[idx] || par.RayId[idx] != ref.RayId[idx] || par.StepId[idx] != ref.StepId[idx] {
			t.Fatalf("[sample %d] expected identical output regardless of worker count", idx)
		}
	}
}

func TestSampleStepCount(t *testing.T) {
	type spec struct {
		stepDist float32
		exp      int32
	}
	specs := []spec{
		// The interval holds exactly 4 steps
		{0.25, 5},
		// float32(0.1) is slightly above 0.1
		{0.1, 11},
		// 2.99995 steps
		{float32(1 / 2.99995), 3},
		{float32(1 / 3.5), 4},
	}

	raysO := []types.Vec3{types.XYZ(0.5, 0.5, -1)}
	raysD := []types.Vec3{types.XYZ(0, 0, 1)}
	for specIndex, spec := range specs {
		s, err := Sample(nil, raysO, raysD, unitBox, 0, FarSentinel, spec.stepDist)
		if err != nil {
			t.Fatal(err)
		}
		if s.NSteps[0] != spec.exp {
			t.Fatalf("[spec %d] expected %d steps; got %d", specIndex, spec.exp, s.NSteps[0])
		}
		if last := s.TMin[0] + float32(s.NSteps[0]-1)*spec.stepDist; last > s.TMax[0]*(1+1e-5) {
			t.Fatalf("[spec %d] expected the last step to stay within t_max %f; got %f", specIndex, s.TMax[0], last)
		}
	}
}

func TestSampleNearClip(t *testing.T) {
	raysO := []types.Vec3{types.XYZ(0.5, 0.5, 0.5)}
	raysD := []types.Vec3{types.XYZ(0, 0, 1)}

	s, err := Sample(nil, raysO, raysD, unitBox, 0.2, FarSentinel, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if s.TMin[0] != 0.2 {
		t.Fatalf("expected interval to start at the near clip; got %f", s.TMin[0])
	}
	if s.Len() != 4 {
		t.Fatalf("expected 4 samples; got %d", s.Len())
	}
}

func TestSampleErrors(t *testing.T) {
	_, err := Sample(nil, make([]types.Vec3, 2), make([]types.Vec3, 1), unitBox, 0, FarSentinel, 0.1)
	if err != renderer.ErrShapeMismatch {
		t.Fatalf("expected ErrShapeMismatch; got %v", err)
	}

	sampler := Sampler{BBox: unitBox, Far: FarSentinel, StepDist: 0.01, MaxSamples: 10}
	_, err = sampler.Sample(nil, []types.Vec3{types.XYZ(0.5, 0.5, -1)}, []types.Vec3{types.XYZ(0, 0, 1)})
	if err != renderer.ErrSampleBudget {
		t.Fatalf("expected ErrSampleBudget; got %v", err)
	}
}

func TestSamplesFilter(t *testing.T) {
	s, _ := Sample(nil, []types.Vec3{types.XYZ(0.5, 0.5, -1)}, []types.Vec3{types.XYZ(0, 0, 1)}, unitBox, 0, FarSentinel, 0.5)
	f := s.Filter([]bool{false, true, true})
	if f.Len() != 2 || f.StepId[0] != 1 || f.StepId[1] != 2 {
		t.Fatalf("expected steps [1 2] to survive; got %v", f.StepId)
	}
	if f.NumRays() != 1 {
		t.Fatalf("expected per-ray data to be kept; got %d rays", f.NumRays())
	}
}
