package scene

import (
	"math"

	"github.com/achilleasa/radiance/renderer"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
)

const (
	// Used in place of a far clip plane. The bbox exit always terminates
	// sampling before this distance is reached.
	FarSentinel = 1e9

	// Substituted for zero ray direction components in the slab test.
	dirEpsilon = 1e-6

	// Relative tolerance that absorbs the float32 rounding of the step
	// distance when counting the steps that fit in a ray interval. A step
	// count within this fraction below an integer is rounded up, so the last
	// point may lie up to nSteps*stepEpsilon steps past t_max.
	stepEpsilon = 1e-6
)

// Samples holds the points generated by marching a batch of rays. Per-sample
// arrays are grouped by ray id in ascending step order.
type Samples struct {
	Points []types.Vec3
	RayId  []int32
	StepId []int32

	// Per-ray interval and step count (including points that fell outside
	// the bbox).
	TMin   []float32
	TMax   []float32
	NSteps []int32

	StepDist float32
}

// Len returns the number of samples.
func (s *Samples) Len() int {
	return len(s.Points)
}

// NumRays returns the number of rays that produced this sample set.
func (s *Samples) NumRays() int {
	return len(s.TMin)
}

// Filter returns a new sample set with only the samples whose keep flag is
// set. Ordering is preserved.
func (s *Samples) Filter(keep []bool) *Samples {
	count := 0
	for _, k := range keep {
		if k {
			count++
		}
	}

	out := &Samples{
		Points:   make([]types.Vec3, 0, count),
		RayId:    make([]int32, 0, count),
		StepId:   make([]int32, 0, count),
		TMin:     s.TMin,
		TMax:     s.TMax,
		NSteps:   s.NSteps,
		StepDist: s.StepDist,
	}
	for idx, k := range keep {
		if !k {
			continue
		}
		out.Points = append(out.Points, s.Points[idx])
		out.RayId = append(out.RayId, s.RayId[idx])
		out.StepId = append(out.StepId, s.StepId[idx])
	}
	return out
}

// A Sampler marches rays through a bounding box at a fixed step distance.
type Sampler struct {
	BBox     types.BBox
	Near     float32
	Far      float32
	StepDist float32

	// Upper bound for the number of emitted samples; 0 disables the check.
	MaxSamples int
}

// Sample rays with the given settings. See Sampler.Sample.
func Sample(pool *tracer.Pool, raysO, raysD []types.Vec3, bbox types.BBox, near, far, stepDist float32) (*Samples, error) {
	s := Sampler{BBox: bbox, Near: near, Far: far, StepDist: stepDist}
	return s.Sample(pool, raysO, raysD)
}

// Per ray marching state computed in float64.
type rayMarch struct {
	o, d   [3]float64
	tMin   float64
	tMax   float64
	step   float64
	nSteps int
	inside int
}

func (s *Sampler) setupRay(o, d types.Vec3) rayMarch {
	rm := rayMarch{}
	var dirLen float64
	for axis := 0; axis < 3; axis++ {
		rm.o[axis] = float64(o[axis])
		rm.d[axis] = float64(d[axis])
		dirLen += rm.d[axis] * rm.d[axis]
	}
	dirLen = math.Sqrt(dirLen)

	near, far := float64(s.Near), float64(s.Far)
	tMin, tMax := math.Inf(-1), math.Inf(1)
	for axis := 0; axis < 3; axis++ {
		v := rm.d[axis]
		if v == 0 {
			v = dirEpsilon
		}
		a := (float64(s.BBox.Min[axis]) - rm.o[axis]) / v
		b := (float64(s.BBox.Max[axis]) - rm.o[axis]) / v
		tMin = math.Max(tMin, math.Min(a, b))
		tMax = math.Min(tMax, math.Max(a, b))
	}
	rm.tMin = math.Min(math.Max(tMin, near), far)
	rm.tMax = math.Min(math.Max(tMax, near), far)

	// Zero-length rays cannot advance.
	if dirLen == 0 || tMax < tMin || rm.tMax < rm.tMin {
		return rm
	}

	stepDist := float64(s.StepDist)
	rm.nSteps = int(math.Floor((rm.tMax-rm.tMin)*dirLen/stepDist*(1+stepEpsilon))) + 1
	rm.step = stepDist / dirLen
	return rm
}

// Get the position of the i-th step. The second return value reports whether
// the point lies inside the bbox (faces included).
func (s *Sampler) stepPoint(rm *rayMarch, i int) (types.Vec3, bool) {
	t := rm.tMin + float64(i)*rm.step
	var p types.Vec3
	inside := true
	for axis := 0; axis < 3; axis++ {
		p[axis] = float32(rm.o[axis] + rm.d[axis]*t)
		if p[axis] < s.BBox.Min[axis] || p[axis] > s.BBox.Max[axis] {
			inside = false
		}
	}
	return p, inside
}

// Sample computes the bbox interval of every ray, clamps it to [Near, Far]
// and emits points at uniform StepDist arc-length offsets from the interval
// start. Points outside the bbox are dropped.
func (s *Sampler) Sample(pool *tracer.Pool, raysO, raysD []types.Vec3) (*Samples, error) {
	if len(raysO) != len(raysD) {
		return nil, renderer.ErrShapeMismatch
	}
	if pool == nil {
		pool = tracer.Default()
	}

	numRays := len(raysO)
	out := &Samples{
		TMin:     make([]float32, numRays),
		TMax:     make([]float32, numRays),
		NSteps:   make([]int32, numRays),
		StepDist: s.StepDist,
	}

	// Pass 1: intervals and the number of points inside the bbox
	march := make([]rayMarch, numRays)
	pool.Run(numRays, func(blk tracer.Block) {
		for ray := blk.Start; ray < blk.End; ray++ {
			rm := s.setupRay(raysO[ray], raysD[ray])
			for i := 0; i < rm.nSteps; i++ {
				if _, inside := s.stepPoint(&rm, i); inside {
					rm.inside++
				}
			}
			march[ray] = rm
			out.TMin[ray] = float32(rm.tMin)
			out.TMax[ray] = float32(rm.tMax)
			out.NSteps[ray] = int32(rm.nSteps)
		}
	})

	offsets := make([]int, numRays+1)
	for ray := range march {
		offsets[ray+1] = offsets[ray] + march[ray].inside
	}
	total := offsets[numRays]
	if s.MaxSamples > 0 && total > s.MaxSamples {
		return nil, renderer.ErrSampleBudget
	}

	// Pass 2: emit points into each ray's slot range
	out.Points = make([]types.Vec3, total)
	out.RayId = make([]int32, total)
	out.StepId = make([]int32, total)
	pool.Run(numRays, func(blk tracer.Block) {
		for ray := blk.Start; ray < blk.End; ray++ {
			rm := &march[ray]
			pos := offsets[ray]
			for i := 0; i < rm.nSteps; i++ {
				p, inside := s.stepPoint(rm, i)
				if !inside {
					continue
				}
				out.Points[pos] = p
				out.RayId[pos] = int32(ray)
				out.StepId[pos] = int32(i)
				pos++
			}
		}
	})

	return out, nil
}
