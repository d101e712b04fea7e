package tracer

import "errors"

var (
	ErrUngroupedSamples = errors.New("tracer: samples of a ray are not contiguous")
	ErrRayIdRange       = errors.New("tracer: ray id out of range")
)

// Segments maps each ray to the contiguous range of samples that belong to
// it. Rays without samples have an empty range.
type Segments struct {
	Start []int
	End   []int

	// Total number of samples.
	Samples int
}

// Build the ray segments for a sample stream. The samples of each ray must be
// contiguous; rays may appear in any order.
func NewSegments(rayId []int32, numRays int) (*Segments, error) {
	seg := &Segments{
		Start:   make([]int, numRays),
		End:     make([]int, numRays),
		Samples: len(rayId),
	}

	seen := make([]bool, numRays)
	prev := int32(-1)
	for idx, ray := range rayId {
		if ray < 0 || int(ray) >= numRays {
			return nil, ErrRayIdRange
		}
		if ray != prev {
			// A closed group must not be reopened
			if seen[ray] {
				return nil, ErrUngroupedSamples
			}
			seen[ray] = true
			seg.Start[ray] = idx
			prev = ray
		}
		seg.End[ray] = idx + 1
	}

	return seg, nil
}

// Get the number of rays.
func (s *Segments) NumRays() int {
	return len(s.Start)
}

// Get the number of samples for a ray.
func (s *Segments) Len(ray int) int {
	return s.End[ray] - s.Start[ray]
}

// Invoke fn for every ray in parallel. Samples of a ray are always visited
// by a single goroutine.
func (s *Segments) Each(pool *Pool, fn func(ray, start, end int)) {
	if pool == nil {
		pool = Default()
	}
	pool.Run(len(s.Start), func(blk Block) {
		for ray := blk.Start; ray < blk.End; ray++ {
			fn(ray, s.Start[ray], s.End[ray])
		}
	})
}

// Sum dim-wide sample rows into out (numRays*dim) in sample order.
func (s *Segments) Sum(pool *Pool, src []float32, dim int, out []float32) {
	s.Each(pool, func(ray, start, end int) {
		dst := out[ray*dim : (ray+1)*dim]
		for c := range dst {
			dst[c] = 0
		}
		for i := start; i < end; i++ {
			row := src[i*dim : (i+1)*dim]
			for c, v := range row {
				dst[c] += v
			}
		}
	})
}
