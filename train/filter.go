package train

import (
	"github.com/achilleasa/radiance/log"
	"github.com/achilleasa/radiance/model"
	"github.com/achilleasa/radiance/types"
)

// Batches drawn per request before falling back to unfiltered rays.
const maxFilterDraws = 8

// hitFilter drops training rays whose samples all miss the occupancy cache
// of the model being trained.
type hitFilter struct {
	src    Source
	model  *model.Model
	logger log.Logger
}

func (f *hitFilter) Batch(n int) (raysO, raysD, viewdirs, target []types.Vec3) {
	for draw := 0; draw < maxFilterDraws && len(raysO) < n; draw++ {
		o, d, v, c := f.src.Batch(n)
		hit, err := f.model.HitCoarseGeo(o, d, f.model.Render)
		if err != nil {
			f.logger.Warningf("skipping training ray filtering: %v", err)
			return o, d, v, c
		}
		for idx, ok := range hit {
			if !ok || len(raysO) == n {
				continue
			}
			raysO = append(raysO, o[idx])
			raysD = append(raysD, d[idx])
			viewdirs = append(viewdirs, v[idx])
			target = append(target, c[idx])
		}
	}

	if len(raysO) == 0 {
		f.logger.Warningf("no training rays hit the occupancy cache after %d draws; using an unfiltered batch", maxFilterDraws)
		return f.src.Batch(n)
	}
	return raysO, raysD, viewdirs, target
}
