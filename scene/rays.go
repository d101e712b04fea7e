package scene

import (
	"math/rand"

	"github.com/achilleasa/radiance/types"
)

// NDCRays maps forward facing rays into normalized device coordinates. Ray
// origins are first moved to the near plane.
func NDCRays(width, height int, focal, near float32, origins, dirs []types.Vec3) ([]types.Vec3, []types.Vec3) {
	outO := make([]types.Vec3, len(origins))
	outD := make([]types.Vec3, len(dirs))

	sx := -1 / (float32(width) / (2 * focal))
	sy := -1 / (float32(height) / (2 * focal))
	for idx := range origins {
		o, d := origins[idx], dirs[idx]
		t := -(near + o[2]) / d[2]
		o = o.Add(d.Mul(t))

		outO[idx] = types.XYZ(
			sx*o[0]/o[2],
			sy*o[1]/o[2],
			1+2*near/o[2],
		)
		outD[idx] = types.XYZ(
			sx*(d[0]/d[2]-o[0]/o[2]),
			sy*(d[1]/d[2]-o[1]/o[2]),
			-2*near/o[2],
		)
	}
	return outO, outD
}

// NDCNear is the near plane that forward facing rays are moved to before
// the conversion.
const NDCNear = 1

// NDCView wraps a camera so that its rays are emitted in normalized device
// coordinates. Viewing directions stay in world space.
type NDCView struct {
	*Camera
	Near float32
}

// Rays generates the NDC rays of every pixel in row-major order.
func (v NDCView) Rays() (origins, dirs, viewdirs []types.Vec3) {
	origins, dirs, viewdirs = v.Camera.Rays()
	origins, dirs = NDCRays(v.Width, v.Height, v.Focal, v.Near, origins, dirs)
	return origins, dirs, viewdirs
}

// BatchIndexGenerator yields random batches of indices without replacement
// within an epoch. The permutation is regenerated once exhausted.
type BatchIndexGenerator struct {
	n     int
	batch int
	rng   *rand.Rand
	perm  []int
	pos   int
}

// Create a new batch index generator over n items.
func NewBatchIndexGenerator(n, batch int, seed int64) *BatchIndexGenerator {
	gen := &BatchIndexGenerator{
		n:     n,
		batch: batch,
		rng:   rand.New(rand.NewSource(seed)),
	}
	gen.perm = gen.rng.Perm(n)
	return gen
}

// Next returns the next batch of indices.
func (gen *BatchIndexGenerator) Next() []int {
	if gen.pos+gen.batch > gen.n {
		gen.perm = gen.rng.Perm(gen.n)
		gen.pos = 0
	}
	end := gen.pos + gen.batch
	if end > gen.n {
		end = gen.n
	}
	out := append([]int(nil), gen.perm[gen.pos:end]...)
	gen.pos = end
	return out
}
