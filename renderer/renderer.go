package renderer

import (
	"errors"
	"image"
	"image/color"
	"math"
	"time"

	"github.com/achilleasa/radiance/log"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
)

var (
	ErrNoTarget       = errors.New("renderer: no ray target defined")
	ErrInvalidFrame   = errors.New("renderer: frame dimensions must be positive")
	ErrCameraMismatch = errors.New("renderer: camera ray count does not match the frame size")
)

// A RayTarget shades batches of rays.
type RayTarget interface {
	// Render the given rays returning their composited colors and, when
	// withDepth is set, their depth estimates.
	RenderRays(raysO, raysD, viewdirs []types.Vec3, withDepth bool) (rgb []types.Vec3, depth []float32, err error)
}

// A RayGenerator produces one ray per frame pixel in row-major order.
type RayGenerator interface {
	Rays() (origins, dirs, viewdirs []types.Vec3)
}

// A rendered frame.
type Frame struct {
	Color *image.RGBA

	// Raw per-pixel depth and its normalized image; nil unless depth
	// rendering is enabled.
	Depth      []float32
	DepthImage *image.Gray16
}

// The Renderer splits frames into ray chunks and forwards them to a target.
type Renderer struct {
	logger log.Logger
	target RayTarget
	pool   *tracer.Pool
	opts   Options
	stats  FrameStats
}

// Create a new renderer. A nil pool selects the default pool.
func NewDefault(target RayTarget, pool *tracer.Pool, opts Options) (*Renderer, error) {
	if target == nil {
		return nil, ErrNoTarget
	}
	if opts.FrameW == 0 || opts.FrameH == 0 {
		return nil, ErrInvalidFrame
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = int(opts.FrameW * opts.FrameH)
	}
	if pool == nil {
		pool = tracer.Default()
	}

	return &Renderer{
		logger: log.New("renderer"),
		target: target,
		pool:   pool,
		opts:   opts,
	}, nil
}

// Render a frame for the given camera.
func (r *Renderer) Render(cam RayGenerator) (*Frame, error) {
	start := time.Now()
	r.pool.ResetStats()

	origins, dirs, viewdirs := cam.Rays()
	numPixels := int(r.opts.FrameW * r.opts.FrameH)
	if len(origins) != numPixels {
		return nil, ErrCameraMismatch
	}

	frame := &Frame{
		Color: image.NewRGBA(image.Rect(0, 0, int(r.opts.FrameW), int(r.opts.FrameH))),
	}
	if r.opts.RenderDepth {
		frame.Depth = make([]float32, numPixels)
	}

	chunks := 0
	for offset := 0; offset < numPixels; offset += r.opts.ChunkSize {
		end := offset + r.opts.ChunkSize
		if end > numPixels {
			end = numPixels
		}

		rgb, depth, err := r.target.RenderRays(origins[offset:end], dirs[offset:end], viewdirs[offset:end], r.opts.RenderDepth)
		if err != nil {
			return nil, err
		}

		for idx, c := range rgb {
			px := offset + idx
			frame.Color.SetRGBA(px%int(r.opts.FrameW), px/int(r.opts.FrameW), toRGBA(c))
		}
		if r.opts.RenderDepth {
			copy(frame.Depth[offset:end], depth)
		}
		chunks++
	}

	if r.opts.RenderDepth {
		frame.DepthImage = depthImage(frame.Depth, int(r.opts.FrameW), int(r.opts.FrameH))
	}

	r.stats = r.collectStats(chunks, numPixels, time.Since(start))
	r.logger.Debugf("rendered %dx%d frame in %d chunks (%d ms)", r.opts.FrameW, r.opts.FrameH, chunks, r.stats.RenderTime.Nanoseconds()/1000000)
	return frame, nil
}

// Get render statistics for the last frame.
func (r *Renderer) Stats() FrameStats {
	return r.stats
}

func (r *Renderer) collectStats(chunks, rays int, renderTime time.Duration) FrameStats {
	stats := FrameStats{
		Chunks:     chunks,
		Rays:       rays,
		RenderTime: renderTime,
	}

	poolStats := r.pool.Stats()
	total := 0
	for _, st := range poolStats {
		total += st.Items
	}
	for _, st := range poolStats {
		ws := WorkerStat{Id: st.Id, Items: st.Items, BusyTime: st.BusyTime}
		if total > 0 {
			ws.ItemPercent = 100 * float32(st.Items) / float32(total)
		}
		stats.Workers = append(stats.Workers, ws)
	}
	return stats
}

func toRGBA(c types.Vec3) color.RGBA {
	return color.RGBA{
		R: toByte(c[0]),
		G: toByte(c[1]),
		B: toByte(c[2]),
		A: 255,
	}
}

func toByte(v float32) uint8 {
	if v <= 0 || math.IsNaN(float64(v)) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// Normalize depth values to the full 16-bit range.
func depthImage(depth []float32, w, h int) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, d := range depth {
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}
	scale := float32(0)
	if hi > lo {
		scale = 65535 / (hi - lo)
	}
	for idx, d := range depth {
		img.SetGray16(idx%w, idx/w, color.Gray16{Y: uint16((d - lo) * scale)})
	}
	return img
}
