package renderer

import "github.com/achilleasa/radiance/types"

type Options struct {
	// Frame dims.
	FrameW uint32
	FrameH uint32

	// Number of rays sent to the scene in a single call.
	ChunkSize int

	// Background color blended with the transmittance left on each ray.
	Background types.Vec3

	// Render a depth map alongside the color frame.
	RenderDepth bool
}
