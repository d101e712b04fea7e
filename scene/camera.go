package scene

import (
	"fmt"
	"math"

	"github.com/achilleasa/radiance/types"
	"github.com/go-gl/mathgl/mgl32"
)

// Controls where inside a pixel the camera ray passes through.
type PixelMode uint8

const (
	// Rays pass through the pixel center.
	PixelCenter PixelMode = iota
	// Rays pass through the top-left pixel corner.
	PixelLeftTop
)

func (m PixelMode) String() string {
	switch m {
	case PixelLeftTop:
		return "lefttop"
	default:
		return "center"
	}
}

// Parse a pixel mode from its name.
func ParsePixelMode(name string) (PixelMode, error) {
	switch name {
	case "", "center":
		return PixelCenter, nil
	case "lefttop":
		return PixelLeftTop, nil
	}
	return PixelCenter, fmt.Errorf("scene: unknown pixel mode %q", name)
}

// A pinhole camera. The camera looks down its local -Z axis with +Y up
// unless InverseY is set in which case it looks down +Z with +Y pointing
// down the image.
type Camera struct {
	// Frame dims.
	Width  int
	Height int

	// Intrinsics.
	Focal float32
	Cx    float32
	Cy    float32

	// Camera to world transform.
	C2W mgl32.Mat4

	Mode     PixelMode
	InverseY bool
	FlipX    bool
	FlipY    bool
}

// Create a new camera with the given horizontal field of view (in degrees)
// placed at the origin.
func NewCamera(width, height int, fov float32) *Camera {
	focal := 0.5 * float32(width) / float32(math.Tan(float64(mgl32.DegToRad(fov))*0.5))
	return &Camera{
		Width:  width,
		Height: height,
		Focal:  focal,
		Cx:     0.5 * float32(width),
		Cy:     0.5 * float32(height),
		C2W:    mgl32.Ident4(),
	}
}

// Position the camera at eye looking towards center.
func (c *Camera) LookAt(eye, center, up types.Vec3) {
	view := mgl32.LookAtV(mgl32.Vec3(eye), mgl32.Vec3(center), mgl32.Vec3(up))
	c.C2W = view.Inv()
}

// Get the camera position in world space.
func (c *Camera) Origin() types.Vec3 {
	return types.Vec3(c.C2W.Col(3).Vec3())
}

// Generate the world-space ray for pixel (x, y).
func (c *Camera) Ray(x, y int) (origin, dir types.Vec3) {
	if c.FlipX {
		x = c.Width - 1 - x
	}
	if c.FlipY {
		y = c.Height - 1 - y
	}

	px, py := float32(x), float32(y)
	if c.Mode == PixelCenter {
		px += 0.5
		py += 0.5
	}

	var local mgl32.Vec3
	if c.InverseY {
		local = mgl32.Vec3{(px - c.Cx) / c.Focal, (py - c.Cy) / c.Focal, 1}
	} else {
		local = mgl32.Vec3{(px - c.Cx) / c.Focal, -(py - c.Cy) / c.Focal, -1}
	}

	return c.Origin(), types.Vec3(c.C2W.Mat3().Mul3x1(local))
}

// Generate rays for every pixel in row-major order. Viewing directions are
// the normalized ray directions.
func (c *Camera) Rays() (origins, dirs, viewdirs []types.Vec3) {
	n := c.Width * c.Height
	origins = make([]types.Vec3, n)
	dirs = make([]types.Vec3, n)
	viewdirs = make([]types.Vec3, n)

	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			idx := y*c.Width + x
			origins[idx], dirs[idx] = c.Ray(x, y)
			viewdirs[idx] = dirs[idx].Normalize()
		}
	}
	return origins, dirs, viewdirs
}

// Create n cameras evenly spaced on a circle of the given radius around
// center, elevated by the given angle (in degrees).
func OrbitCameras(n, width, height int, fov float32, center types.Vec3, radius, elevation float32) []*Camera {
	cams := make([]*Camera, n)
	elev := float64(mgl32.DegToRad(elevation))
	for idx := range cams {
		theta := 2 * math.Pi * float64(idx) / float64(n)
		eye := center.Add(types.XYZ(
			radius*float32(math.Cos(elev)*math.Cos(theta)),
			radius*float32(math.Sin(elev)),
			radius*float32(math.Cos(elev)*math.Sin(theta)),
		))
		cams[idx] = NewCamera(width, height, fov)
		cams[idx].LookAt(eye, center, types.XYZ(0, 1, 0))
	}
	return cams
}

func (c *Camera) String() string {
	return fmt.Sprintf("camera %dx%d focal %3.3f at %v", c.Width, c.Height, c.Focal, c.Origin())
}
