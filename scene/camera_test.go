package scene

import (
	"math"
	"testing"

	"github.com/achilleasa/radiance/types"
)

func vecAlmostEqual(a, b types.Vec3, tol float64) bool {
	for axis := 0; axis < 3; axis++ {
		if math.Abs(float64(a[axis]-b[axis])) > tol {
			return false
		}
	}
	return true
}

func TestCameraRays(t *testing.T) {
	cam := NewCamera(4, 4, 90)
	cam.Mode = PixelLeftTop
	cam.LookAt(types.XYZ(0, 0, 5), types.XYZ(0, 0, 0), types.XYZ(0, 1, 0))

	if !vecAlmostEqual(cam.Origin(), types.XYZ(0, 0, 5), 1e-5) {
		t.Fatalf("expected camera origin (0, 0, 5); got %v", cam.Origin())
	}

	// With lefttop sampling pixel (2, 2) sits on the principal point
	_, dir := cam.Ray(2, 2)
	if !vecAlmostEqual(dir, types.XYZ(0, 0, -1), 1e-5) {
		t.Fatalf("expected central ray to point towards the target; got %v", dir)
	}

	// Top-left pixel looks up and to the left
	_, dir = cam.Ray(0, 0)
	if dir[0] >= 0 || dir[1] <= 0 {
		t.Fatalf("expected top-left ray to have -x and +y components; got %v", dir)
	}

	cam.InverseY = true
	_, dir = cam.Ray(0, 0)
	if dir[1] >= 0 {
		t.Fatalf("expected inverse-y top-left ray to have a -y component; got %v", dir)
	}

	cam.InverseY = false
	cam.FlipX = true
	_, dir = cam.Ray(3, 0)
	if dir[0] >= 0 {
		t.Fatalf("expected flipped ray to mirror along x; got %v", dir)
	}

	origins, dirs, viewdirs := cam.Rays()
	if len(origins) != 16 || len(dirs) != 16 {
		t.Fatalf("expected 16 rays; got %d", len(origins))
	}
	for idx, vd := range viewdirs {
		if math.Abs(float64(vd.Len())-1) > 1e-5 {
			t.Fatalf("[ray %d] expected unit view direction; got length %f", idx, vd.Len())
		}
	}
}

func TestParsePixelMode(t *testing.T) {
	type spec struct {
		name   string
		exp    PixelMode
		expErr bool
	}
	specs := []spec{
		{"center", PixelCenter, false},
		{"lefttop", PixelLeftTop, false},
		{"", PixelCenter, false},
		{"random", PixelCenter, true},
	}

	for index, s := range specs {
		mode, err := ParsePixelMode(s.name)
		if s.expErr != (err != nil) {
			t.Fatalf("[spec %d] expected error %t; got %v", index, s.expErr, err)
		}
		if mode != s.exp {
			t.Fatalf("[spec %d] expected mode %s; got %s", index, s.exp, mode)
		}
	}
}

func TestOrbitCameras(t *testing.T) {
	cams := OrbitCameras(6, 8, 8, 40, types.XYZ(0, 0, 0), 3, 30)
	for idx, cam := range cams {
		if math.Abs(float64(cam.Origin().Len())-3) > 1e-4 {
			t.Fatalf("[camera %d] expected distance 3 from the center; got %f", idx, cam.Origin().Len())
		}
		o, dir := cam.Ray(4, 4)
		toCenter := o.Mul(-1).Normalize()
		if toCenter.Dot(dir.Normalize()) < 0.99 {
			t.Fatalf("[camera %d] expected the center pixel to look at the orbit center", idx)
		}
	}
}

func TestNDCRays(t *testing.T) {
	origins := []types.Vec3{types.XYZ(0, 0, 0)}
	dirs := []types.Vec3{types.XYZ(0, 0, -1)}

	o, d := NDCRays(100, 100, 50, 1, origins, dirs)
	if !vecAlmostEqual(o[0], types.XYZ(0, 0, -1), 1e-6) {
		t.Fatalf("expected ndc origin on the near plane; got %v", o[0])
	}
	if !vecAlmostEqual(d[0], types.XYZ(0, 0, 2), 1e-6) {
		t.Fatalf("expected ndc direction (0, 0, 2); got %v", d[0])
	}
}

func TestNDCView(t *testing.T) {
	cam := NewCamera(4, 3, 60)
	cam.LookAt(types.XYZ(0, 0, 0), types.XYZ(0, 0, -1), types.XYZ(0, 1, 0))
	view := NDCView{Camera: cam, Near: NDCNear}

	origins, dirs, viewdirs := view.Rays()
	worldO, worldD, worldV := cam.Rays()
	expO, expD := NDCRays(cam.Width, cam.Height, cam.Focal, NDCNear, worldO, worldD)
	for idx := range origins {
		if !vecAlmostEqual(origins[idx], expO[idx], 1e-6) || !vecAlmostEqual(dirs[idx], expD[idx], 1e-6) {
			t.Fatalf("[pixel %d] expected ndc ray %v, %v; got %v, %v", idx, expO[idx], expD[idx], origins[idx], dirs[idx])
		}
		if viewdirs[idx] != worldV[idx] {
			t.Fatalf("[pixel %d] expected world space view direction %v; got %v", idx, worldV[idx], viewdirs[idx])
		}
		if !vecAlmostEqual(types.XYZ(0, 0, origins[idx][2]), types.XYZ(0, 0, -1), 1e-6) {
			t.Fatalf("[pixel %d] expected ndc origin on the near plane; got %v", idx, origins[idx])
		}
	}
}

func TestBatchIndexGenerator(t *testing.T) {
	gen := NewBatchIndexGenerator(10, 4, 1)
	seen := make(map[int]bool)
	for _, idx := range append(gen.Next(), gen.Next()...) {
		if seen[idx] {
			t.Fatalf("expected no repeated index within an epoch; got %d twice", idx)
		}
		seen[idx] = true
	}

	// Not enough items left for a full batch so a new epoch starts
	if got := len(gen.Next()); got != 4 {
		t.Fatalf("expected a full batch after reshuffling; got %d", got)
	}
}
