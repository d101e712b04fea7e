package types

import (
	"fmt"
	"math"
)

// An axis-aligned bounding box.
type BBox struct {
	Min Vec3
	Max Vec3
}

// The integer dimensions of a voxel lattice. All components must be positive.
type WorldSize [3]int

// Volume returns the number of voxels in the lattice.
func (ws WorldSize) Volume() int {
	return ws[0] * ws[1] * ws[2]
}

// Valid returns true if all dimensions are positive.
func (ws WorldSize) Valid() bool {
	return ws[0] > 0 && ws[1] > 0 && ws[2] > 0
}

// Max returns the largest dimension.
func (ws WorldSize) Max() int {
	m := ws[0]
	if ws[1] > m {
		m = ws[1]
	}
	if ws[2] > m {
		m = ws[2]
	}
	return m
}

func (ws WorldSize) String() string {
	return fmt.Sprintf("[%d %d %d]", ws[0], ws[1], ws[2])
}

// Addr maps lattice coordinates to a flat index with z varying fastest.
func (ws WorldSize) Addr(i, j, k int) int {
	return (i*ws[1]+j)*ws[2] + k
}

// Coords is the inverse of Addr.
func (ws WorldSize) Coords(addr int) (int, int, int) {
	k := addr % ws[2]
	j := (addr / ws[2]) % ws[1]
	i := addr / (ws[1] * ws[2])
	return i, j, k
}

// Create a bounding box.
func NewBBox(min, max Vec3) BBox {
	return BBox{Min: min, Max: max}
}

// Size returns the box extents.
func (b BBox) Size() Vec3 {
	return b.Max.Sub(b.Min)
}

// Volume returns the product of the box extents.
func (b BBox) Volume() float32 {
	s := b.Size()
	return s[0] * s[1] * s[2]
}

// Center returns the box center.
func (b BBox) Center() Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Contains returns true if p lies inside the box. Faces are inclusive.
func (b BBox) Contains(p Vec3) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

// Valid returns true if the box has a positive extent along every axis.
func (b BBox) Valid() bool {
	s := b.Size()
	return s[0] > 0 && s[1] > 0 && s[2] > 0
}

// VoxelSize returns the edge length of a cubic voxel so that the box holds
// approximately numVoxels voxels.
func (b BBox) VoxelSize(numVoxels int) float32 {
	return float32(math.Cbrt(float64(b.Volume()) / float64(numVoxels)))
}

// WorldSizeFor returns the lattice dimensions for the given voxel size. Each
// dimension is truncated and clamped to at least 1.
func (b BBox) WorldSizeFor(voxelSize float32) WorldSize {
	s := b.Size()
	var ws WorldSize
	for axis := 0; axis < 3; axis++ {
		ws[axis] = int(s[axis] / voxelSize)
		if ws[axis] < 1 {
			ws[axis] = 1
		}
	}
	return ws
}

// Linspace returns n evenly spaced values covering [min, max] along the
// given axis, inclusive of both ends.
func (b BBox) Linspace(axis, n int) []float32 {
	out := make([]float32, n)
	if n == 1 {
		out[0] = b.Min[axis]
		return out
	}
	step := (b.Max[axis] - b.Min[axis]) / float32(n-1)
	for i := 0; i < n; i++ {
		out[i] = b.Min[axis] + step*float32(i)
	}
	out[n-1] = b.Max[axis]
	return out
}

func (b BBox) String() string {
	return fmt.Sprintf("[(%3.3f, %3.3f, %3.3f) - (%3.3f, %3.3f, %3.3f)]",
		b.Min[0], b.Min[1], b.Min[2], b.Max[0], b.Max[1], b.Max[2])
}
