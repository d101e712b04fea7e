// Package prune ranks voxels by their contribution to rendered images and
// provides the low-bit quantization used when exporting pruned grids.
package prune

import (
	"errors"
	"sort"
)

// Added to every importance score before ranking so that all-zero volumes
// still produce a well defined cumulative distribution.
const importanceEpsilon = 1e-6

var (
	ErrShapeMismatch = errors.New("prune: importance and occupancy lengths differ")
	ErrKeepFraction  = errors.New("prune: keep fraction must be in (0, 1]")
	ErrBitWidth      = errors.New("prune: bit width must be in [2, 8]")
	ErrShortBuffer   = errors.New("prune: packed buffer is too short")
)

// RankAndPrune returns the occupancy flags of the smallest set of most
// important voxels that together hold keepFraction of the total importance.
// Voxels scoring at or above the cutoff value are kept. The result is always
// a subset of occupancy; a keep fraction of 1 returns a copy of occupancy.
func RankAndPrune(importance []float32, occupancy []bool, keepFraction float32) ([]bool, error) {
	if len(importance) != len(occupancy) {
		return nil, ErrShapeMismatch
	}
	if keepFraction <= 0 || keepFraction > 1 {
		return nil, ErrKeepFraction
	}

	keep := append([]bool(nil), occupancy...)
	if keepFraction == 1 || len(importance) == 0 {
		return keep, nil
	}

	cutoff := Cutoff(importance, keepFraction)
	for idx, v := range importance {
		if v+importanceEpsilon < cutoff {
			keep[idx] = false
		}
	}
	return keep, nil
}

// Cutoff returns the smallest (shifted) importance value whose suffix of the
// ascending sort holds keepFraction of the cumulative importance.
func Cutoff(importance []float32, keepFraction float32) float32 {
	vals := make([]float32, len(importance))
	var total float64
	for idx, v := range importance {
		vals[idx] = v + importanceEpsilon
		total += float64(vals[idx])
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })

	threshold := 1 - float64(keepFraction)
	var cumsum float64
	for _, v := range vals {
		cumsum += float64(v)
		if cumsum/total > threshold {
			return v
		}
	}
	return vals[len(vals)-1]
}

// KeptFraction returns the fraction of set flags.
func KeptFraction(keep []bool) float32 {
	if len(keep) == 0 {
		return 0
	}
	count := 0
	for _, v := range keep {
		if v {
			count++
		}
	}
	return float32(count) / float32(len(keep))
}
