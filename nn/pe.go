// Package nn implements the shallow view-dependent color network: a fixed
// positional encoding, a ReLU MLP with explicit backward pass and the Adam
// optimizer used to fit it.
package nn

import (
	"github.com/achilleasa/radiance/types"
	"github.com/chewxy/math32"
)

// EncodedDim returns the width of a positional encoding with pe frequencies.
func EncodedDim(pe int) int {
	return 3 + 3*pe*2
}

// Frequencies returns the encoding frequencies 2^0 ... 2^(pe-1).
func Frequencies(pe int) []float32 {
	out := make([]float32, pe)
	for i := range out {
		out[i] = float32(int(1) << uint(i))
	}
	return out
}

// PositionalEncoding expands each direction into
// [d, sin(d*2^i), cos(d*2^i)] with the frequency index varying fastest
// within each axis. Rows are EncodedDim(pe) wide.
func PositionalEncoding(dirs []types.Vec3, pe int) []float32 {
	dim := EncodedDim(pe)
	freq := Frequencies(pe)
	out := make([]float32, len(dirs)*dim)

	for n, d := range dirs {
		row := out[n*dim : (n+1)*dim]
		copy(row, d[:])
		sinPart := row[3 : 3+3*pe]
		cosPart := row[3+3*pe:]
		for axis := 0; axis < 3; axis++ {
			for i, f := range freq {
				v := d[axis] * f
				sinPart[axis*pe+i] = math32.Sin(v)
				cosPart[axis*pe+i] = math32.Cos(v)
			}
		}
	}
	return out
}

// Sigmoid applies the logistic function.
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}
