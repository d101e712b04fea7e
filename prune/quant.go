package prune

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Divisor applied to the standard deviation of the quantized values to obtain
// the quantization step.
const stdDivisor = 15

// Quantized holds linearly quantized values together with the parameters
// required to reconstruct them.
type Quantized struct {
	Values    []int8
	Scale     float32
	ZeroPoint int32
	BitWidth  int

	// Number of values that fell outside the representable range and were
	// clamped.
	Overflow int
}

// Get the representable range for a signed bit width.
func quantRange(bitWidth int) (int32, int32) {
	return -(1 << (bitWidth - 1)), (1 << (bitWidth - 1)) - 1
}

// Quantize maps values to signed bitWidth integers with
// scale = stddev/15 and zero point = round(mean).
func Quantize(values []float32, bitWidth int) (*Quantized, error) {
	if bitWidth < 2 || bitWidth > 8 {
		return nil, ErrBitWidth
	}

	qmin, qmax := quantRange(bitWidth)
	q := &Quantized{
		Values:   make([]int8, len(values)),
		Scale:    1,
		BitWidth: bitWidth,
	}
	if len(values) == 0 {
		return q, nil
	}

	x := make([]float64, len(values))
	for idx, v := range values {
		x[idx] = float64(v)
	}
	mean := stat.Mean(x, nil)
	if len(x) > 1 {
		if std := stat.StdDev(x, nil); std > 0 {
			q.Scale = float32(std / stdDivisor)
		}
	}
	q.ZeroPoint = clampInt32(int32(math.RoundToEven(mean)), qmin, qmax)

	scale := float64(q.Scale)
	for idx, v := range x {
		// Compute in float64 so huge outliers do not wrap around.
		rv := math.RoundToEven(v/scale) + float64(q.ZeroPoint)
		switch {
		case rv < float64(qmin):
			q.Values[idx] = int8(qmin)
			q.Overflow++
		case rv > float64(qmax):
			q.Values[idx] = int8(qmax)
			q.Overflow++
		default:
			q.Values[idx] = int8(rv)
		}
	}
	return q, nil
}

// Dequantize reconstructs the values as (q - zeroPoint) * scale.
func (q *Quantized) Dequantize() []float32 {
	out := make([]float32, len(q.Values))
	for idx, v := range q.Values {
		out[idx] = float32(int32(v)-q.ZeroPoint) * q.Scale
	}
	return out
}

// MaxError returns the worst case reconstruction error for values that did
// not overflow.
func (q *Quantized) MaxError() float32 {
	return q.Scale / 2
}

func clampInt32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
