package prune

// PackBits packs flags into bytes, most significant bit first. The last byte
// is zero padded.
func PackBits(flags []bool) []byte {
	out := make([]byte, (len(flags)+7)/8)
	for idx, v := range flags {
		if v {
			out[idx>>3] |= 0x80 >> uint(idx&7)
		}
	}
	return out
}

// UnpackBits is the inverse of PackBits for n flags.
func UnpackBits(data []byte, n int) ([]bool, error) {
	if len(data) < (n+7)/8 {
		return nil, ErrShortBuffer
	}
	out := make([]bool, n)
	for idx := range out {
		out[idx] = data[idx>>3]&(0x80>>uint(idx&7)) != 0
	}
	return out, nil
}
