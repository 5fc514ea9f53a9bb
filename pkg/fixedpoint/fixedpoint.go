// Package fixedpoint holds the soft-value types used between the demodulator,
// the rate recovery stage and the LDPC decoder, along with saturating
// conversions between them.
package fixedpoint

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// LLR is a wide soft value as produced by the demodulator and accumulated
// across HARQ rounds. Positive values favour bit 0.
type LLR int16

// Packed is the narrow soft value consumed by the LDPC decoder.
type Packed int8

const (
	// MaxPacked marks a bit known to be 0 (shortened or filler positions).
	MaxPacked Packed = 127
	MinPacked Packed = -128
)

// Number is any signed integer or float type accepted by SaturatingCast.
type Number interface {
	constraints.Signed | constraints.Float
}

// bounds returns the representable range of the signed integer type T.
func bounds[T constraints.Signed]() (int64, int64) {
	var zero T
	bits := unsafe.Sizeof(zero) * 8
	hi := int64(1)<<(bits-1) - 1
	return -hi - 1, hi
}

// SaturatingCast converts v to T, clamping to T's range instead of wrapping.
// Float inputs are truncated toward zero after clamping.
func SaturatingCast[T constraints.Signed, F Number](v F) T {
	lo, hi := bounds[T]()
	switch {
	case float64(v) >= float64(hi):
		return T(hi)
	case float64(v) <= float64(lo):
		return T(lo)
	}
	return T(v)
}

// AddLLR returns a+b saturated to the LLR range.
func AddLLR(a, b LLR) LLR {
	return SaturatingCast[LLR](int32(a) + int32(b))
}

// Pack converts src into dst with saturation. dst must be at least len(src).
func Pack(dst []Packed, src []LLR) {
	for i, v := range src {
		dst[i] = SaturatingCast[Packed](v)
	}
}

// Fill sets every element of dst to v.
func Fill[T any](dst []T, v T) {
	for i := range dst {
		dst[i] = v
	}
}
