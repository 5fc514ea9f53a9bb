// Package interleave implements the bit interleaver applied after rate
// matching (TS 38.212 5.4.2.2). Rate matched bits are written row by row
// into Qm rows of E/Qm columns and read out column by column, so that the
// bits of one modulation symbol come from different parts of the block.
package interleave

import (
	"errors"
	"fmt"
)

// ErrLength is returned when E is not a multiple of the modulation order or
// a buffer is shorter than E.
var ErrLength = errors.New("interleave: invalid length")

// ModulationOrders lists the supported bits per symbol.
var ModulationOrders = []int{1, 2, 4, 6, 8}

func check(e, qm, in, out int) error {
	if qm <= 0 || e < 0 || e%qm != 0 {
		return fmt.Errorf("%w: E=%d Qm=%d", ErrLength, e, qm)
	}
	if in < e || out < e {
		return fmt.Errorf("%w: buffers %d/%d shorter than E=%d", ErrLength, in, out, e)
	}
	return nil
}

// Interleave writes the interleaved form of the first e elements of in to out.
func Interleave[T any](e, qm int, in, out []T) error {
	if err := check(e, qm, len(in), len(out)); err != nil {
		return err
	}
	cols := e / qm
	for j := 0; j < cols; j++ {
		for i := 0; i < qm; i++ {
			out[j*qm+i] = in[i*cols+j]
		}
	}
	return nil
}

// Deinterleave undoes Interleave.
func Deinterleave[T any](e, qm int, in, out []T) error {
	if err := check(e, qm, len(in), len(out)); err != nil {
		return err
	}
	cols := e / qm
	for j := 0; j < cols; j++ {
		for i := 0; i < qm; i++ {
			out[i*cols+j] = in[j*qm+i]
		}
	}
	return nil
}
