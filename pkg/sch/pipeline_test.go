package sch

import (
	"testing"

	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
)

func TestDecoderInput(t *testing.T) {
	const (
		z    = 2
		k    = 20
		f    = 4
		cols = 14
	)
	ncb := (cols - 2) * z
	soft := make([]fixedpoint.LLR, ncb+4)
	for i := range soft {
		soft[i] = fixedpoint.LLR(i + 1)
	}
	soft[0] = 1000
	soft[1] = -1000
	soft[ncb] = 55 // beyond Ncb, stale

	dst := make([]fixedpoint.Packed, cols*z)
	fixedpoint.Fill(dst, 9)
	decoderInput(dst, soft, k, f, z, ncb-2)

	for i := 0; i < 2*z; i++ {
		if dst[i] != 0 {
			t.Fatalf("punctured position %d = %d, want 0", i, dst[i])
		}
	}
	if dst[2*z] != 127 || dst[2*z+1] != -128 {
		t.Fatalf("saturation: got %d %d", dst[2*z], dst[2*z+1])
	}
	if dst[2*z+2] != 3 {
		t.Fatalf("systematic copy: got %d, want 3", dst[2*z+2])
	}
	for i := k - f; i < k; i++ {
		if dst[i] != fixedpoint.MaxPacked {
			t.Fatalf("filler position %d = %d", i, dst[i])
		}
	}
	if dst[k] != fixedpoint.Packed(soft[k-2*z]) {
		t.Fatalf("parity copy: got %d, want %d", dst[k], soft[k-2*z])
	}
	// The limited buffer ends two positions early; the rest is erased.
	if dst[len(dst)-1] != 0 || dst[len(dst)-2] != 0 || dst[len(dst)-3] == 0 {
		t.Fatalf("buffer tail: %v", dst[len(dst)-3:])
	}
}
