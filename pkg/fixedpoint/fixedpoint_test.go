package fixedpoint

import (
	"math"
	"testing"
)

func TestSaturatingCast(t *testing.T) {
	tests := []struct {
		name string
		in   int32
		want Packed
	}{
		{"zero", 0, 0},
		{"in range positive", 100, 100},
		{"in range negative", -100, -100},
		{"upper edge", 127, 127},
		{"lower edge", -128, -128},
		{"clamp high", 128, 127},
		{"clamp low", -129, -128},
		{"clamp far high", 40000, 127},
		{"clamp far low", -40000, -128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SaturatingCast[Packed](tt.in); got != tt.want {
				t.Errorf("SaturatingCast(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestSaturatingCast_Float(t *testing.T) {
	if got := SaturatingCast[LLR](1e9); got != math.MaxInt16 {
		t.Errorf("got %d, want %d", got, math.MaxInt16)
	}
	if got := SaturatingCast[LLR](-1e9); got != math.MinInt16 {
		t.Errorf("got %d, want %d", got, math.MinInt16)
	}
	if got := SaturatingCast[LLR](12.9); got != 12 {
		t.Errorf("got %d, want 12", got)
	}
}

func TestSaturatingCast_Int64Target(t *testing.T) {
	if got := SaturatingCast[int64](int32(-5)); got != -5 {
		t.Errorf("got %d, want -5", got)
	}
}

func TestAddLLR_Saturates(t *testing.T) {
	if got := AddLLR(30000, 30000); got != math.MaxInt16 {
		t.Errorf("positive overflow: got %d", got)
	}
	if got := AddLLR(-30000, -30000); got != math.MinInt16 {
		t.Errorf("negative overflow: got %d", got)
	}
	if got := AddLLR(10, -3); got != 7 {
		t.Errorf("got %d, want 7", got)
	}
}

func TestPack(t *testing.T) {
	src := []LLR{0, 5, -5, 300, -300}
	dst := make([]Packed, len(src))
	Pack(dst, src)

	want := []Packed{0, 5, -5, 127, -128}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %d, want %d", i, dst[i], want[i])
		}
	}
}
