package ratematch

import (
	"errors"
	"testing"

	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
)

func TestBufferSize(t *testing.T) {
	tests := []struct {
		name string
		bg   ldpc.BaseGraph
		z, c int
		lbrm int
		want int
	}{
		{"no limit BG1", ldpc.BG1, 384, 1, 0, 66 * 384},
		{"no limit BG2", ldpc.BG2, 64, 1, 0, 50 * 64},
		{"limit above N", ldpc.BG2, 64, 1, 100000, 50 * 64},
		{"limit below N", ldpc.BG1, 384, 4, 4000, 3 * 4000 * 8 / 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BufferSize(tt.bg, tt.z, tt.c, tt.lbrm); got != tt.want {
				t.Errorf("BufferSize = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStartPosition(t *testing.T) {
	z := 10
	tests := []struct {
		bg   ldpc.BaseGraph
		rv   int
		want int
	}{
		{ldpc.BG1, 0, 0},
		{ldpc.BG1, 1, 17 * z},
		{ldpc.BG1, 2, 33 * z},
		{ldpc.BG1, 3, 56 * z},
		{ldpc.BG2, 1, 13 * z},
		{ldpc.BG2, 3, 43 * z},
	}
	for _, tt := range tests {
		ncb := tt.bg.CodewordBits(z)
		if got := StartPosition(tt.bg, tt.rv, ncb, z); got != tt.want {
			t.Errorf("%s rv%d: k0 = %d, want %d", tt.bg, tt.rv, got, tt.want)
		}
	}

	// A limited buffer scales k0 down and keeps it a multiple of Z.
	if got := StartPosition(ldpc.BG1, 2, 33*z, z); got != 16*z {
		t.Errorf("limited k0 = %d, want %d", got, 16*z)
	}
}

func TestMatch_SkipsFillerAndWraps(t *testing.T) {
	p := Params{BG: ldpc.BG2, Z: 4, K: 40, F: 8, C: 1, RV: 0}
	ncb := BufferSize(p.BG, p.Z, p.C, 0)
	d := make([]uint8, ncb)
	for i := range d {
		d[i] = uint8(i % 251)
	}
	// Filler sits at [K-F-2Z, K-2Z) = [24, 32).
	p.E = ncb - p.F + 5
	e := make([]uint8, p.E)
	if err := Match(d, e, p); err != nil {
		t.Fatalf("Match: %v", err)
	}
	for k := 0; k < 24; k++ {
		if e[k] != d[k] {
			t.Fatalf("e[%d] = %d, want %d", k, e[k], d[k])
		}
	}
	if e[24] != d[32] {
		t.Fatalf("filler not skipped: e[24] = %d, want %d", e[24], d[32])
	}
	// After one pass the selection wraps to the start of the buffer.
	if e[ncb-p.F] != d[0] {
		t.Fatalf("no wrap: got %d, want %d", e[ncb-p.F], d[0])
	}
}

func TestRecover_InverseOfMatch(t *testing.T) {
	for rv := 0; rv < 4; rv++ {
		p := Params{BG: ldpc.BG1, Z: 8, K: 176, F: 16, C: 1, RV: rv, E: 300}
		ncb := BufferSize(p.BG, p.Z, p.C, 0)

		pos := make([]uint8, ncb)
		for i := range pos {
			pos[i] = 1
		}
		e := make([]uint8, p.E)
		if err := Match(pos, e, p); err != nil {
			t.Fatalf("rv%d Match: %v", rv, err)
		}

		soft := make([]fixedpoint.LLR, p.E)
		for i := range soft {
			soft[i] = 3
		}
		w := make([]fixedpoint.LLR, ncb)
		if err := Recover(w, soft, true, p); err != nil {
			t.Fatalf("rv%d Recover: %v", rv, err)
		}

		var total int
		for i, v := range w {
			if i >= p.K-p.F-2*p.Z && i < p.K-2*p.Z && v != 0 {
				t.Fatalf("rv%d: filler position %d received energy", rv, i)
			}
			total += int(v)
		}
		if total != 3*p.E {
			t.Errorf("rv%d: total energy %d, want %d", rv, total, 3*p.E)
		}
	}
}

func TestRecover_Combining(t *testing.T) {
	p := Params{BG: ldpc.BG2, Z: 4, K: 40, F: 0, C: 1, RV: 0, E: 40}
	w := make([]fixedpoint.LLR, BufferSize(p.BG, p.Z, p.C, 0))
	e := make([]fixedpoint.LLR, p.E)
	for i := range e {
		e[i] = 30000
	}

	if err := Recover(w, e, true, p); err != nil {
		t.Fatal(err)
	}
	if err := Recover(w, e, false, p); err != nil {
		t.Fatal(err)
	}
	if w[0] != 32767 {
		t.Fatalf("combined value %d, want saturation at 32767", w[0])
	}

	if err := Recover(w, e, true, p); err != nil {
		t.Fatal(err)
	}
	if w[0] != 30000 {
		t.Fatalf("fresh reception kept old energy: %d", w[0])
	}
}

func TestInfeasible(t *testing.T) {
	base := Params{BG: ldpc.BG2, Z: 4, K: 40, F: 8, C: 1, RV: 0, E: 40}
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero segments", func(p *Params) { p.C = 0 }},
		{"bad base graph", func(p *Params) { p.BG = 0 }},
		{"bad rv", func(p *Params) { p.RV = 4 }},
		{"zero E", func(p *Params) { p.E = 0 }},
		{"E below filler offset", func(p *Params) { p.E = 10 }},
		{"filler larger than block", func(p *Params) { p.F = 50 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			d := make([]uint8, 400)
			e := make([]uint8, 400)
			if err := Match(d, e, p); !errors.Is(err, ErrInfeasible) {
				t.Errorf("Match: expected ErrInfeasible, got %v", err)
			}
			w := make([]fixedpoint.LLR, 400)
			soft := make([]fixedpoint.LLR, 400)
			if err := Recover(w, soft, true, p); !errors.Is(err, ErrInfeasible) {
				t.Errorf("Recover: expected ErrInfeasible, got %v", err)
			}
		})
	}

	if err := Match(make([]uint8, 4), make([]uint8, 40), base); !errors.Is(err, ErrInfeasible) {
		t.Errorf("short d: expected ErrInfeasible, got %v", err)
	}
}

func TestSegmentE(t *testing.T) {
	tests := []struct {
		g, c, qm, nl int
		want         []int
	}{
		{1200, 1, 2, 1, []int{1200}},
		{1200, 2, 2, 1, []int{600, 600}},
		{1204, 3, 2, 1, []int{400, 402, 402}},
		{4800, 4, 4, 2, []int{1200, 1200, 1200, 1200}},
		{4808, 4, 4, 2, []int{1200, 1200, 1200, 1208}},
	}

	for _, tt := range tests {
		sum := 0
		for r, want := range tt.want {
			got := SegmentE(tt.g, tt.c, tt.qm, tt.nl, r)
			if got != want {
				t.Errorf("G=%d C=%d r=%d: E=%d, want %d", tt.g, tt.c, r, got, want)
			}
			sum += got
		}
		if sum != tt.g {
			t.Errorf("G=%d C=%d: segments use %d bits", tt.g, tt.c, sum)
		}
	}
}
