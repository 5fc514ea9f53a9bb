package crc

import (
	"testing"
)

func TestCompute_CheckValues(t *testing.T) {
	check := []byte("123456789")
	tests := []struct {
		typ  Type
		want uint32
	}{
		{CRC16, 0x31C3},
		{CRC24A, 0xCDE703},
		{CRC24B, 0x23EF52},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			if got := Compute(tt.typ, check); got != tt.want {
				t.Errorf("Compute(%s) = %#06x, want %#06x", tt.typ, got, tt.want)
			}
		})
	}
}

func TestAttachValid(t *testing.T) {
	for _, typ := range []Type{CRC16, CRC24A, CRC24B} {
		t.Run(typ.String(), func(t *testing.T) {
			payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01}
			block := Attach(typ, append([]byte(nil), payload...))

			if len(block) != len(payload)+typ.Bytes() {
				t.Fatalf("block length = %d, want %d", len(block), len(payload)+typ.Bytes())
			}
			if !Valid(typ, block) {
				t.Fatal("freshly attached CRC does not validate")
			}

			block[2] ^= 0x10
			if Valid(typ, block) {
				t.Fatal("corrupted block validated")
			}
		})
	}
}

func TestValid_ShortBlock(t *testing.T) {
	if Valid(CRC24A, []byte{1, 2}) {
		t.Fatal("block shorter than the CRC must not validate")
	}
}

func TestSelection(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c int
		want    Type
		wantLen int
	}{
		{"A=3000 single segment", 3000, 3016, 1, CRC16, 3016},
		{"A=3824 boundary", 3824, 3840, 1, CRC16, 3840},
		{"A=3832 single segment", 3832, 3856, 1, CRC24A, 3856},
		{"A=5000 two segments", 5000, 5024, 2, CRC24B, 2536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n := ForDecode(tt.a, tt.b, tt.c)
			if got != tt.want || n != tt.wantLen {
				t.Errorf("ForDecode = (%s, %d), want (%s, %d)", got, n, tt.want, tt.wantLen)
			}
		})
	}

	if ForTransportBlock(3000) != CRC16 {
		t.Error("A=3000 should use CRC16 at transport block level")
	}
	if ForTransportBlock(5000) != CRC24A {
		t.Error("A=5000 should use CRC24A at transport block level")
	}
}
