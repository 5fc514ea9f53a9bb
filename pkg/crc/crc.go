// Package crc implements the transport block and code block CRCs of
// TS 38.212 section 5.1: CRC24A, CRC24B and CRC16.
package crc

import (
	"fmt"

	"github.com/sigurn/crc16"
	snkcrc "github.com/snksoft/crc"
)

// Type selects one of the CRC polynomials.
type Type int

const (
	CRC16 Type = iota
	CRC24A
	CRC24B
)

// LargeTBThreshold is the largest payload size (bits) protected by CRC16.
const LargeTBThreshold = 3824

var crc16Params = crc16.Params{
	Poly: 0x1021,
	Init: 0x0000,
	Name: "NR-CRC16",
}

var (
	crc24AParams = &snkcrc.Parameters{Width: 24, Polynomial: 0x864CFB}
	crc24BParams = &snkcrc.Parameters{Width: 24, Polynomial: 0x800063}
)

var (
	crc16Table  = crc16.MakeTable(crc16Params)
	crc24ATable = snkcrc.NewTable(crc24AParams)
	crc24BTable = snkcrc.NewTable(crc24BParams)
)

func (t Type) String() string {
	switch t {
	case CRC16:
		return "crc16"
	case CRC24A:
		return "crc24a"
	case CRC24B:
		return "crc24b"
	}
	return fmt.Sprintf("crc(%d)", int(t))
}

// Bits returns the CRC length in bits.
func (t Type) Bits() int {
	if t == CRC16 {
		return 16
	}
	return 24
}

// Bytes returns the CRC length in bytes.
func (t Type) Bytes() int {
	return t.Bits() / 8
}

// Compute returns the CRC of data.
func Compute(t Type, data []byte) uint32 {
	switch t {
	case CRC16:
		return uint32(crc16.Checksum(data, crc16Table))
	case CRC24A:
		return uint32(crc24ATable.CalculateCRC(data))
	default:
		return uint32(crc24BTable.CalculateCRC(data))
	}
}

// Attach appends the CRC of data to data, most significant byte first.
func Attach(t Type, data []byte) []byte {
	sum := Compute(t, data)
	if t != CRC16 {
		data = append(data, byte(sum>>16))
	}
	return append(data, byte(sum>>8), byte(sum))
}

// Valid reports whether block ends with the CRC of the bytes before it.
// A mismatch is an ordinary outcome, not an error.
func Valid(t Type, block []byte) bool {
	n := t.Bytes()
	if len(block) < n {
		return false
	}
	data := block[:len(block)-n]
	sum := Compute(t, data)
	for i := 0; i < n; i++ {
		shift := uint(8 * (n - 1 - i))
		if block[len(data)+i] != byte(sum>>shift) {
			return false
		}
	}
	return true
}

// ForTransportBlock returns the transport block CRC for a payload of a bits.
func ForTransportBlock(a int) Type {
	if a > LargeTBThreshold {
		return CRC24A
	}
	return CRC16
}

// ForDecode returns the CRC the decoder checks on each code block and the
// number of bits that CRC covers, including the CRC itself. With one
// segment the transport block CRC is checked over all B bits; with more,
// every segment carries its own CRC24B.
func ForDecode(a, b, c int) (Type, int) {
	if c <= 1 {
		return ForTransportBlock(a), b
	}
	return CRC24B, (b + 24*c) / c
}
