// Package tbs computes transport block sizes (TS 38.214 5.1.3.2), the coded
// bit budget of an allocation and the limited buffer rate matching size.
package tbs

import (
	"math"
	"sort"
)

// table holds TBS values for Ninfo <= 3824 (TS 38.214 table 5.1.3.2-1).
var table = []int{
	24, 32, 40, 48, 56, 64, 72, 80, 88, 96, 104, 112, 120, 128, 136, 144, 152, 160, 168, 176,
	184, 192, 208, 224, 240, 256, 272, 288, 304, 320, 336, 352, 368, 384, 408, 432, 456, 480,
	504, 528, 552, 576, 608, 640, 672, 704, 736, 768, 808, 848, 888, 928, 984, 1032, 1064,
	1128, 1160, 1192, 1224, 1256, 1288, 1320, 1352, 1416, 1480, 1544, 1608, 1672, 1736,
	1800, 1864, 1928, 2024, 2088, 2152, 2216, 2280, 2408, 2472, 2536, 2600, 2664, 2728,
	2792, 2856, 2976, 3104, 3240, 3368, 3496, 3624, 3752, 3824,
}

// lbrmRBs is the RB count used for limited buffer rate matching per
// carrier size (TS 38.212 table 5.4.2.1-1).
var lbrmRBs = []int{32, 66, 107, 135, 162, 217, 273}

// maxREPerRB caps the resource elements counted per resource block.
const maxREPerRB = 156

// Allocation describes the time/frequency resources of one PDSCH/PUSCH.
type Allocation struct {
	RBs         int
	Symbols     int
	DMRSSymbols int
	// DMRSREPerRB is the DMRS resource elements per RB in each DMRS symbol.
	DMRSREPerRB int
	Overhead    int
	Qm          int
	Layers      int
	// TargetRate is the code rate multiplied by 1024.
	TargetRate int
}

// Rate returns the target code rate.
func (a Allocation) Rate() float64 {
	return float64(a.TargetRate) / 1024
}

// Size returns the transport block size in bits.
func (a Allocation) Size() int {
	perRB := 12*a.Symbols - a.DMRSREPerRB*a.DMRSSymbols - a.Overhead
	re := min(maxREPerRB, perRB) * a.RBs
	return fromRE(re, a.Rate(), a.Qm, a.Layers)
}

// CodedBits returns G, the number of coded bits the allocation carries.
func (a Allocation) CodedBits() int {
	return (12*a.Symbols - a.DMRSREPerRB*a.DMRSSymbols) * a.RBs * a.Qm * a.Layers
}

func fromRE(re int, rate float64, qm, layers int) int {
	ninfo := float64(re) * rate * float64(qm) * float64(layers)
	if ninfo <= 0 {
		return 0
	}

	if ninfo <= 3824 {
		n := max(3, int(math.Floor(math.Log2(ninfo)))-6)
		step := float64(int(1) << n)
		np := max(24, int(step*math.Floor(ninfo/step)))
		i := sort.SearchInts(table, np)
		if i == len(table) {
			return table[len(table)-1]
		}
		return table[i]
	}

	n := int(math.Floor(math.Log2(ninfo-24))) - 5
	step := float64(int(1) << n)
	np := max(3840, int(step*math.Round((ninfo-24)/step)))

	var c int
	switch {
	case rate <= 0.25:
		c = ceilDiv(np+24, 3816)
	case np > 8424:
		c = ceilDiv(np+24, 8424)
	default:
		return 8*ceilDiv(np+24, 8) - 24
	}
	return 8*c*ceilDiv(np+24, 8*c) - 24
}

// LBRMBytes returns the transport block size used to bound the circular
// buffer with limited buffer rate matching, in bytes. maxRBs is the carrier
// bandwidth in RBs and table256 selects the 256QAM MCS table.
func LBRMBytes(maxRBs, maxLayers int, table256 bool) int {
	rbs := lbrmRBs[len(lbrmRBs)-1]
	for _, n := range lbrmRBs {
		if n >= maxRBs {
			rbs = n
			break
		}
	}
	qm := 6
	if table256 {
		qm = 8
	}
	return fromRE(maxREPerRB*rbs, 948.0/1024, qm, min(maxLayers, 4)) / 8
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
