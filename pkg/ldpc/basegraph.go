// Package ldpc provides the quasi-cyclic LDPC encoder and decoder used by
// the transport channel. The base graphs keep the dimensions and the
// structure of the NR graphs (systematic columns, a dual-diagonal core of
// four parity rows, single-parity extension rows, two punctured systematic
// columns) but use their own shift coefficients.
package ldpc

import "fmt"

// BaseGraph selects one of the two base graph families.
type BaseGraph int

const (
	BG1 BaseGraph = 1
	BG2 BaseGraph = 2
)

func (bg BaseGraph) String() string {
	switch bg {
	case BG1:
		return "BG1"
	case BG2:
		return "BG2"
	}
	return fmt.Sprintf("BG(%d)", int(bg))
}

// Valid reports whether bg names a known base graph.
func (bg BaseGraph) Valid() bool {
	return bg == BG1 || bg == BG2
}

// SystematicColumns returns the number of information columns.
func (bg BaseGraph) SystematicColumns() int {
	if bg == BG1 {
		return 22
	}
	return 10
}

// Rows returns the number of parity check rows.
func (bg BaseGraph) Rows() int {
	if bg == BG1 {
		return 46
	}
	return 42
}

// Columns returns the total number of columns.
func (bg BaseGraph) Columns() int {
	return bg.SystematicColumns() + bg.Rows()
}

// CodewordBits returns the bits produced per code block once the first two
// punctured columns are removed (N in TS 38.212 5.3.2).
func (bg BaseGraph) CodewordBits(z int) int {
	return (bg.Columns() - 2) * z
}

const coreRows = 4

// block is one nonzero circulant: row and column in the base graph and the
// shift coefficient before reduction modulo Z.
type block struct {
	row, col, shift int
}

type baseGraph struct {
	bg     BaseGraph
	kb     int
	rows   int
	cols   int
	blocks [][]block // per row; the last entry is the row's own parity column
}

var baseGraphs = map[BaseGraph]*baseGraph{
	BG1: buildBaseGraph(BG1),
	BG2: buildBaseGraph(BG2),
}

func shiftCoefficient(row, col int) int {
	return (row*31 + col*17 + row*col*7) % 384
}

func buildBaseGraph(bg BaseGraph) *baseGraph {
	g := &baseGraph{
		bg:     bg,
		kb:     bg.SystematicColumns(),
		rows:   bg.Rows(),
		cols:   bg.Columns(),
		blocks: make([][]block, bg.Rows()),
	}

	// Core rows: columns 0 and 1 are punctured on the air, so each of them
	// appears alone in one core row (0 and 1 respectively) and together in
	// row 2. The remaining systematic columns follow a 2-of-3 pattern.
	for j := 0; j < coreRows; j++ {
		var row []block
		for c := 0; c < g.kb; c++ {
			var member bool
			switch c {
			case 0:
				member = j == 0 || j == 2
			case 1:
				member = j == 1 || j == 2
			default:
				member = (c+2*j)%3 != 0
			}
			if member {
				row = append(row, block{row: j, col: c, shift: shiftCoefficient(j, c)})
			}
		}
		if j > 0 {
			row = append(row, block{row: j, col: g.kb + j - 1})
		}
		g.blocks[j] = append(row, block{row: j, col: g.kb + j})
	}

	for i := coreRows; i < g.rows; i++ {
		a := (i * 5) % g.kb
		b := (i*11 + 3) % g.kb
		if b == a {
			b = (a + 1) % g.kb
		}
		core := g.kb + i%coreRows
		g.blocks[i] = []block{
			{row: i, col: a, shift: shiftCoefficient(i, a)},
			{row: i, col: b, shift: shiftCoefficient(i, b)},
			{row: i, col: core, shift: shiftCoefficient(i, core)},
			{row: i, col: g.kb + i},
		}
	}

	return g
}

// graph is a base graph lifted by Z, stored as check node adjacency.
type graph struct {
	z          int
	vars       int
	checks     int
	checkStart []int32
	edgeVar    []int32
}

func (g *baseGraph) lift(z int) *graph {
	out := &graph{
		z:          z,
		vars:       g.cols * z,
		checks:     g.rows * z,
		checkStart: make([]int32, g.rows*z+1),
	}

	for r, row := range g.blocks {
		for t := 0; t < z; t++ {
			for _, b := range row {
				v := b.col*z + (t+b.shift%z)%z
				out.edgeVar = append(out.edgeVar, int32(v))
			}
			out.checkStart[r*z+t+1] = int32(len(out.edgeVar))
		}
	}
	return out
}
