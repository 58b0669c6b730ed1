package layout

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/reportgrid/internal/grid"
)

const emptyCell = '.'

// maxEmptyRun is the longest run of empty rows drawn in full. Longer runs
// are drawn as a single marker line.
const maxEmptyRun = 3

// Label returns the single-character label Render uses for the card at list
// position i: a-z, then A-Z, then '#'.
func Label(i int) byte {
	switch {
	case i < 0:
		return '#'
	case i < 26:
		return byte('a' + i)
	case i < 52:
		return byte('A' + i - 26)
	default:
		return '#'
	}
}

// Render draws a report as a text grid followed by a legend, one line per
// card in list order:
//
//	Quarterly
//	  1 | a a b b
//	  2 | c c c c
//
//	a card-1 span=2 row=1 col=1
//	...
//
// Empty cells are '.'. A run of more than maxEmptyRun empty rows is drawn as
// one line, so the output stays proportional to the number of cards. Cards
// outside the grid are listed but not drawn.
func Render(r grid.Report) string {
	var b strings.Builder
	b.WriteString(r.Title)
	b.WriteByte('\n')

	if len(r.Items) == 0 {
		b.WriteString("(no cards)\n")
		return b.String()
	}

	cells := make(map[grid.Cell]byte)
	filled := make(map[int]bool)
	for i, it := range r.Items {
		if !grid.Valid(it) {
			continue
		}
		filled[it.Row] = true
		for c := it.Col; c < it.Col+it.Span; c++ {
			cells[grid.Cell{Row: it.Row, Col: c}] = Label(i)
		}
	}
	rows := slices.Sorted(maps.Keys(filled))

	prev := 0
	for _, row := range rows {
		if gap := row - prev - 1; gap > maxEmptyRun {
			fmt.Fprintf(&b, "    : %d empty rows\n", gap)
		} else {
			for empty := prev + 1; empty < row; empty++ {
				writeRow(&b, cells, empty)
			}
		}
		writeRow(&b, cells, row)
		prev = row
	}

	b.WriteByte('\n')
	for i, it := range r.Items {
		fmt.Fprintf(&b, "%c %s span=%d row=%d col=%d\n", Label(i), it.ID, it.Span, it.Row, it.Col)
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells map[grid.Cell]byte, row int) {
	fmt.Fprintf(b, "%3d |", row)
	for col := 1; col <= grid.Cols; col++ {
		label, ok := cells[grid.Cell{Row: row, Col: col}]
		if !ok {
			label = emptyCell
		}
		b.WriteByte(' ')
		b.WriteByte(label)
	}
	b.WriteByte('\n')
}
