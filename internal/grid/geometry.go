package grid

import "sync/atomic"

// MaxSearchRows bounds how far below its start row FindNextFit will look.
// Every blocked row needs at least one item in it, so a layout with fewer
// items than this can never exhaust the search.
const MaxSearchRows = 500

// exhausted counts FindNextFit calls that hit MaxSearchRows.
var exhausted atomic.Int64

// ExhaustedSearches returns how many packing searches have run out of rows
// since the process started. It should stay at zero; a non-zero value means
// a layout was given a fallback position that may overlap another card.
func ExhaustedSearches() int64 {
	return exhausted.Load()
}

// Occupancy maps every taken cell to the id of the item covering it.
type Occupancy map[Cell]string

// OccupancyOf builds the occupancy map for a list of already placed items.
// Items with no placement are skipped.
func OccupancyOf(items []Item) Occupancy {
	occ := make(Occupancy, len(items)*DefaultSpan)
	for _, it := range items {
		if it.Row < 1 || it.Col < 1 {
			continue
		}
		Occupy(occ, it.Row, it.Col, it.Span, it.ID)
	}
	return occ
}

// CanFit reports whether a card of the given span can sit at (row, col)
// without leaving the grid or covering an occupied cell.
func CanFit(occ Occupancy, row, col, span int) bool {
	if row < 1 || span < 1 || span > Cols {
		return false
	}
	if col < 1 || col > Cols-span+1 {
		return false
	}
	for c := col; c < col+span; c++ {
		if _, taken := occ[Cell{Row: row, Col: c}]; taken {
			return false
		}
	}
	return true
}

// Occupy marks the cells covered by a placement as owned by id.
// Callers must occupy an item before evaluating the next one.
func Occupy(occ Occupancy, row, col, span int, id string) {
	for c := col; c < col+span; c++ {
		occ[Cell{Row: row, Col: c}] = id
	}
}

// FindNextFit returns the first open placement for a card of the given span,
// scanning row by row from startRow. Within a row the preferred column is
// tried before the others, left to right, so cards stay close to where they
// were dropped.
//
// The second result is false only when the search ran MaxSearchRows rows
// without finding space; the placement is then (startRow, 1).
func FindNextFit(occ Occupancy, startRow, span, preferredCol int) (Placement, bool) {
	start := max(1, startRow)
	maxCol := Cols - span + 1
	if span < 1 || maxCol < 1 {
		exhausted.Add(1)
		return Placement{Row: start, Col: 1}, false
	}
	pref := clamp(preferredCol, 1, maxCol)

	for i := range MaxSearchRows {
		row := start + i
		if row < start {
			break
		}
		if CanFit(occ, row, pref, span) {
			return Placement{Row: row, Col: pref}, true
		}
		for col := 1; col <= maxCol; col++ {
			if col == pref {
				continue
			}
			if CanFit(occ, row, col, span) {
				return Placement{Row: row, Col: col}, true
			}
		}
	}

	exhausted.Add(1)
	return Placement{Row: start, Col: 1}, false
}
