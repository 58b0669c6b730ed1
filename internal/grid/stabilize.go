package grid

// Stabilize repacks a layout so that no two items overlap and every item has
// a valid placement, moving as few items as possible.
//
// If lockedID names an item in the list, that item is placed first and so
// keeps its requested placement whenever that placement is on the grid.
// Everyone else keeps their relative order. The returned slice is in the
// same order as items regardless of the lock; the input is not modified.
func Stabilize(items []Item, lockedID string) []Item {
	normalized := make([]Item, len(items))
	for i, it := range items {
		normalized[i] = NormalizeItem(it)
	}

	order := make([]int, 0, len(normalized))
	locked := -1
	if lockedID != "" {
		for i, it := range normalized {
			if it.ID == lockedID {
				locked = i
				break
			}
		}
	}
	if locked >= 0 {
		order = append(order, locked)
	}
	for i := range normalized {
		if i != locked {
			order = append(order, i)
		}
	}

	occ := make(Occupancy, len(normalized)*DefaultSpan)
	placed := make([]Item, len(normalized))
	for _, idx := range order {
		it := normalized[idx]

		// Unplaced items are packed from the top-left.
		if it.Row == 0 || it.Col == 0 {
			p, _ := FindNextFit(occ, 1, it.Span, 1)
			it.Row, it.Col = p.Row, p.Col
		}

		// Colliding with an earlier item: drop to the next slot near here.
		if !CanFit(occ, it.Row, it.Col, it.Span) {
			p, _ := FindNextFit(occ, it.Row, it.Span, it.Col)
			it.Row, it.Col = p.Row, p.Col
		}

		Occupy(occ, it.Row, it.Col, it.Span, it.ID)
		placed[idx] = it
	}

	return placed
}

// NormalizeItems stabilizes a list of items with no locked item.
func NormalizeItems(items []Item) []Item {
	return Stabilize(items, "")
}

// NormalizeReport returns r with its title normalized and its items
// stabilized.
func NormalizeReport(r Report) Report {
	return Report{Title: NormalizeTitle(r.Title), Items: NormalizeItems(r.Items)}
}

// Overlaps returns the ids of the first pair of items sharing a cell, or
// ok=false if the layout is collision free.
func Overlaps(items []Item) (a, b string, ok bool) {
	occ := make(Occupancy, len(items)*DefaultSpan)
	for _, it := range items {
		for c := it.Col; c < it.Col+it.Span; c++ {
			cell := Cell{Row: it.Row, Col: c}
			if owner, taken := occ[cell]; taken {
				return owner, it.ID, true
			}
			occ[cell] = it.ID
		}
	}
	return "", "", false
}

// Valid reports whether an item's placement satisfies the grid bounds.
func Valid(it Item) bool {
	return it.Row >= 1 && it.Span >= 1 && it.Span <= Cols && it.Col >= 1 && it.Col <= Cols-it.Span+1
}
