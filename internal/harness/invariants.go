package harness

import (
	"fmt"
	"reflect"

	"github.com/roach88/reportgrid/internal/grid"
)

// CheckInvariants returns a message for every layout invariant r breaks:
// a card off the grid, two cards sharing a cell, a duplicated id, or a
// layout that repacking would change.
func CheckInvariants(r grid.Report) []string {
	var problems []string

	seen := make(map[string]bool, len(r.Items))
	for _, it := range r.Items {
		if !grid.Valid(it) {
			problems = append(problems, fmt.Sprintf("card %s has invalid placement span=%d row=%d col=%d",
				it.ID, it.Span, it.Row, it.Col))
		}
		if seen[it.ID] {
			problems = append(problems, fmt.Sprintf("card id %s appears more than once", it.ID))
		}
		seen[it.ID] = true
	}

	if a, b, overlap := grid.Overlaps(r.Items); overlap {
		problems = append(problems, fmt.Sprintf("cards %s and %s overlap", a, b))
	}

	// A stable layout is a fixed point of repacking.
	if len(problems) == 0 && len(r.Items) > 0 {
		if again := grid.NormalizeItems(r.Items); !reflect.DeepEqual(again, r.Items) {
			problems = append(problems, "layout is not stable: repacking moves cards")
		}
	}

	return problems
}
