// Package grid implements the report-layout grid: geometry, the next-fit
// packing search, whole-layout stabilization and migration of stored layouts.
//
// A report is a list of cards (Items) placed on a grid that is Cols columns
// wide and unbounded in height. Rows and columns are 1-indexed. Every layout
// this package returns satisfies two invariants:
//
//   - No overlap: no two items occupy the same (row, col) cell.
//   - Validity: row >= 1, 1 <= span <= Cols, 1 <= col <= Cols-span+1.
//
// Stabilize is a pure function of its inputs, so the same items and locked id
// always produce the same layout.
//
// # Placement priority
//
// Stabilize processes items in list order, except that an optional locked
// item goes first. An item keeps its placement if it fits against the items
// processed before it; otherwise it is moved to the next open slot near where
// it was. Items without a placement (row or col of 0) are packed top-to-bottom,
// left-to-right. The packer is greedy: it favours items staying put over
// closing gaps.
//
// # Stored shapes
//
// Layouts have been stored in three shapes over time: a bare list of card
// payloads, a list of {id, spec, span} records, and the current
// {id, spec, span, row, col} records. DecodeEntries classifies each stored
// element into an Entry variant and Migrate turns any mix of them into a
// stable layout.
package grid
