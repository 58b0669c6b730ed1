package grid

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// Cols is the fixed grid width.
	Cols = 4

	// DefaultSpan is the width given to cards whose stored span is missing.
	DefaultSpan = 2

	// DefaultTitle is used when a report has no title.
	DefaultTitle = "Report"

	// MaxTitleLen is the title length limit, in runes.
	MaxTitleLen = 60

	// MaxRow is the highest row a card can be stored at or asked to move
	// to. The packing search may still place a card up to MaxSearchRows
	// below it.
	MaxRow = 10_000
)

// Item is one card placed on the grid.
//
// Spec is the card payload. The grid never looks inside it; callers must
// treat the bytes as read-only once handed over.
type Item struct {
	ID   string          `json:"id"`
	Spec json.RawMessage `json:"spec"`
	Span int             `json:"span"`
	Row  int             `json:"row"`
	Col  int             `json:"col"`
}

// Report is one client's layout: a title and an ordered list of items.
// List order is independent of grid position.
type Report struct {
	Title string `json:"title"`
	Items []Item `json:"items"`
}

// NewReport returns an empty report with the default title.
func NewReport() Report {
	return Report{Title: DefaultTitle, Items: []Item{}}
}

// Clone returns a copy of r whose item slice can be modified independently.
func (r Report) Clone() Report {
	items := make([]Item, len(r.Items))
	copy(items, r.Items)
	return Report{Title: r.Title, Items: items}
}

// Find returns the index of the item with the given id, or -1.
func (r Report) Find(id string) int {
	for i, it := range r.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// Cell identifies one grid cell.
type Cell struct {
	Row int
	Col int
}

// Placement is a candidate (row, col) for an item.
type Placement struct {
	Row int
	Col int
}

// Number is a loosely typed numeric field read from a stored layout.
// Stored layouts were written by several generations of clients, so span,
// row and col may arrive as numbers, numeric strings, booleans or nothing.
type Number struct {
	Value float64
	Valid bool
}

// N returns a valid Number. It is mostly useful in tests and literals.
func N(v float64) Number {
	return Number{Value: v, Valid: true}
}

// UnmarshalJSON accepts numbers, numeric strings, booleans and null, which
// reads as 0. Anything else leaves the Number invalid without failing the
// surrounding decode.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case 'n':
		if string(data) == "null" {
			*n = N(0)
		}
		return nil
	case 't':
		*n = N(1)
		return nil
	case 'f':
		*n = N(0)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = N(0)
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil
		}
		*n = N(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return nil
	}
	*n = N(v)
	return nil
}

// RoundHalfUp rounds .5 towards positive infinity. Values outside the int
// range saturate.
func RoundHalfUp(v float64) int {
	r := math.Floor(v + 0.5)
	switch {
	case math.IsNaN(r):
		return 0
	case r >= math.MaxInt:
		return math.MaxInt
	case r <= math.MinInt:
		return math.MinInt
	}
	return int(r)
}

func clamp(n, lo, hi int) int {
	return max(lo, min(hi, n))
}

// NormalizeSpan clamps a span into [1, Cols].
func NormalizeSpan(span int) int {
	return clamp(span, 1, Cols)
}

// NormalizeRow clamps a row into [0, MaxRow]. Zero means "unplaced".
func NormalizeRow(row int) int {
	return clamp(row, 0, MaxRow)
}

// NormalizeCol clamps a column so that a card of the given span does not run
// past the right edge. Zero means "unplaced".
func NormalizeCol(col, span int) int {
	return clamp(col, 0, max(1, Cols-NormalizeSpan(span)+1))
}

// SpanOf converts a stored span. Missing or unreadable values become
// DefaultSpan; an explicit null reads as 0 and clamps to 1.
func SpanOf(n Number) int {
	if !n.Valid {
		return DefaultSpan
	}
	return NormalizeSpan(RoundHalfUp(n.Value))
}

// RowOf converts a stored row. Missing values become 0 (unplaced).
func RowOf(n Number) int {
	if !n.Valid {
		return 0
	}
	return NormalizeRow(RoundHalfUp(n.Value))
}

// ColOf converts a stored column. Missing values become 0 (unplaced).
func ColOf(n Number, span int) int {
	if !n.Valid {
		return 0
	}
	return NormalizeCol(RoundHalfUp(n.Value), span)
}

// NormalizeItem clamps an item's span, row and col independently.
// It does not resolve collisions; see Stabilize.
func NormalizeItem(it Item) Item {
	it.Span = NormalizeSpan(it.Span)
	it.Row = NormalizeRow(it.Row)
	it.Col = NormalizeCol(it.Col, it.Span)
	return it
}

// NormalizeTitle applies NFC normalization, substitutes DefaultTitle for
// blank titles and truncates to MaxTitleLen runes.
func NormalizeTitle(title string) string {
	title = norm.NFC.String(title)
	if strings.TrimSpace(title) == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(title) <= MaxTitleLen {
		return title
	}
	runes := []rune(title)
	return string(runes[:MaxTitleLen])
}

// EmptySpec reports whether a card payload is absent.
func EmptySpec(spec json.RawMessage) bool {
	trimmed := bytes.TrimSpace(spec)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
