package grid

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Entry is one stored layout element in any of its historical shapes.
// The concrete type is one of BareSpec, SpecWithSpan or FullPlacement.
type Entry interface {
	entry()
}

// BareSpec is the oldest shape: the stored element is the card payload.
type BareSpec struct {
	Spec json.RawMessage
}

// SpecWithSpan is a wrapped payload with a width but no grid position.
// ID may be empty, in which case Migrate assigns one.
type SpecWithSpan struct {
	ID   string
	Spec json.RawMessage
	Span Number
}

// FullPlacement is the current shape.
type FullPlacement struct {
	ID   string
	Spec json.RawMessage
	Span Number
	Row  Number
	Col  Number
}

func (BareSpec) entry()      {}
func (SpecWithSpan) entry()  {}
func (FullPlacement) entry() {}

// Meta is a report as it comes out of storage: a title and entries that may
// still be in a legacy shape.
type Meta struct {
	Title   string
	Entries []Entry
}

// MetaFromReport wraps an in-memory report as current-shape entries.
func MetaFromReport(r Report) Meta {
	entries := make([]Entry, len(r.Items))
	for i, it := range r.Items {
		entries[i] = FullPlacement{
			ID:   it.ID,
			Spec: it.Spec,
			Span: N(float64(it.Span)),
			Row:  N(float64(it.Row)),
			Col:  N(float64(it.Col)),
		}
	}
	return Meta{Title: r.Title, Entries: entries}
}

// storedEntry holds the keys DecodeEntries inspects. Raw fields distinguish
// an absent key from a null one.
type storedEntry struct {
	ID   json.RawMessage `json:"id"`
	Spec json.RawMessage `json:"spec"`
	Span Number          `json:"span"`
	Row  json.RawMessage `json:"row"`
	Col  json.RawMessage `json:"col"`
}

// DecodeEntries classifies each element of a stored items array.
// Non-array input yields no entries. Scalars and nulls are dropped.
func DecodeEntries(raw json.RawMessage) []Entry {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}

	entries := make([]Entry, 0, len(elems))
	for _, elem := range elems {
		elem = bytes.TrimSpace(elem)
		if len(elem) == 0 {
			continue
		}
		switch elem[0] {
		case '[':
			entries = append(entries, BareSpec{Spec: elem})
		case '{':
			entries = append(entries, classify(elem))
		}
	}
	return entries
}

func classify(elem json.RawMessage) Entry {
	var se storedEntry
	if err := json.Unmarshal(elem, &se); err != nil {
		return BareSpec{Spec: elem}
	}
	id := idString(se.ID)
	if !truthy(se.Spec) {
		return BareSpec{Spec: elem}
	}
	if id == "" {
		return SpecWithSpan{Spec: se.Spec, Span: se.Span}
	}
	if se.Row == nil && se.Col == nil {
		return SpecWithSpan{ID: id, Spec: se.Spec, Span: se.Span}
	}
	var row, col Number
	_ = row.UnmarshalJSON(se.Row)
	_ = col.UnmarshalJSON(se.Col)
	return FullPlacement{ID: id, Spec: se.Spec, Span: se.Span, Row: row, Col: col}
}

// idString accepts string ids and, from older writers, numeric ones.
func idString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case 'n', 't', 'f', '{', '[':
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	if f, err := n.Float64(); err != nil || f == 0 {
		return ""
	}
	return n.String()
}

// truthy reports whether a raw JSON value counts as present.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "false", "0", `""`:
		return false
	}
	return true
}

// Migrate converts entries of any shape to items and stabilizes the result.
// Legacy entries have no position and are packed in list order. newID
// supplies ids for entries that lack one.
func Migrate(entries []Entry, newID func() string) []Item {
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		switch v := e.(type) {
		case FullPlacement:
			span := SpanOf(v.Span)
			items = append(items, Item{
				ID:   v.ID,
				Spec: v.Spec,
				Span: span,
				Row:  RowOf(v.Row),
				Col:  ColOf(v.Col, span),
			})
		case SpecWithSpan:
			id := v.ID
			if id == "" {
				id = newID()
			}
			items = append(items, Item{ID: id, Spec: v.Spec, Span: SpanOf(v.Span)})
		case BareSpec:
			items = append(items, Item{ID: newID(), Spec: v.Spec, Span: DefaultSpan})
		}
	}
	return Stabilize(items, "")
}

// storedMeta is the object form of a stored document.
type storedMeta struct {
	Title json.RawMessage `json:"title"`
	Items json.RawMessage `json:"items"`
}

// DecodeMeta parses a whole stored document. Both the object form
// {title, items} and the oldest form, a bare array of payloads, are
// accepted. Only undecodable JSON is an error.
func DecodeMeta(data []byte) (Meta, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Meta{}, fmt.Errorf("decode meta: empty document")
	}
	switch data[0] {
	case '[':
		if !json.Valid(data) {
			return Meta{}, fmt.Errorf("decode meta: invalid JSON array")
		}
		return Meta{Entries: DecodeEntries(data)}, nil
	case '{':
		var sm storedMeta
		if err := json.Unmarshal(data, &sm); err != nil {
			return Meta{}, fmt.Errorf("decode meta: %w", err)
		}
		var title string
		if len(sm.Title) > 0 && sm.Title[0] == '"' {
			_ = json.Unmarshal(sm.Title, &title)
		}
		return Meta{Title: title, Entries: DecodeEntries(sm.Items)}, nil
	}
	return Meta{}, fmt.Errorf("decode meta: expected object or array")
}
