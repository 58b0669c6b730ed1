// Package schema checks stored report documents against the CUE definitions
// in schema.cue and classifies their shape.
//
// A document is one of:
//   - current: {title, items} with every item fully placed and no overlaps
//   - legacy: a bare array of payloads, or items without placements; these
//     migrate on load
//   - invalid: anything the loader would have to repair or drop, and cards
//     whose payload is not a JSON object or array
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/reportgrid/internal/grid"
)

//go:embed schema.cue
var schemaSource string

// Validation error codes (E100-E109)
const (
	ErrMalformed       = "E100" // not a JSON object or array
	ErrSchemaViolation = "E101" // rejected by #Report or #LegacyItem
	ErrMissingItems    = "E102" // object form without an items array
	ErrNotAnObject     = "E103" // item dropped on load
	ErrOverlap         = "E104" // two items share a cell
	ErrDuplicateID     = "E105" // two items share an id
)

// Shape classifies a stored document.
type Shape string

const (
	ShapeCurrent Shape = "current"
	ShapeLegacy  Shape = "legacy"
	ShapeInvalid Shape = "invalid"
)

// ValidationError describes one problem with a document.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Result is the outcome of validating one document.
type Result struct {
	Shape       Shape             `json:"shape"`
	Items       int               `json:"items"`
	LegacyItems int               `json:"legacy_items"`
	Errors      []ValidationError `json:"errors,omitempty"`
}

// Valid reports whether the document loads without repair or data loss.
func (r Result) Valid() bool {
	return r.Shape != ShapeInvalid
}

// Validator holds the compiled schema.
//
// Thread-safety: Validate is safe for concurrent use; calls are serialized
// because a cue.Context is not.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	report cue.Value
	legacy cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	report := v.LookupPath(cue.ParsePath("#Report"))
	legacy := v.LookupPath(cue.ParsePath("#LegacyItem"))
	if !report.Exists() || !legacy.Exists() {
		return nil, fmt.Errorf("compile schema: missing definitions")
	}
	return &Validator{ctx: ctx, report: report, legacy: legacy}, nil
}

// Validate checks one stored document.
func (v *Validator) Validate(data []byte) Result {
	var top any
	if err := json.Unmarshal(data, &top); err != nil {
		return invalid(ValidationError{Field: "document", Message: err.Error(), Code: ErrMalformed})
	}

	switch doc := top.(type) {
	case []any:
		// The oldest shape: a bare array of payloads.
		res := Result{Shape: ShapeLegacy}
		for i, el := range doc {
			switch el.(type) {
			case map[string]any, []any:
				res.Items++
				res.LegacyItems++
			default:
				res.Errors = append(res.Errors, notAnObject(i))
			}
		}
		if len(res.Errors) > 0 {
			res.Shape = ShapeInvalid
		}
		return res
	case map[string]any:
		return v.validateObject(data, doc)
	default:
		return invalid(ValidationError{
			Field:   "document",
			Message: "expected an object or an array",
			Code:    ErrMalformed,
		})
	}
}

// validateTitle checks only the title of a document against #Report.
func (v *Validator) validateTitle(doc map[string]any) []ValidationError {
	title, ok := doc["title"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(map[string]any{"title": title, "items": []any{}})
	if err != nil {
		return []ValidationError{{Field: "title", Message: err.Error(), Code: ErrMalformed}}
	}
	value := v.ctx.CompileBytes(data, cue.Filename("title"))
	return cueErrors(v.report.Unify(value).Validate(cue.Concrete(true)))
}

func (v *Validator) validateObject(data []byte, doc map[string]any) Result {
	rawItems, ok := doc["items"].([]any)
	if !ok {
		return invalid(ValidationError{Field: "items", Message: "items must be an array", Code: ErrMissingItems})
	}

	var stored struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return invalid(ValidationError{Field: "document", Message: err.Error(), Code: ErrMalformed})
	}

	// DecodeEntries keeps objects and arrays in order; rawIndex maps an
	// entry back to its position in the items array.
	res := Result{}
	var rawIndex []int
	for i, el := range rawItems {
		switch el.(type) {
		case map[string]any, []any:
			rawIndex = append(rawIndex, i)
		default:
			res.Errors = append(res.Errors, notAnObject(i))
		}
	}

	entries := grid.DecodeEntries(stored.Items)
	var legacyIdx []int
	for i, e := range entries {
		res.Items++
		if _, full := e.(grid.FullPlacement); !full {
			res.LegacyItems++
			legacyIdx = append(legacyIdx, rawIndex[i])
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	value := v.ctx.CompileBytes(data, cue.Filename("report.json"))
	if err := value.Err(); err != nil {
		return invalid(ValidationError{Field: "document", Message: err.Error(), Code: ErrMalformed})
	}

	if res.LegacyItems > 0 {
		// Legacy documents only need a usable title and readable legacy
		// cards; placements are assigned on load.
		res.Errors = append(res.Errors, v.validateTitle(doc)...)
		for _, i := range legacyIdx {
			obj, isObj := rawItems[i].(map[string]any)
			if !isObj {
				continue
			}
			if _, hasSpec := obj["spec"]; !hasSpec {
				continue
			}
			el := value.LookupPath(cue.MakePath(cue.Str("items"), cue.Index(i)))
			res.Errors = append(res.Errors, cueErrors(v.legacy.Unify(el).Validate(cue.Concrete(true)))...)
		}
		res.Shape = ShapeLegacy
	} else {
		res.Errors = append(res.Errors, cueErrors(v.report.Unify(value).Validate(cue.Concrete(true)))...)
		res.Errors = append(res.Errors, layoutErrors(entries, rawIndex)...)
		res.Shape = ShapeCurrent
	}

	if len(res.Errors) > 0 {
		res.Shape = ShapeInvalid
	}
	return res
}

// layoutErrors reports problems CUE cannot express: duplicate ids and
// overlapping placements.
func layoutErrors(entries []grid.Entry, rawIndex []int) []ValidationError {
	var errs []ValidationError
	items := make([]grid.Item, 0, len(entries))
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		fp := e.(grid.FullPlacement)
		if first, dup := seen[fp.ID]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("items.%d.id", rawIndex[i]),
				Message: fmt.Sprintf("id %q already used by items.%d", fp.ID, rawIndex[first]),
				Code:    ErrDuplicateID,
			})
			continue
		}
		seen[fp.ID] = i
		span := grid.SpanOf(fp.Span)
		items = append(items, grid.Item{
			ID:   fp.ID,
			Span: span,
			Row:  grid.RowOf(fp.Row),
			Col:  grid.ColOf(fp.Col, span),
		})
	}
	if a, b, overlap := grid.Overlaps(items); overlap {
		errs = append(errs, ValidationError{
			Field:   "items",
			Message: fmt.Sprintf("items %q and %q overlap", a, b),
			Code:    ErrOverlap,
		})
	}
	return errs
}

func cueErrors(err error) []ValidationError {
	if err == nil {
		return nil
	}
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: e.Error(),
			Code:    ErrSchemaViolation,
		}
		if ve.Field == "" {
			ve.Field = "document"
		}
		for _, pos := range cueerrors.Positions(e) {
			if pos.IsValid() && pos.Filename() == "report.json" {
				ve.Line = pos.Line()
				break
			}
		}
		out = append(out, ve)
	}
	return out
}

func notAnObject(i int) ValidationError {
	return ValidationError{
		Field:   fmt.Sprintf("items.%d", i),
		Message: "item is not an object and would be dropped on load",
		Code:    ErrNotAnObject,
	}
}

func invalid(errs ...ValidationError) Result {
	return Result{Shape: ShapeInvalid, Errors: errs}
}
