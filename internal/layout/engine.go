package layout

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/reportgrid/internal/grid"
)

// ChangeKind distinguishes hydration from ordinary mutations.
type ChangeKind int

const (
	// ChangeHydrated is published by Hydrate. The report reflects stored
	// state and does not need saving.
	ChangeHydrated ChangeKind = iota + 1

	// ChangeMutated is published by every other applied operation.
	ChangeMutated
)

// String returns the kind name used in logs and on the change stream.
func (k ChangeKind) String() string {
	switch k {
	case ChangeHydrated:
		return "hydrated"
	case ChangeMutated:
		return "mutated"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers after every applied operation.
// Report is a copy owned by the subscriber.
type Change struct {
	ClientID string
	Report   grid.Report
	Kind     ChangeKind
}

type subscriber struct {
	id int
	fn func(Change)
}

// Engine holds one report per client.
type Engine struct {
	// writeMu serialises mutations and subscriber delivery.
	writeMu sync.Mutex

	mu      sync.RWMutex
	reports map[string]grid.Report

	subMu   sync.Mutex
	subs    []subscriber
	nextSub int

	ids    IDGenerator
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator sets the source of new card ids.
//
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the engine logger. Default: a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an empty Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		reports: make(map[string]grid.Report),
		ids:     UUIDv7Generator{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("layout")
	return e
}

// Subscribe registers fn to receive every change, for every client.
// Delivery is synchronous, on the goroutine that applied the mutation, in
// subscription order. The returned function removes the subscription.
func (e *Engine) Subscribe(fn func(Change)) (unsubscribe func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			defer e.subMu.Unlock()
			for i, s := range e.subs {
				if s.id == id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Report returns a copy of the client's report and whether one exists.
func (e *Engine) Report(clientID string) (grid.Report, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.reports[clientID]
	if !ok {
		return grid.Report{}, false
	}
	return r.Clone(), true
}

// Clients returns the ids of every client with a report, sorted.
func (e *Engine) Clients() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.reports))
	for id := range e.reports {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// unchanged is the result of an ignored call: the current report, if any,
// and applied=false.
func (e *Engine) unchanged(clientID string) (grid.Report, bool) {
	r, _ := e.Report(clientID)
	return r, false
}

// mutation computes the next report from the current one. base is a private
// copy with normalized items; exists reports whether the client already had a
// report. Returning false leaves the state untouched and publishes nothing.
type mutation func(base grid.Report, exists bool) (grid.Report, bool)

// apply runs fn under the writer lock, stores the result and notifies
// subscribers.
func (e *Engine) apply(op, clientID string, kind ChangeKind, fn mutation) (grid.Report, bool) {
	if clientID == "" {
		return grid.Report{}, false
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.RLock()
	current, exists := e.reports[clientID]
	e.mu.RUnlock()

	base := grid.NewReport()
	if exists {
		base = current.Clone()
		base.Items = grid.NormalizeItems(base.Items)
	}

	exhaustedBefore := grid.ExhaustedSearches()
	next, applied := fn(base, exists)
	if !applied {
		if exists {
			return current.Clone(), false
		}
		return grid.Report{}, false
	}
	if next.Items == nil {
		next.Items = []grid.Item{}
	}

	if grid.ExhaustedSearches() != exhaustedBefore {
		e.logger.Warn("packing search exhausted; card given a fallback position",
			zap.String("op", op),
			zap.String("client_id", clientID),
			zap.Int("items", len(next.Items)),
		)
	}

	e.mu.Lock()
	e.reports[clientID] = next
	e.mu.Unlock()

	e.publish(Change{ClientID: clientID, Report: next, Kind: kind})
	return next.Clone(), true
}

func (e *Engine) publish(c Change) {
	e.subMu.Lock()
	subs := make([]subscriber, len(e.subs))
	copy(subs, e.subs)
	e.subMu.Unlock()

	for _, s := range subs {
		change := c
		change.Report = c.Report.Clone()
		s.fn(change)
	}
}

// Hydrate replaces the client's report with one built from stored state.
// Legacy entries are migrated and every card is packed into a valid,
// collision-free position. Subscribers receive ChangeHydrated.
func (e *Engine) Hydrate(clientID string, meta grid.Meta) (grid.Report, bool) {
	return e.apply("hydrate", clientID, ChangeHydrated, func(grid.Report, bool) (grid.Report, bool) {
		r := grid.Report{
			Title: grid.NormalizeTitle(meta.Title),
			Items: grid.Migrate(meta.Entries, e.ids.Generate),
		}
		e.logger.Debug("hydrated report",
			zap.String("client_id", clientID),
			zap.Int("items", len(r.Items)),
		)
		return r, true
	})
}

// EnsureReport creates an empty report for the client if it has none.
func (e *Engine) EnsureReport(clientID string) (grid.Report, bool) {
	return e.apply("ensure", clientID, ChangeMutated, func(base grid.Report, exists bool) (grid.Report, bool) {
		if exists {
			return base, false
		}
		return base, true
	})
}

// SetTitle replaces the report title. Blank titles become grid.DefaultTitle
// and long ones are truncated. Placement is untouched.
func (e *Engine) SetTitle(clientID, title string) (grid.Report, bool) {
	return e.apply("set_title", clientID, ChangeMutated, func(base grid.Report, _ bool) (grid.Report, bool) {
		base.Title = grid.NormalizeTitle(title)
		return base, true
	})
}

// AddItem appends a card in the first open slot, scanning from the top-left.
// Existing cards keep their positions exactly.
func (e *Engine) AddItem(clientID string, spec json.RawMessage, span int) (grid.Report, bool) {
	if grid.EmptySpec(spec) {
		return e.unchanged(clientID)
	}
	return e.apply("add", clientID, ChangeMutated, func(base grid.Report, _ bool) (grid.Report, bool) {
		span := grid.NormalizeSpan(span)
		occ := grid.OccupancyOf(base.Items)
		p, _ := grid.FindNextFit(occ, 1, span, 1)

		base.Items = append(base.Items, grid.Item{
			ID:   e.ids.Generate(),
			Spec: cloneSpec(spec),
			Span: span,
			Row:  p.Row,
			Col:  p.Col,
		})
		return base, true
	})
}

// AddItemAt appends a card at a requested position. The new card has
// priority; cards in its way are moved.
func (e *Engine) AddItemAt(clientID string, spec json.RawMessage, span, row, col int) (grid.Report, bool) {
	if grid.EmptySpec(spec) {
		return e.unchanged(clientID)
	}
	return e.apply("add_at", clientID, ChangeMutated, func(base grid.Report, _ bool) (grid.Report, bool) {
		span := grid.NormalizeSpan(span)
		id := e.ids.Generate()
		row, col := requestedCell(row, col, span)

		items := append(base.Items, grid.Item{ID: id, Spec: cloneSpec(spec), Span: span, Row: row, Col: col})
		base.Items = grid.Stabilize(items, id)
		return base, true
	})
}

// RemoveItem deletes a card. Other cards are not repacked, so a gap may
// remain where the card was.
func (e *Engine) RemoveItem(clientID, id string) (grid.Report, bool) {
	if id == "" {
		return e.unchanged(clientID)
	}
	return e.apply("remove", clientID, ChangeMutated, func(base grid.Report, _ bool) (grid.Report, bool) {
		idx := base.Find(id)
		if idx < 0 {
			return base, false
		}
		base.Items = append(base.Items[:idx:idx], base.Items[idx+1:]...)
		return base, true
	})
}

// ReorderItems moves the card fromID to the list position of toID. Only
// list order changes; every card keeps its row, col and span.
func (e *Engine) ReorderItems(clientID, fromID, toID string) (grid.Report, bool) {
	if fromID == "" || toID == "" || fromID == toID {
		return e.unchanged(clientID)
	}
	return e.apply("reorder", clientID, ChangeMutated, func(base grid.Report, _ bool) (grid.Report, bool) {
		from, to := base.Find(fromID), base.Find(toID)
		if from < 0 || to < 0 {
			return base, false
		}
		moved := base.Items[from]
		items := append(base.Items[:from:from], base.Items[from+1:]...)
		items = append(items[:to], append([]grid.Item{moved}, items[to:]...)...)
		base.Items = items
		return base, true
	})
}

// SetSpan changes a card's width. The card keeps its position if the new
// width fits there; otherwise it moves nearby and may displace others.
func (e *Engine) SetSpan(clientID, id string, span int) (grid.Report, bool) {
	if id == "" {
		return e.unchanged(clientID)
	}
	return e.apply("set_span", clientID, ChangeMutated, func(base grid.Report, _ bool) (grid.Report, bool) {
		idx := base.Find(id)
		if idx < 0 {
			return base, false
		}
		base.Items[idx].Span = grid.NormalizeSpan(span)
		base.Items = grid.Stabilize(base.Items, id)
		return base, true
	})
}

// SetSpec replaces a card's payload. Placement is untouched.
func (e *Engine) SetSpec(clientID, id string, spec json.RawMessage) (grid.Report, bool) {
	if id == "" || grid.EmptySpec(spec) {
		return e.unchanged(clientID)
	}
	return e.apply("set_spec", clientID, ChangeMutated, func(base grid.Report, _ bool) (grid.Report, bool) {
		idx := base.Find(id)
		if idx < 0 {
			return base, false
		}
		base.Items[idx].Spec = cloneSpec(spec)
		return base, true
	})
}

// PlaceItem moves a card to a requested position. The card lands there
// unless the position is off the grid; cards it collides with are moved to
// the next open slot near their old position.
func (e *Engine) PlaceItem(clientID, id string, row, col int) (grid.Report, bool) {
	if id == "" {
		return e.unchanged(clientID)
	}
	return e.apply("place", clientID, ChangeMutated, func(base grid.Report, _ bool) (grid.Report, bool) {
		idx := base.Find(id)
		if idx < 0 {
			return base, false
		}
		it := &base.Items[idx]
		it.Row, it.Col = requestedCell(row, col, it.Span)
		base.Items = grid.Stabilize(base.Items, id)
		return base, true
	})
}

// requestedCell clamps a user-requested position onto the grid.
func requestedCell(row, col, span int) (int, int) {
	return max(1, min(row, grid.MaxRow)), max(1, min(col, grid.Cols-grid.NormalizeSpan(span)+1))
}

func cloneSpec(spec json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), spec...)
}
