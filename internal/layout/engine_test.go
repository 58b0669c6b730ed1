package layout_test

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/layout"
	"github.com/roach88/reportgrid/internal/testutil"
)

func spec(name string) json.RawMessage {
	return json.RawMessage(`{"card":"` + name + `"}`)
}

type cell struct{ Span, Row, Col int }

func placement(t *testing.T, r grid.Report, id string) cell {
	t.Helper()
	idx := r.Find(id)
	require.GreaterOrEqual(t, idx, 0, "item %s not found", id)
	it := r.Items[idx]
	return cell{it.Span, it.Row, it.Col}
}

func order(r grid.Report) []string {
	out := make([]string, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.ID
	}
	return out
}

func requireStable(t *testing.T, r grid.Report) {
	t.Helper()
	for _, it := range r.Items {
		require.True(t, grid.Valid(it), "item %s has invalid placement %+v", it.ID, it)
	}
	a, b, overlap := grid.Overlaps(r.Items)
	require.False(t, overlap, "items %s and %s overlap", a, b)
}

// scenarioOne builds A(1,1) B(1,3) C(2,1, span 4) for client c1.
func scenarioOne(t *testing.T, extraIDs ...string) *layout.Engine {
	t.Helper()
	ids := append([]string{"A", "B", "C"}, extraIDs...)
	e := layout.New(layout.WithIDGenerator(testutil.NewFixedIDGenerator(ids...)))

	r, ok := e.AddItem("c1", spec("a"), 2)
	require.True(t, ok)
	assert.Equal(t, cell{2, 1, 1}, placement(t, r, "A"))

	r, ok = e.AddItem("c1", spec("b"), 2)
	require.True(t, ok)
	assert.Equal(t, cell{2, 1, 3}, placement(t, r, "B"))

	r, ok = e.AddItem("c1", spec("c"), 4)
	require.True(t, ok)
	assert.Equal(t, cell{4, 2, 1}, placement(t, r, "C"))
	return e
}

func TestEngine_AddItemFillsFirstOpenSlot(t *testing.T) {
	e := scenarioOne(t)
	r, ok := e.Report("c1")
	require.True(t, ok)
	assert.Equal(t, grid.DefaultTitle, r.Title)
	assert.Equal(t, []string{"A", "B", "C"}, order(r))
	requireStable(t, r)
}

func TestEngine_AddItemLeavesOthersInPlace(t *testing.T) {
	e := layout.New(layout.WithIDGenerator(testutil.NewFixedIDGenerator("far", "new")))
	_, ok := e.AddItemAt("c1", spec("far"), 1, 3, 4)
	require.True(t, ok)

	// The new card takes the top-left; the far card does not move up.
	r, ok := e.AddItem("c1", spec("new"), 4)
	require.True(t, ok)
	assert.Equal(t, cell{1, 3, 4}, placement(t, r, "far"))
	assert.Equal(t, cell{4, 1, 1}, placement(t, r, "new"))
}

func TestEngine_SetSpanRelocatesNeighbours(t *testing.T) {
	e := scenarioOne(t)

	r, ok := e.SetSpan("c1", "A", 4)
	require.True(t, ok)

	// A is locked and keeps (1,1); B collides and drops to the next row
	// with room near its old column; C is pushed below both.
	assert.Equal(t, cell{4, 1, 1}, placement(t, r, "A"))
	assert.Equal(t, cell{2, 2, 3}, placement(t, r, "B"))
	assert.Equal(t, cell{4, 3, 1}, placement(t, r, "C"))
	assert.Equal(t, []string{"A", "B", "C"}, order(r))
	requireStable(t, r)
}

func TestEngine_SetSpanKeepsPositionWhenItFits(t *testing.T) {
	e := scenarioOne(t)
	r, ok := e.SetSpan("c1", "B", 1)
	require.True(t, ok)
	assert.Equal(t, cell{1, 1, 3}, placement(t, r, "B"))
	assert.Equal(t, cell{2, 1, 1}, placement(t, r, "A"))
}

func TestEngine_RemoveItemLeavesGap(t *testing.T) {
	e := scenarioOne(t, "D")
	_, ok := e.AddItem("c1", spec("d"), 2)
	require.True(t, ok)

	r, ok := e.RemoveItem("c1", "B")
	require.True(t, ok)

	assert.Equal(t, []string{"A", "C", "D"}, order(r))
	assert.Equal(t, cell{2, 1, 1}, placement(t, r, "A"))
	assert.Equal(t, cell{4, 2, 1}, placement(t, r, "C"))
	assert.Equal(t, cell{2, 3, 1}, placement(t, r, "D"))
}

func TestEngine_PlaceItemDisplacesOccupant(t *testing.T) {
	e := scenarioOne(t, "D")
	r, ok := e.AddItemAt("c1", spec("d"), 2, 5, 1)
	require.True(t, ok)
	assert.Equal(t, cell{2, 5, 1}, placement(t, r, "D"))

	r, ok = e.PlaceItem("c1", "B", 5, 1)
	require.True(t, ok)

	assert.Equal(t, cell{2, 5, 1}, placement(t, r, "B"))
	assert.Equal(t, cell{2, 5, 3}, placement(t, r, "D"), "D searches from its own row and column")
	assert.Equal(t, cell{2, 1, 1}, placement(t, r, "A"))
	assert.Equal(t, cell{4, 2, 1}, placement(t, r, "C"))
	requireStable(t, r)
}

func TestEngine_PlaceItemClampsRequest(t *testing.T) {
	e := scenarioOne(t)

	r, ok := e.PlaceItem("c1", "B", -3, 9)
	require.True(t, ok)
	assert.Equal(t, cell{2, 1, 3}, placement(t, r, "B"), "clamped to row 1, col 3")

	r, ok = e.PlaceItem("c1", "C", 0, 0)
	require.True(t, ok)
	assert.Equal(t, cell{4, 1, 1}, placement(t, r, "C"))
	requireStable(t, r)
}

func TestEngine_HugeRowRequestsAreCapped(t *testing.T) {
	e := scenarioOne(t, "N")

	r, ok := e.PlaceItem("c1", "B", math.MaxInt-10, 1)
	require.True(t, ok)
	assert.Equal(t, cell{2, grid.MaxRow, 1}, placement(t, r, "B"))

	r, ok = e.AddItemAt("c1", spec("n"), 2, math.MaxInt, 1)
	require.True(t, ok)
	assert.Equal(t, cell{2, grid.MaxRow, 1}, placement(t, r, "N"))
	assert.Equal(t, cell{2, grid.MaxRow, 3}, placement(t, r, "B"))
	requireStable(t, r)
}

func TestEngine_AddItemAtTakesPriority(t *testing.T) {
	e := scenarioOne(t, "N")

	r, ok := e.AddItemAt("c1", spec("n"), 2, 1, 2)
	require.True(t, ok)

	assert.Equal(t, cell{2, 1, 2}, placement(t, r, "N"))
	assert.Equal(t, []string{"A", "B", "C", "N"}, order(r))
	requireStable(t, r)
}

func TestEngine_ReorderChangesListOrderOnly(t *testing.T) {
	e := scenarioOne(t)
	before, _ := e.Report("c1")

	r, ok := e.ReorderItems("c1", "C", "A")
	require.True(t, ok)
	assert.Equal(t, []string{"C", "A", "B"}, order(r))
	for _, id := range []string{"A", "B", "C"} {
		assert.Equal(t, placement(t, before, id), placement(t, r, id))
	}

	r, ok = e.ReorderItems("c1", "C", "B")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B", "C"}, order(r))
}

func TestEngine_ReorderNoOps(t *testing.T) {
	e := scenarioOne(t)

	for _, tc := range []struct{ from, to string }{
		{"A", "A"},
		{"", "A"},
		{"A", ""},
		{"A", "missing"},
		{"missing", "A"},
	} {
		r, ok := e.ReorderItems("c1", tc.from, tc.to)
		assert.False(t, ok, "reorder %q -> %q", tc.from, tc.to)
		assert.Equal(t, []string{"A", "B", "C"}, order(r))
	}
}

func TestEngine_SetSpecReplacesPayloadOnly(t *testing.T) {
	e := scenarioOne(t)

	r, ok := e.SetSpec("c1", "B", json.RawMessage(`{"chart":"line"}`))
	require.True(t, ok)
	idx := r.Find("B")
	assert.JSONEq(t, `{"chart":"line"}`, string(r.Items[idx].Spec))
	assert.Equal(t, cell{2, 1, 3}, placement(t, r, "B"))
}

func TestEngine_SetTitle(t *testing.T) {
	e := layout.New()

	r, ok := e.SetTitle("c1", "Quarterly review")
	require.True(t, ok)
	assert.Equal(t, "Quarterly review", r.Title)
	assert.Empty(t, r.Items)

	r, _ = e.SetTitle("c1", "  ")
	assert.Equal(t, grid.DefaultTitle, r.Title)

	long := ""
	for i := 0; i < 80; i++ {
		long += "x"
	}
	r, _ = e.SetTitle("c1", long)
	assert.Len(t, r.Title, grid.MaxTitleLen)
}

func TestEngine_EnsureReport(t *testing.T) {
	e := layout.New()

	r, ok := e.EnsureReport("c1")
	assert.True(t, ok)
	assert.Equal(t, grid.NewReport(), r)

	_, _ = e.SetTitle("c1", "Kept")
	r, ok = e.EnsureReport("c1")
	assert.False(t, ok, "existing report is left alone")
	assert.Equal(t, "Kept", r.Title)
}

func TestEngine_MalformedCallsAreIgnored(t *testing.T) {
	e := scenarioOne(t)
	before, _ := e.Report("c1")

	published := 0
	e.Subscribe(func(layout.Change) { published++ })

	calls := map[string]func() (grid.Report, bool){
		"add without client":   func() (grid.Report, bool) { return e.AddItem("", spec("x"), 2) },
		"add without spec":     func() (grid.Report, bool) { return e.AddItem("c1", nil, 2) },
		"add null spec":        func() (grid.Report, bool) { return e.AddItem("c1", json.RawMessage("null"), 2) },
		"add-at without spec":  func() (grid.Report, bool) { return e.AddItemAt("c1", nil, 2, 1, 1) },
		"remove without id":    func() (grid.Report, bool) { return e.RemoveItem("c1", "") },
		"remove unknown id":    func() (grid.Report, bool) { return e.RemoveItem("c1", "zz") },
		"span unknown id":      func() (grid.Report, bool) { return e.SetSpan("c1", "zz", 3) },
		"span without id":      func() (grid.Report, bool) { return e.SetSpan("c1", "", 3) },
		"spec without payload": func() (grid.Report, bool) { return e.SetSpec("c1", "A", nil) },
		"spec unknown id":      func() (grid.Report, bool) { return e.SetSpec("c1", "zz", spec("x")) },
		"place unknown id":     func() (grid.Report, bool) { return e.PlaceItem("c1", "zz", 1, 1) },
		"title without client": func() (grid.Report, bool) { return e.SetTitle("", "x") },
		"hydrate no client":    func() (grid.Report, bool) { return e.Hydrate("", grid.Meta{}) },
		"ensure no client":     func() (grid.Report, bool) { return e.EnsureReport("") },
	}
	for name, call := range calls {
		_, ok := call()
		assert.False(t, ok, name)
	}

	after, _ := e.Report("c1")
	assert.Equal(t, before, after)
	assert.Equal(t, 0, published)
	assert.Equal(t, []string{"c1"}, e.Clients())
}

func TestEngine_UnknownClientNoOpsCreateNothing(t *testing.T) {
	e := layout.New()
	_, ok := e.RemoveItem("ghost", "x")
	assert.False(t, ok)
	_, exists := e.Report("ghost")
	assert.False(t, exists)
}

func TestEngine_SpanIsNormalized(t *testing.T) {
	e := layout.New(layout.WithIDGenerator(testutil.NewFixedIDGenerator("a", "b")))
	r, _ := e.AddItem("c1", spec("a"), 9)
	assert.Equal(t, cell{4, 1, 1}, placement(t, r, "a"))

	r, _ = e.AddItem("c1", spec("b"), 0)
	assert.Equal(t, cell{1, 2, 1}, placement(t, r, "b"))
}

func TestEngine_HydrateMigratesLegacyList(t *testing.T) {
	e := layout.New(layout.WithIDGenerator(testutil.NewFixedIDGenerator("x1", "y1")))

	meta, err := grid.DecodeMeta([]byte(`[{"type":"x"},{"type":"y"}]`))
	require.NoError(t, err)

	var changes []layout.Change
	e.Subscribe(func(c layout.Change) { changes = append(changes, c) })

	r, ok := e.Hydrate("c1", meta)
	require.True(t, ok)
	assert.Equal(t, grid.DefaultTitle, r.Title)
	assert.Equal(t, cell{2, 1, 1}, placement(t, r, "x1"))
	assert.Equal(t, cell{2, 1, 3}, placement(t, r, "y1"))

	require.Len(t, changes, 1)
	assert.Equal(t, layout.ChangeHydrated, changes[0].Kind)
	assert.Equal(t, r, changes[0].Report)
}

func TestEngine_HydrateReplacesExisting(t *testing.T) {
	e := scenarioOne(t)
	r, ok := e.Hydrate("c1", grid.Meta{Title: "Fresh"})
	require.True(t, ok)
	assert.Equal(t, "Fresh", r.Title)
	assert.Empty(t, r.Items)
}

func TestEngine_SubscribersSeeEveryChangeInOrder(t *testing.T) {
	e := layout.New(layout.WithIDGenerator(testutil.NewSequenceIDGenerator("")))

	var first, second []string
	e.Subscribe(func(c layout.Change) {
		first = append(first, fmt.Sprintf("%s:%s:%d", c.ClientID, c.Kind, len(c.Report.Items)))
	})
	unsubscribe := e.Subscribe(func(c layout.Change) {
		second = append(second, c.ClientID)
		// Reads from inside a subscriber observe the new state.
		r, ok := e.Report(c.ClientID)
		require.True(t, ok)
		assert.Equal(t, c.Report, r)
	})

	e.AddItem("c1", spec("a"), 2)
	e.AddItem("c2", spec("b"), 2)
	e.SetTitle("c1", "T")
	unsubscribe()
	unsubscribe()
	e.AddItem("c1", spec("c"), 2)

	assert.Equal(t, []string{"c1:mutated:1", "c2:mutated:1", "c1:mutated:1", "c1:mutated:2"}, first)
	assert.Equal(t, []string{"c1", "c2", "c1"}, second)
}

func TestEngine_ChangeReportIsACopy(t *testing.T) {
	e := layout.New(layout.WithIDGenerator(testutil.NewSequenceIDGenerator("")))
	e.Subscribe(func(c layout.Change) {
		c.Report.Items[0].Row = 99
	})
	r, _ := e.AddItem("c1", spec("a"), 2)
	assert.Equal(t, 1, r.Items[0].Row)

	stored, _ := e.Report("c1")
	assert.Equal(t, 1, stored.Items[0].Row)
}

func TestEngine_MutationRepairsHydratedState(t *testing.T) {
	e := layout.New(layout.WithIDGenerator(testutil.NewSequenceIDGenerator("")))

	// Two stored cards claim the same cell.
	meta := grid.Meta{Entries: []grid.Entry{
		grid.FullPlacement{ID: "a", Spec: spec("a"), Span: grid.N(2), Row: grid.N(1), Col: grid.N(1)},
		grid.FullPlacement{ID: "b", Spec: spec("b"), Span: grid.N(2), Row: grid.N(1), Col: grid.N(1)},
	}}
	r, _ := e.Hydrate("c1", meta)
	requireStable(t, r)
	assert.Equal(t, cell{2, 1, 3}, placement(t, r, "b"))
}

func TestEngine_ExhaustedSearchIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	e := layout.New(
		layout.WithLogger(zap.New(core)),
		layout.WithIDGenerator(testutil.NewSequenceIDGenerator("")),
	)

	// A column of single-width cards down the left edge blocks every
	// full-width placement within the search window.
	entries := make([]grid.Entry, 0, grid.MaxSearchRows)
	for row := 1; row <= grid.MaxSearchRows; row++ {
		entries = append(entries, grid.FullPlacement{
			ID: fmt.Sprintf("b%d", row), Spec: spec("b"),
			Span: grid.N(1), Row: grid.N(float64(row)), Col: grid.N(1),
		})
	}
	_, ok := e.Hydrate("c1", grid.Meta{Entries: entries})
	require.True(t, ok)
	assert.Zero(t, logs.Len())

	_, ok = e.AddItem("c1", spec("wide"), 4)
	require.True(t, ok)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "layout", entry.LoggerName)
	assert.Equal(t, "add", entry.ContextMap()["op"])
}

func TestEngine_RandomMutationsStayStable(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 1))
	e := layout.New(layout.WithIDGenerator(testutil.NewSequenceIDGenerator("")))

	var live []string
	pick := func() string {
		if len(live) == 0 {
			return "none"
		}
		return live[r.IntN(len(live))]
	}

	for step := 0; step < 500; step++ {
		var report grid.Report
		switch r.IntN(7) {
		case 0:
			report, _ = e.AddItem("c1", spec("s"), 1+r.IntN(4))
		case 1:
			report, _ = e.AddItemAt("c1", spec("s"), 1+r.IntN(4), r.IntN(8), r.IntN(6))
		case 2:
			report, _ = e.RemoveItem("c1", pick())
		case 3:
			report, _ = e.SetSpan("c1", pick(), r.IntN(6))
		case 4:
			report, _ = e.PlaceItem("c1", pick(), r.IntN(10), r.IntN(6))
		case 5:
			before, _ := e.Report("c1")
			report, _ = e.ReorderItems("c1", pick(), pick())
			for _, it := range before.Items {
				assert.Equal(t, placement(t, before, it.ID), placement(t, report, it.ID))
			}
		case 6:
			report, _ = e.SetSpec("c1", pick(), spec(fmt.Sprint(step)))
		}
		requireStable(t, report)
		live = order(report)
	}
}

func TestEngine_ConcurrentClients(t *testing.T) {
	e := layout.New(layout.WithIDGenerator(testutil.NewSequenceIDGenerator("")))

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func(client string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				e.AddItem(client, spec("s"), 1+i%4)
				_, _ = e.Report(client)
			}
		}(fmt.Sprintf("client-%d", c))
	}
	wg.Wait()

	require.Len(t, e.Clients(), 8)
	for _, id := range e.Clients() {
		r, _ := e.Report(id)
		assert.Len(t, r.Items, 50)
		requireStable(t, r)
	}
}
