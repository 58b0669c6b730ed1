package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/layout"
	"github.com/roach88/reportgrid/internal/persist"
	"github.com/roach88/reportgrid/internal/testutil"
)

// Harness runs one scenario against a fresh engine, repository and fake
// clock.
type Harness struct {
	engine    *layout.Engine
	repo      *testutil.RecordingRepository
	clock     *testutil.FakeClock
	scheduler *persist.Scheduler
	loader    *persist.Loader
	logger    *zap.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to the engine, loader and scheduler.
// Default: a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Seed the repository with the scenario's stored document
// 2. Load the scenario client through persist.Loader
// 3. Execute steps, checking expectations and invariants after each
// 4. Evaluate assertions against the final reports and saves
//
// The returned error is reserved for scenarios that cannot run at all;
// failed checks are reported in Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		repo:   testutil.NewRecordingRepository(),
		clock:  testutil.NewFakeClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	client := scenario.Client
	if client == "" {
		client = DefaultClient
	}

	h.engine = layout.New(
		layout.WithIDGenerator(newScriptedIDs(scenario.IDs)),
		layout.WithLogger(h.logger),
	)
	h.loader = persist.NewLoader(h.repo, h.logger)
	h.scheduler = persist.NewScheduler(h.repo, persist.Options{
		Clock:  h.clock,
		Logger: h.logger,
	})
	h.scheduler.Attach(h.engine)
	defer h.scheduler.Close()

	if scenario.Stored != "" {
		h.repo.Seed(client, scenario.Stored)
	}

	ctx := context.Background()
	if err := h.loader.Load(ctx, h.engine, client); err != nil {
		return nil, fmt.Errorf("failed to load client %s: %w", client, err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		stepClient := step.Client
		if stepClient == "" {
			stepClient = client
		}
		sr, err := h.execute(ctx, step, stepClient)
		if err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
		result.Steps = append(result.Steps, sr)

		if step.Expect != nil && step.Expect.Applied != nil {
			if want, got := *step.Expect.Applied, sr.Status == StatusApplied; want != got {
				result.AddError(fmt.Sprintf("steps[%d] (%s): expected applied=%t, got %s", i, step.Op, want, sr.Status))
			}
		}

		if r, ok := h.engine.Report(stepClient); ok {
			for _, problem := range CheckInvariants(r) {
				result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, step.Op, problem))
			}
		}
	}

	for _, id := range h.engine.Clients() {
		r, _ := h.engine.Report(id)
		result.Reports[id] = r
	}
	result.Saves = append(result.Saves, h.repo.Saves()...)

	for _, err := range EvaluateAssertions(result, scenario.Assertions, client) {
		result.AddError(err.Error())
	}

	return result, nil
}

// execute runs one step.
func (h *Harness) execute(ctx context.Context, step Step, client string) (StepResult, error) {
	sr := StepResult{Op: step.Op, Client: client, ID: step.ID}

	var (
		report  grid.Report
		applied bool
	)
	switch step.Op {
	case OpHydrate:
		meta, err := grid.DecodeMeta([]byte(step.Document))
		if err != nil {
			return sr, err
		}
		report, applied = h.engine.Hydrate(client, meta)

	case OpSetTitle:
		title := ""
		if step.Title != nil {
			title = *step.Title
		}
		report, applied = h.engine.SetTitle(client, title)

	case OpAdd, OpAddAt:
		spec, err := specJSON(step.Spec)
		if err != nil {
			return sr, err
		}
		if step.Op == OpAdd {
			report, applied = h.engine.AddItem(client, spec, step.Span)
		} else {
			report, applied = h.engine.AddItemAt(client, spec, step.Span, step.Row, step.Col)
		}
		if applied && len(report.Items) > 0 {
			sr.ID = report.Items[len(report.Items)-1].ID
		}

	case OpRemove:
		report, applied = h.engine.RemoveItem(client, step.ID)

	case OpReorder:
		report, applied = h.engine.ReorderItems(client, step.ID, step.To)

	case OpSetSpan:
		report, applied = h.engine.SetSpan(client, step.ID, step.Span)

	case OpSetSpec:
		spec, err := specJSON(step.Spec)
		if err != nil {
			return sr, err
		}
		report, applied = h.engine.SetSpec(client, step.ID, spec)

	case OpPlace:
		report, applied = h.engine.PlaceItem(client, step.ID, step.Row, step.Col)

	case OpAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return sr, err
		}
		h.clock.Advance(d)
		sr.Status = StatusDone
		return sr, nil

	case OpFlush:
		// Save failures are recorded by the repository; the scenario
		// checks them through the saves assertion.
		_ = h.scheduler.Flush(ctx)
		sr.Status = StatusDone
		return sr, nil

	default:
		return sr, fmt.Errorf("unknown op %q", step.Op)
	}

	h.logger.Debug("step",
		zap.String("op", step.Op),
		zap.String("client_id", client),
		zap.Bool("applied", applied),
		zap.Int("items", len(report.Items)),
	)
	sr.Status = StatusIgnored
	if applied {
		sr.Status = StatusApplied
	}
	return sr, nil
}

// specJSON converts a YAML payload to JSON. A missing payload stays nil so
// the engine can reject it.
func specJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("spec is not representable as JSON: %w", err)
	}
	return data, nil
}

// scriptedIDs hands out a fixed list of ids, then falls back to a
// sequence.
type scriptedIDs struct {
	mu       sync.Mutex
	ids      []string
	fallback *testutil.SequenceIDGenerator
}

func newScriptedIDs(ids []string) *scriptedIDs {
	return &scriptedIDs{
		ids:      append([]string(nil), ids...),
		fallback: testutil.NewSequenceIDGenerator(""),
	}
}

// Generate implements layout.IDGenerator.
func (s *scriptedIDs) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return s.fallback.Generate()
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id
}
