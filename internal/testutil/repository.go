package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/store"
)

// SaveCall records one Save received by a RecordingRepository.
type SaveCall struct {
	ClientID string
	Report   grid.Report
}

// RecordingRepository is an in-memory persist.Repository that records every
// save. Documents are kept as raw JSON so tests can seed legacy shapes.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingRepository struct {
	mu    sync.Mutex
	docs  map[string][]byte
	saves []SaveCall
	loads int

	// LoadErr and SaveErr, when set, are returned by every Load or Save.
	LoadErr error
	SaveErr error
}

// NewRecordingRepository creates an empty repository.
func NewRecordingRepository() *RecordingRepository {
	return &RecordingRepository{docs: make(map[string][]byte)}
}

// Seed stores a raw document for a client, in any shape DecodeMeta accepts.
func (r *RecordingRepository) Seed(clientID string, doc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[clientID] = []byte(doc)
}

// SetErrors replaces LoadErr and SaveErr under the mutex.
func (r *RecordingRepository) SetErrors(loadErr, saveErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LoadErr = loadErr
	r.SaveErr = saveErr
}

// Load implements persist.Repository.
func (r *RecordingRepository) Load(ctx context.Context, clientID string) (grid.Meta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++

	if err := ctx.Err(); err != nil {
		return grid.Meta{}, err
	}
	if r.LoadErr != nil {
		return grid.Meta{}, r.LoadErr
	}
	doc, ok := r.docs[clientID]
	if !ok {
		return grid.Meta{}, store.ErrNotFound
	}
	meta, err := grid.DecodeMeta(doc)
	if err != nil {
		return grid.Meta{}, fmt.Errorf("load %q: %w", clientID, err)
	}
	return meta, nil
}

// Save implements persist.Repository.
func (r *RecordingRepository) Save(ctx context.Context, clientID string, report grid.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if r.SaveErr != nil {
		return r.SaveErr
	}
	data, err := grid.MarshalReport(report)
	if err != nil {
		return fmt.Errorf("save %q: %w", clientID, err)
	}
	r.docs[clientID] = data
	r.saves = append(r.saves, SaveCall{ClientID: clientID, Report: report.Clone()})
	return nil
}

// List returns the ids of every stored document, sorted.
func (r *RecordingRepository) List(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.LoadErr != nil {
		return nil, r.LoadErr
	}
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Saves returns a copy of every recorded save, in order.
func (r *RecordingRepository) Saves() []SaveCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SaveCall, len(r.saves))
	copy(out, r.saves)
	return out
}

// Loads returns how many times Load was called.
func (r *RecordingRepository) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

// Stored returns the current document for a client, decoded as a report.
func (r *RecordingRepository) Stored(clientID string) (grid.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[clientID]
	if !ok {
		return grid.Report{}, store.ErrNotFound
	}
	var report grid.Report
	if err := json.Unmarshal(doc, &report); err != nil {
		return grid.Report{}, fmt.Errorf("decode %q: %w", clientID, err)
	}
	return report, nil
}
