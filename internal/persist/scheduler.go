package persist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/layout"
)

const (
	// DefaultDebounce is the quiet period before a client's report is saved.
	DefaultDebounce = 650 * time.Millisecond

	// DefaultSaveTimeout bounds a single Save call.
	DefaultSaveTimeout = 10 * time.Second
)

// Source is the part of layout.Engine the Scheduler reads from.
type Source interface {
	Report(clientID string) (grid.Report, bool)
	Subscribe(fn func(layout.Change)) (unsubscribe func())
}

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	Debounce    time.Duration
	SaveTimeout time.Duration
	Clock       Clock
	Logger      *zap.Logger
}

// Stats counts scheduler activity since creation.
type Stats struct {
	Scheduled int64 `json:"scheduled"`
	Saved     int64 `json:"saved"`
	Unchanged int64 `json:"unchanged"`
	Failed    int64 `json:"failed"`
}

type pendingSave struct {
	timer Timer
	gen   uint64
}

// Scheduler saves each hydrated client's report after it stops changing.
//
// Thread-safety: all methods are safe for concurrent use. Saves for the same
// client never overlap.
type Scheduler struct {
	repo   Repository
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	src         Source
	unsubscribe func()
	hydrated    map[string]bool
	pending     map[string]*pendingSave
	lastSaved   map[string]string
	clientLocks map[string]*sync.Mutex
	gen         uint64
	closed      bool

	wg sync.WaitGroup

	scheduled atomic.Int64
	saved     atomic.Int64
	unchanged atomic.Int64
	failed    atomic.Int64
}

// NewScheduler creates a Scheduler writing to repo. Call Attach to connect
// it to an engine.
func NewScheduler(repo Repository, opts Options) *Scheduler {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = DefaultSaveTimeout
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		repo:        repo,
		opts:        opts,
		logger:      opts.Logger.Named("persist"),
		hydrated:    make(map[string]bool),
		pending:     make(map[string]*pendingSave),
		lastSaved:   make(map[string]string),
		clientLocks: make(map[string]*sync.Mutex),
	}
}

// Attach subscribes the scheduler to src. A scheduler serves one source;
// attaching again replaces the previous subscription.
func (s *Scheduler) Attach(src Source) {
	s.mu.Lock()
	prev := s.unsubscribe
	s.src = src
	s.mu.Unlock()

	if prev != nil {
		prev()
	}
	unsubscribe := src.Subscribe(s.handle)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
}

// handle runs synchronously inside the engine's publish.
func (s *Scheduler) handle(c layout.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	switch c.Kind {
	case layout.ChangeHydrated:
		s.hydrated[c.ClientID] = true
		s.lastSaved[c.ClientID] = grid.Fingerprint(c.Report)
		s.cancelLocked(c.ClientID)

	case layout.ChangeMutated:
		if !s.hydrated[c.ClientID] {
			return
		}
		s.cancelLocked(c.ClientID)
		s.gen++
		gen := s.gen
		clientID := c.ClientID
		s.pending[clientID] = &pendingSave{
			gen:   gen,
			timer: s.opts.Clock.AfterFunc(s.opts.Debounce, func() { s.fire(clientID, gen) }),
		}
		s.scheduled.Add(1)
	}
}

func (s *Scheduler) cancelLocked(clientID string) {
	if p, ok := s.pending[clientID]; ok {
		p.timer.Stop()
		delete(s.pending, clientID)
	}
}

// fire is the debounce timer callback. A timer that has been superseded
// finds a different generation pending and does nothing.
func (s *Scheduler) fire(clientID string, gen uint64) {
	s.mu.Lock()
	p, ok := s.pending[clientID]
	if s.closed || !ok || p.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, clientID)
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	_ = s.save(context.Background(), clientID)
}

// save writes the client's current report unless it matches the last
// successful save.
func (s *Scheduler) save(ctx context.Context, clientID string) error {
	s.mu.Lock()
	src := s.src
	lock, ok := s.clientLocks[clientID]
	if !ok {
		lock = &sync.Mutex{}
		s.clientLocks[clientID] = lock
	}
	s.mu.Unlock()

	if src == nil {
		return nil
	}

	lock.Lock()
	defer lock.Unlock()

	r, ok := src.Report(clientID)
	if !ok {
		return nil
	}
	r = grid.NormalizeReport(r)
	fp := grid.Fingerprint(r)

	s.mu.Lock()
	last := s.lastSaved[clientID]
	s.mu.Unlock()
	if fp == last {
		s.unchanged.Add(1)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.SaveTimeout)
	defer cancel()

	if err := s.repo.Save(ctx, clientID, r); err != nil {
		s.failed.Add(1)
		s.logger.Warn("failed to save report",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return fmt.Errorf("save report %q: %w", clientID, err)
	}

	s.mu.Lock()
	s.lastSaved[clientID] = fp
	s.mu.Unlock()
	s.saved.Add(1)
	s.logger.Debug("saved report",
		zap.String("client_id", clientID),
		zap.Int("items", len(r.Items)),
	)
	return nil
}

// Flush saves every client with a pending save now instead of waiting for
// its timer. It returns the joined save errors.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	clients := make([]string, 0, len(s.pending))
	for id := range s.pending {
		clients = append(clients, id)
	}
	for _, id := range clients {
		s.cancelLocked(id)
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	sort.Strings(clients)
	var errs []error
	for _, id := range clients {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.save(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending returns the ids of clients waiting for their debounce timer,
// sorted.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for id := range s.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Hydrated reports whether the client's saves are enabled.
func (s *Scheduler) Hydrated(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrated[clientID]
}

// Stats returns a snapshot of the activity counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Scheduled: s.scheduled.Load(),
		Saved:     s.saved.Load(),
		Unchanged: s.unchanged.Load(),
		Failed:    s.failed.Load(),
	}
}

// Close cancels pending saves, detaches from the source and waits for saves
// already in progress. Pending changes are dropped; call Flush first to keep
// them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id := range s.pending {
		s.cancelLocked(id)
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()
}
