package persist

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/store"
)

// Repository is the persistence collaborator. Implemented by store.Store
// (SQLite) and store.Postgres.
//
// Load returns store.ErrNotFound when the client has no stored report.
// Save always receives a report in the current shape.
type Repository interface {
	Load(ctx context.Context, clientID string) (grid.Meta, error)
	Save(ctx context.Context, clientID string, r grid.Report) error
}

// Hydrator is the part of layout.Engine the Loader drives.
type Hydrator interface {
	Hydrate(clientID string, meta grid.Meta) (grid.Report, bool)
	EnsureReport(clientID string) (grid.Report, bool)
}

// Loader hydrates clients from a Repository.
type Loader struct {
	repo   Repository
	logger *zap.Logger
}

// NewLoader creates a Loader. A nil logger disables logging.
func NewLoader(repo Repository, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{repo: repo, logger: logger.Named("loader")}
}

// Load reads the client's stored report and hydrates it.
//
// A client with nothing stored is hydrated with an empty report. Any other
// read error leaves the client with an empty, unhydrated report, so later
// mutations stay in memory instead of overwriting what could not be read;
// the error is returned for the caller to report.
func (l *Loader) Load(ctx context.Context, h Hydrator, clientID string) error {
	if clientID == "" {
		return nil
	}

	meta, err := l.repo.Load(ctx, clientID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		l.logger.Debug("no stored report; using defaults", zap.String("client_id", clientID))
		h.Hydrate(clientID, grid.Meta{})
		return nil
	case err != nil:
		l.logger.Warn("failed to load report; persistence disabled for client",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		h.EnsureReport(clientID)
		return fmt.Errorf("load report %q: %w", clientID, err)
	}

	h.Hydrate(clientID, meta)
	return nil
}
