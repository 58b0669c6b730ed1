package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/roach88/reportgrid/internal/config"
	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/layout"
	"github.com/roach88/reportgrid/internal/persist"
	"github.com/roach88/reportgrid/internal/store"
)

// reportStore is what every store driver offers the commands.
type reportStore interface {
	Load(ctx context.Context, clientID string) (grid.Meta, error)
	Save(ctx context.Context, clientID string, r grid.Report) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, clientID string) error
	Close() error
}

// recordLister is implemented by stores that keep report metadata.
type recordLister interface {
	Records(ctx context.Context) ([]store.Record, error)
}

// openStore opens the configured store. Postgres schemas are created on
// first use.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (reportStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		return st, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create connection pool", err)
		}
		pg, err := store.NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, WrapExitError(ExitCommandError, "failed to connect to database", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, WrapExitError(ExitCommandError, "failed to prepare database", err)
		}
		return pg, nil

	default:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown store driver %q", cfg.Driver))
	}
}

// session is one command's view of the stored reports: an engine hydrated
// from the store and a scheduler that writes its changes back.
type session struct {
	store     reportStore
	engine    *layout.Engine
	loader    *persist.Loader
	scheduler *persist.Scheduler
	logger    *zap.Logger
}

// openSession opens the store and wires an engine to it.
func openSession(ctx context.Context, opts *RootOptions) (*session, error) {
	cfg, err := opts.Config()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger()

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	engine := layout.New(layout.WithLogger(logger))
	scheduler := persist.NewScheduler(st, persist.Options{
		Debounce:    cfg.Persist.Debounce,
		SaveTimeout: cfg.Persist.SaveTimeout,
		Logger:      logger,
	})
	scheduler.Attach(engine)

	return &session{
		store:     st,
		engine:    engine,
		loader:    persist.NewLoader(st, logger),
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

// load hydrates a client. A report that cannot be read is an error: the
// command must not edit and then overwrite it.
func (s *session) load(ctx context.Context, clientID string) (grid.Report, error) {
	if clientID == "" {
		return grid.Report{}, NewExitError(ExitCommandError, "client id is required")
	}
	if err := s.loader.Load(ctx, s.engine, clientID); err != nil {
		return grid.Report{}, WrapExitError(ExitCommandError, "failed to load report", err)
	}
	r, _ := s.engine.Report(clientID)
	return r, nil
}

// close saves pending changes and releases the store.
func (s *session) close(ctx context.Context) error {
	flushErr := s.scheduler.Flush(ctx)
	s.scheduler.Close()
	closeErr := s.store.Close()

	if err := errors.Join(flushErr, closeErr); err != nil {
		return WrapExitError(ExitCommandError, "failed to save report", err)
	}
	return nil
}
