package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/roach88/reportgrid/internal/grid"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// DBPool abstracts pgxpool.Pool so the Postgres store can be tested with
// pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres stores report layouts in PostgreSQL, with items as JSONB.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// NewPostgres creates a Postgres store and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the report_layouts table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Load reads a client's stored report.
// Returns ErrNotFound if the client has none.
func (p *Postgres) Load(ctx context.Context, clientID string) (grid.Meta, error) {
	var (
		title string
		items []byte
	)
	err := p.pool.QueryRow(ctx, `
        SELECT title, items FROM report_layouts WHERE client_id = $1;
    `, clientID).Scan(&title, &items)
	if errors.Is(err, pgx.ErrNoRows) {
		return grid.Meta{}, ErrNotFound
	}
	if err != nil {
		return grid.Meta{}, fmt.Errorf("failed to load report: %w", err)
	}

	meta, err := decodeStored(clientID, title, items)
	if err != nil {
		return grid.Meta{}, fmt.Errorf("failed to load report: %w", err)
	}
	return meta, nil
}

// Save upserts a client's report.
func (p *Postgres) Save(ctx context.Context, clientID string, r grid.Report) error {
	title, items, fingerprint, err := encodeReport(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
        INSERT INTO report_layouts (client_id, title, items, fingerprint, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (client_id) DO UPDATE SET
            title = EXCLUDED.title,
            items = EXCLUDED.items,
            fingerprint = EXCLUDED.fingerprint,
            updated_at = EXCLUDED.updated_at;
    `, clientID, title, string(items), fingerprint, p.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	p.log.Debug("saved report", zap.String("client_id", clientID), zap.String("fingerprint", fingerprint))
	return nil
}

// List returns the ids of every client with a stored report, sorted.
func (p *Postgres) List(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
        SELECT client_id FROM report_layouts ORDER BY client_id ASC;
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return ids, nil
}

// Delete removes a client's stored report.
// Returns ErrNotFound if there was none.
func (p *Postgres) Delete(ctx context.Context, clientID string) error {
	tag, err := p.pool.Exec(ctx, `
        DELETE FROM report_layouts WHERE client_id = $1;
    `, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
