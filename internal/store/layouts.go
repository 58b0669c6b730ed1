package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/reportgrid/internal/grid"
)

// Record describes one stored report without decoding its items.
type Record struct {
	ClientID    string    `json:"client_id"`
	Title       string    `json:"title"`
	Fingerprint string    `json:"fingerprint"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// decodeStored turns a stored row into a Meta. Items that are not valid
// JSON are an error so that the row is never overwritten with defaults.
func decodeStored(clientID, title string, items []byte) (grid.Meta, error) {
	if len(items) == 0 {
		return grid.Meta{Title: title}, nil
	}
	if !json.Valid(items) {
		return grid.Meta{}, fmt.Errorf("stored items for %q are not valid JSON", clientID)
	}
	return grid.Meta{Title: title, Entries: grid.DecodeEntries(items)}, nil
}

// encodeReport returns the values written for a report: normalized title,
// current-shape items JSON and fingerprint.
func encodeReport(r grid.Report) (string, []byte, string, error) {
	r = grid.NormalizeReport(r)
	items, err := grid.MarshalItems(r.Items)
	if err != nil {
		return "", nil, "", err
	}
	return r.Title, items, grid.Fingerprint(r), nil
}

// Load reads a client's stored report.
// Returns ErrNotFound if the client has none.
func (s *Store) Load(ctx context.Context, clientID string) (grid.Meta, error) {
	var (
		title string
		items []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT title, items FROM report_layouts WHERE client_id = ?
	`, clientID).Scan(&title, &items)
	if errors.Is(err, sql.ErrNoRows) {
		return grid.Meta{}, ErrNotFound
	}
	if err != nil {
		return grid.Meta{}, fmt.Errorf("load report: %w", err)
	}

	meta, err := decodeStored(clientID, title, items)
	if err != nil {
		return grid.Meta{}, fmt.Errorf("load report: %w", err)
	}
	return meta, nil
}

// Save writes a client's report, replacing any stored one.
func (s *Store) Save(ctx context.Context, clientID string, r grid.Report) error {
	title, items, fingerprint, err := encodeReport(r)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO report_layouts (client_id, title, items, fingerprint, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			title = excluded.title,
			items = excluded.items,
			fingerprint = excluded.fingerprint,
			updated_at = excluded.updated_at
	`,
		clientID,
		title,
		string(items),
		fingerprint,
		s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// List returns the ids of every client with a stored report, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id FROM report_layouts ORDER BY client_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list reports: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return ids, nil
}

// Records returns metadata for every stored report, most recently updated
// first.
func (s *Store) Records(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, title, fingerprint, updated_at
		FROM report_layouts
		ORDER BY updated_at DESC, client_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec     Record
			updated int64
		)
		if err := rows.Scan(&rec.ClientID, &rec.Title, &rec.Fingerprint, &updated); err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		rec.UpdatedAt = time.UnixMilli(updated).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// Delete removes a client's stored report.
// Returns ErrNotFound if there was none.
func (s *Store) Delete(ctx context.Context, clientID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM report_layouts WHERE client_id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
