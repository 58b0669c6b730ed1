// Package store provides durable storage for report layouts.
//
// Two implementations share one contract:
//   - Store: SQLite via mattn/go-sqlite3, for single-node deployments and
//     the CLI.
//   - Postgres: PostgreSQL via jackc/pgx, behind the DBPool interface so it
//     can be exercised with pgxmock.
//
// Load returns a grid.Meta rather than a grid.Report: stored rows may hold
// any of the historical item shapes, and migration happens on hydration.
// Save always writes the current shape together with the report fingerprint.
// A client with no row yields ErrNotFound.
//
// The SQLite file runs in WAL mode with a 5s busy timeout so that the CLI
// can edit a database a server has open.
package store
