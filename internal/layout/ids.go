package layout

import "github.com/google/uuid"

// IDGenerator supplies ids for new cards and for legacy cards that were
// stored without one. Implemented by UUIDv7Generator (production) and
// testutil.FixedIDGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 card ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids of cards
// added later sort after earlier ones. This is helpful when reading stored
// layouts by hand.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
