package persist_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/persist"
)

func TestLoader_NotFoundHydratesDefaults(t *testing.T) {
	f := newFixture(t, persist.Options{})
	f.load(t, "c1")

	r, ok := f.engine.Report("c1")
	require.True(t, ok)
	assert.Equal(t, grid.NewReport(), r)
	assert.True(t, f.scheduler.Hydrated("c1"))
	assert.Equal(t, 1, f.repo.Loads())
}

func TestLoader_ErrorKeepsClientUnhydrated(t *testing.T) {
	f := newFixture(t, persist.Options{})
	unavailable := errors.New("connection refused")
	f.repo.SetErrors(unavailable, nil)

	err := f.loader.Load(context.Background(), f.engine, "c1")
	require.ErrorIs(t, err, unavailable)

	r, ok := f.engine.Report("c1")
	require.True(t, ok, "an empty report is still available")
	assert.Equal(t, grid.NewReport(), r)
	assert.False(t, f.scheduler.Hydrated("c1"))

	// Edits stay in memory; the unreadable stored layout is not overwritten.
	f.repo.SetErrors(nil, nil)
	f.engine.AddItem("c1", spec("a"), 2)
	f.clock.Advance(time.Hour)
	assert.Empty(t, f.repo.Saves())
}

func TestLoader_ErrorKeepsExistingState(t *testing.T) {
	f := newFixture(t, persist.Options{})
	f.load(t, "c1")
	f.engine.SetTitle("c1", "Local")

	f.repo.SetErrors(errors.New("timeout"), nil)
	require.Error(t, f.loader.Load(context.Background(), f.engine, "c1"))

	r, _ := f.engine.Report("c1")
	assert.Equal(t, "Local", r.Title)
}

func TestLoader_UndecodableDocumentIsAnError(t *testing.T) {
	f := newFixture(t, persist.Options{})
	f.repo.Seed("c1", `{"title":`)

	err := f.loader.Load(context.Background(), f.engine, "c1")
	require.Error(t, err)
	assert.False(t, f.scheduler.Hydrated("c1"))
}

func TestLoader_EmptyClientID(t *testing.T) {
	f := newFixture(t, persist.Options{})
	require.NoError(t, f.loader.Load(context.Background(), f.engine, ""))
	assert.Zero(t, f.repo.Loads())
	assert.Empty(t, f.engine.Clients())
}
