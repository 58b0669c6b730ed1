package snapshot_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/snapshot"
	"github.com/roach88/reportgrid/internal/testutil"
)

var created = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

func sample() snapshot.Snapshot {
	s := snapshot.New(created)
	s.Reports["acme"] = grid.Report{
		Title: "Acme Q1",
		Items: []grid.Item{
			{ID: "a", Spec: json.RawMessage(`{"type":"kpi"}`), Span: 2, Row: 1, Col: 1},
			{ID: "b", Spec: json.RawMessage(`{"type":"trend"}`), Span: 2, Row: 1, Col: 3},
		},
	}
	s.Reports["globex"] = grid.NewReport()
	return s
}

// noIDs fails the test if Read needs to synthesize an id.
func noIDs(t *testing.T) func() string {
	return func() string {
		t.Error("unexpected id request")
		return "unexpected"
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, snapshot.Write(&buf, sample()))

	got, err := snapshot.Read(&buf, noIDs(t))
	require.NoError(t, err)

	assert.Equal(t, snapshot.Version, got.Header.Version)
	assert.Equal(t, 2, got.Header.Reports)
	assert.True(t, created.Equal(got.Header.CreatedAt))
	assert.Equal(t, []string{"acme", "globex"}, got.Clients())
	assert.Equal(t, sample().Reports["acme"], got.Reports["acme"])
	assert.Equal(t, "Report", got.Reports["globex"].Title)
	assert.Empty(t, got.Reports["globex"].Items)
}

func TestWrite_IsCompressedWithReadableHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, snapshot.Write(&buf, sample()))
	assert.NotContains(t, buf.String(), "Acme Q1")

	dec, err := zstd.NewReader(&buf)
	require.NoError(t, err)
	defer dec.Close()

	var raw bytes.Buffer
	_, err = raw.ReadFrom(dec)
	require.NoError(t, err)

	first, _, ok := bytes.Cut(raw.Bytes(), []byte("\n"))
	require.True(t, ok)
	var h snapshot.Header
	require.NoError(t, json.Unmarshal(first, &h))
	assert.Equal(t, 2, h.Reports)
}

func TestWrite_NormalizesReports(t *testing.T) {
	s := snapshot.New(created)
	s.Reports["c1"] = grid.Report{Title: "  ", Items: []grid.Item{
		{ID: "x", Spec: json.RawMessage(`{}`), Span: 9, Row: 1, Col: 1},
		{ID: "y", Spec: json.RawMessage(`{}`), Span: 2, Row: 1, Col: 1},
	}}

	var buf bytes.Buffer
	require.NoError(t, snapshot.Write(&buf, s))
	got, err := snapshot.Read(&buf, noIDs(t))
	require.NoError(t, err)

	r := got.Reports["c1"]
	assert.Equal(t, grid.DefaultTitle, r.Title)
	require.Len(t, r.Items, 2)
	assert.Equal(t, 4, r.Items[0].Span)
	assert.Equal(t, 2, r.Items[1].Row)
	_, _, overlap := grid.Overlaps(r.Items)
	assert.False(t, overlap)
}

func TestRead_FillsMissingIDs(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write([]byte(`{"version":1,"reports":1}` + "\n" +
		`{"c1":{"title":"T","items":[{"spec":{"k":1},"span":2,"row":1,"col":3},{"id":"b","spec":{"k":2},"span":2,"row":1,"col":1}]}}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	got, err := snapshot.Read(&buf, testutil.NewSequenceIDGenerator("").Generate)
	require.NoError(t, err)

	r := got.Reports["c1"]
	require.Len(t, r.Items, 2)
	assert.Equal(t, "card-1", r.Items[0].ID)
	assert.Equal(t, 3, r.Items[0].Col, "position kept")
	assert.Equal(t, "b", r.Items[1].ID)
}

func TestRead_RejectsUnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write([]byte("{\"version\":99}\n{}\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	_, err = snapshot.Read(&buf, noIDs(t))
	assert.ErrorIs(t, err, snapshot.ErrUnsupportedVersion)
}

func TestRead_RejectsGarbage(t *testing.T) {
	_, err := snapshot.Read(bytes.NewReader([]byte("not a zstd stream")), noIDs(t))
	assert.Error(t, err)
}

func TestWriteFileReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reports.snap.zst")
	require.NoError(t, snapshot.WriteFile(path, sample()))

	got, err := snapshot.ReadFile(path, noIDs(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, got.Clients())

	_, err = snapshot.ReadFile(filepath.Join(t.TempDir(), "missing"), noIDs(t))
	assert.Error(t, err)
}

func TestExport_MigratesLegacyRows(t *testing.T) {
	repo := testutil.NewRecordingRepository()
	repo.Seed("old", `[{"type":"kpi"},{"type":"trend"}]`)
	repo.Seed("new", `{"title":"Current","items":[{"id":"k","spec":{"t":1},"span":4,"row":1,"col":1}]}`)

	snap, err := snapshot.Export(context.Background(), repo, testutil.NewSequenceIDGenerator("").Generate, created)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Header.Reports)
	assert.Equal(t, []string{"new", "old"}, snap.Clients())

	old := snap.Reports["old"]
	assert.Equal(t, grid.DefaultTitle, old.Title)
	require.Len(t, old.Items, 2)
	assert.Equal(t, "card-1", old.Items[0].ID)
	assert.Equal(t, 1, old.Items[0].Col)
	assert.Equal(t, 3, old.Items[1].Col)

	assert.Equal(t, "Current", snap.Reports["new"].Title)
	assert.Equal(t, "k", snap.Reports["new"].Items[0].ID)
}

func TestExport_PropagatesErrors(t *testing.T) {
	repo := testutil.NewRecordingRepository()
	repo.Seed("c1", `{}`)
	boom := errors.New("disk on fire")
	repo.SetErrors(boom, nil)

	_, err := snapshot.Export(context.Background(), repo, testutil.NewSequenceIDGenerator("").Generate, created)
	assert.ErrorIs(t, err, boom)
}

func TestImport_SavesInClientOrder(t *testing.T) {
	repo := testutil.NewRecordingRepository()

	n, err := snapshot.Import(context.Background(), repo, sample())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	saves := repo.Saves()
	require.Len(t, saves, 2)
	assert.Equal(t, "acme", saves[0].ClientID)
	assert.Equal(t, "globex", saves[1].ClientID)

	stored, err := repo.Stored("acme")
	require.NoError(t, err)
	assert.Equal(t, sample().Reports["acme"], stored)
}

func TestImport_StopsAtFirstFailure(t *testing.T) {
	repo := testutil.NewRecordingRepository()
	boom := errors.New("read-only")
	repo.SetErrors(nil, boom)

	n, err := snapshot.Import(context.Background(), repo, sample())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)
}

func TestImport_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := snapshot.Import(ctx, testutil.NewRecordingRepository(), sample())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestImport_RejectsCardWithoutID(t *testing.T) {
	s := sample()
	s.Reports["acme"].Items[1].ID = ""
	repo := testutil.NewRecordingRepository()

	n, err := snapshot.Import(context.Background(), repo, s)
	assert.ErrorIs(t, err, snapshot.ErrMissingID)
	assert.Contains(t, err.Error(), `import "acme": items.1`)
	assert.Zero(t, n)
	assert.Empty(t, repo.Saves())
}
