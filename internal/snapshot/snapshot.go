// Package snapshot exports and imports every client's report as a single
// zstd-compressed file.
//
// A snapshot file is a zstd stream holding one JSON header line followed by
// the JSON body. The header can be read without decoding the body.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/roach88/reportgrid/internal/grid"
)

// Version is the snapshot format written by Write.
const Version = 1

var (
	// ErrUnsupportedVersion is returned by Read for snapshots written in a
	// format this build does not understand.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrMissingID is returned by Import for a report holding a card with
	// no id. Such a card could never be edited or removed.
	ErrMissingID = errors.New("card has no id")
)

// Header is the first line of a snapshot stream.
type Header struct {
	Version   int       `json:"version"`
	Reports   int       `json:"reports"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot holds every client's report, keyed by client id.
type Snapshot struct {
	Header  Header                 `json:"header"`
	Reports map[string]grid.Report `json:"reports"`
}

// New returns an empty snapshot stamped with the current version.
func New(createdAt time.Time) Snapshot {
	return Snapshot{
		Header:  Header{Version: Version, CreatedAt: createdAt.UTC()},
		Reports: map[string]grid.Report{},
	}
}

// Clients returns the snapshot's client ids, sorted.
func (s Snapshot) Clients() []string {
	ids := make([]string, 0, len(s.Reports))
	for id := range s.Reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Write encodes s to w. Reports are normalized before writing.
func Write(w io.Writer, s Snapshot) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	out := Snapshot{Header: s.Header, Reports: make(map[string]grid.Report, len(s.Reports))}
	if out.Header.Version == 0 {
		out.Header.Version = Version
	}
	for id, r := range s.Reports {
		out.Reports[id] = grid.NormalizeReport(r)
	}
	out.Header.Reports = len(out.Reports)

	bw := bufio.NewWriterSize(enc, 256*1024)
	hb, err := json.Marshal(out.Header)
	if err != nil {
		enc.Close()
		return fmt.Errorf("encode header: %w", err)
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		enc.Close()
		return err
	}
	if err := json.NewEncoder(bw).Encode(out.Reports); err != nil {
		enc.Close()
		return fmt.Errorf("encode reports: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Read decodes a snapshot written by Write. Cards without an id are given
// one from newID and keep their position.
func Read(r io.Reader, newID func() string) (Snapshot, error) {
	var snap Snapshot
	dec, err := zstd.NewReader(r)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &snap.Header); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Header.Version)
	}

	snap.Reports = map[string]grid.Report{}
	if err := json.NewDecoder(br).Decode(&snap.Reports); err != nil {
		return snap, fmt.Errorf("decode reports: %w", err)
	}
	for id, rep := range snap.Reports {
		for i := range rep.Items {
			if rep.Items[i].ID == "" {
				rep.Items[i].ID = newID()
			}
		}
		snap.Reports[id] = grid.NormalizeReport(rep)
	}
	return snap, nil
}

// WriteFile writes s to path, creating parent directories as needed.
func WriteFile(path string, s Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := Write(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile reads the snapshot stored at path.
func ReadFile(path string, newID func() string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()
	return Read(f, newID)
}

// Source is a store whose reports can be enumerated.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, clientID string) (grid.Meta, error)
}

// Sink receives imported reports.
type Sink interface {
	Save(ctx context.Context, clientID string, r grid.Report) error
}

// Export reads every report from src. Stored rows still in a legacy shape
// are migrated, with newID supplying ids for cards that lack one.
func Export(ctx context.Context, src Source, newID func() string, createdAt time.Time) (Snapshot, error) {
	ids, err := src.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("export: %w", err)
	}

	snap := New(createdAt)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		meta, err := src.Load(ctx, id)
		if err != nil {
			return Snapshot{}, fmt.Errorf("export %q: %w", id, err)
		}
		snap.Reports[id] = grid.Report{
			Title: grid.NormalizeTitle(meta.Title),
			Items: grid.Migrate(meta.Entries, newID),
		}
	}
	snap.Header.Reports = len(snap.Reports)
	return snap, nil
}

// Import saves every report in snap to dst in client id order. It stops at
// the first failure and returns the number of reports saved before it.
// Reports holding a card with no id fail with ErrMissingID.
func Import(ctx context.Context, dst Sink, snap Snapshot) (int, error) {
	saved := 0
	for _, id := range snap.Clients() {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		r := snap.Reports[id]
		if i := slices.IndexFunc(r.Items, func(it grid.Item) bool { return it.ID == "" }); i >= 0 {
			return saved, fmt.Errorf("import %q: items.%d: %w", id, i, ErrMissingID)
		}
		if err := dst.Save(ctx, id, grid.NormalizeReport(r)); err != nil {
			return saved, fmt.Errorf("import %q: %w", id, err)
		}
		saved++
	}
	return saved, nil
}
