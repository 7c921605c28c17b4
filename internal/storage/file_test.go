package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"berealbot/internal/transport"
	"berealbot/pkg/logx"
)

func openTempFileStore(t *testing.T) (SnapshotStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	store, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store, path
}

func TestFileStoreMissingSnapshotStartsEmpty(t *testing.T) {
	t.Parallel()
	store, _ := openTempFileStore(t)
	defer store.Close()

	snap, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Participants) != 0 || len(snap.Destinations) != 0 || !snap.NextCycleAt.IsZero() {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	if snap.Participants == nil || snap.Destinations == nil {
		t.Fatal("maps must be initialized")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store, path := openTempFileStore(t)
	defer store.Close()

	now := time.Date(2026, 8, 28, 15, 4, 0, 0, time.UTC)
	in := Empty()
	in.Participants[7] = Participant{
		ID:           7,
		DisplayName:  "Alice",
		RegisteredAt: now.Add(-48 * time.Hour),
		PostedMedia:  true,
		MediaKind:    transport.MediaPhoto,
		MediaRef:     "file-abc",
		SubmittedAt:  now,
	}
	in.Destinations[-100] = Destination{ID: -100, AddedAt: now.Add(-time.Hour)}
	in.NextCycleAt = now.Add(20 * time.Hour)

	if err := store.Save(context.Background(), in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// no staging file may survive a completed save
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("staging file left behind: %v", err)
	}

	out, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, ok := out.Participants[7]
	if !ok {
		t.Fatal("participant lost")
	}
	// IDs are not serialized; they must be restored from the map keys
	if p.ID != 7 {
		t.Fatalf("participant ID = %d, want 7", p.ID)
	}
	if p.MediaKind != transport.MediaPhoto || p.MediaRef != "file-abc" || !p.PostedMedia {
		t.Fatalf("participant = %+v", p)
	}
	d, ok := out.Destinations[-100]
	if !ok || d.ID != -100 {
		t.Fatalf("destination = %+v, ok=%v", d, ok)
	}
	if !out.NextCycleAt.Equal(in.NextCycleAt) {
		t.Fatalf("NextCycleAt = %v, want %v", out.NextCycleAt, in.NextCycleAt)
	}
}

func TestFileStoreSaveOverwritesWholeDocument(t *testing.T) {
	t.Parallel()
	store, _ := openTempFileStore(t)
	defer store.Close()

	first := Empty()
	first.Participants[1] = Participant{ID: 1, DisplayName: "a"}
	first.Participants[2] = Participant{ID: 2, DisplayName: "b"}
	if err := store.Save(context.Background(), first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second := Empty()
	second.Participants[2] = Participant{ID: 2, DisplayName: "b"}
	if err := store.Save(context.Background(), second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out.Participants) != 1 {
		t.Fatalf("participants = %d, want 1 (full overwrite)", len(out.Participants))
	}
}

func TestFileStoreCorruptSnapshotFails(t *testing.T) {
	t.Parallel()
	store, path := openTempFileStore(t)
	defer store.Close()

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := store.Load(context.Background()); err == nil {
		t.Fatal("expected error for corrupt snapshot")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "bolt", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	store, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || store != nil {
		t.Fatalf("Open(none) = %v, %v; want nil, nil", store, err)
	}
}
