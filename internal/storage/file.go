package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "berealbot/pkg/logx"
)

// fileStore persists the snapshot as a single JSON document.
//
// Every Save stages the document to "<path>.tmp" and atomically renames it
// over the previous snapshot, so a crash mid-write never leaves a torn file.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
}

func openFile(cfg Config, log logx.Logger) (SnapshotStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) (Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Info("no snapshot yet; starting empty", logx.String("path", s.path))
			return Empty(), nil
		}
		return Snapshot{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot corrupt at %s: %w", s.path, err)
	}
	if snap.Participants == nil {
		snap.Participants = map[int64]Participant{}
	}
	if snap.Destinations == nil {
		snap.Destinations = map[int64]Destination{}
	}
	// The id lives in the map key; restore it on the values.
	for id, p := range snap.Participants {
		p.ID = id
		snap.Participants[id] = p
	}
	for id, d := range snap.Destinations {
		d.ID = id
		snap.Destinations[id] = d
	}
	return snap, nil
}

func (s *fileStore) Save(ctx context.Context, snap Snapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error { return nil }

// Path returns the snapshot file location (used by maintenance backups).
func (s *fileStore) Path() string { return s.path }
