package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"berealbot/internal/transport"
	logx "berealbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps the snapshot in three tables and rewrites them in a single
// transaction per Save, preserving the whole-document-overwrite contract.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (SnapshotStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	// Save must be durable before it returns (write-through contract).
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Load(ctx context.Context) (Snapshot, error) {
	snap := Empty()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, registered_at, posted_media, media_kind, media_ref, submitted_at FROM participants")
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p            Participant
			posted       int
			regMS, subMS int64
			kind         string
		)
		if err := rows.Scan(&p.ID, &p.DisplayName, &regMS, &posted, &kind, &p.MediaRef, &subMS); err != nil {
			return Snapshot{}, err
		}
		p.RegisteredAt = fromMilli(regMS)
		p.SubmittedAt = fromMilli(subMS)
		p.PostedMedia = posted != 0
		p.MediaKind = transport.MediaKind(kind)
		snap.Participants[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	drows, err := s.db.QueryContext(ctx, "SELECT id, added_at, last_activity FROM destinations")
	if err != nil {
		return Snapshot{}, err
	}
	defer drows.Close()
	for drows.Next() {
		var (
			d            Destination
			addMS, actMS int64
		)
		if err := drows.Scan(&d.ID, &addMS, &actMS); err != nil {
			return Snapshot{}, err
		}
		d.AddedAt = fromMilli(addMS)
		d.LastActivity = fromMilli(actMS)
		snap.Destinations[d.ID] = d
	}
	if err := drows.Err(); err != nil {
		return Snapshot{}, err
	}

	var nextMS int64
	err = s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'next_cycle_at'").Scan(&nextMS)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Snapshot{}, err
	default:
		snap.NextCycleAt = fromMilli(nextMS)
	}

	return snap, nil
}

func (s *sqliteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM participants"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM destinations"); err != nil {
		return err
	}
	for id, p := range snap.Participants {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO participants (id, name, registered_at, posted_media, media_kind, media_ref, submitted_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			id, p.DisplayName, toMilli(p.RegisteredAt), boolToInt(p.PostedMedia), string(p.MediaKind), p.MediaRef, toMilli(p.SubmittedAt)); err != nil {
			return err
		}
	}
	for id, d := range snap.Destinations {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO destinations (id, added_at, last_activity) VALUES (?, ?, ?)",
			id, toMilli(d.AddedAt), toMilli(d.LastActivity)); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES ('next_cycle_at', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		toMilli(snap.NextCycleAt)); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
