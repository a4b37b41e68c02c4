package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"taskmark/api/internal/note"
)

// localSchemaVersion is bumped whenever the local schema gains tables or
// indexes. Migrations are additive only: existing columns are never dropped
// or renamed, so every upgrade preserves existing rows.
const localSchemaVersion = 2

// localMigrations[i] upgrades a database at user_version i to i+1.
var localMigrations = []string{
	`
	CREATE TABLE IF NOT EXISTS notes (
		id             TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL DEFAULT 1,
		title          TEXT NOT NULL DEFAULT '',
		blocks         TEXT NOT NULL DEFAULT '[]',
		tags           TEXT NOT NULL DEFAULT '[]',
		content        TEXT NOT NULL DEFAULT '',
		checklist      TEXT NOT NULL DEFAULT '[]',
		created        TEXT NOT NULL,
		updated        TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`,
	`
	CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created DESC);
	CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated DESC);
	`,
}

const modeKey = "operating_mode"

// LocalStore is the embedded durable store for notes, backed by SQLite on
// the device. It owns nothing in memory; callers await every operation.
type LocalStore struct {
	db *sql.DB
}

// OpenLocal idempotently opens or creates the local database and brings its
// schema to the current version. Failure to open maps to
// ErrStorageUnavailable: there is no in-memory-only fallback mode.
func OpenLocal(path string) (*LocalStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create db dir: %v", ErrStorageUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", ErrStorageUnavailable, err)
	}

	s := &LocalStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrStorageUnavailable, err)
	}
	return s, nil
}

func (s *LocalStore) migrate() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for v := version; v < localSchemaVersion; v++ {
		if _, err := s.db.Exec(localMigrations[v]); err != nil {
			return fmt.Errorf("apply local migration %d: %w", v+1, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			return fmt.Errorf("record local migration %d: %w", v+1, err)
		}
	}
	return nil
}

// GetAll returns every stored note, upgraded and defaulted to the full
// shape. It never partially fails: either the full set comes back or the
// call fails with ErrStorageRead.
func (s *LocalStore) GetAll(ctx context.Context) ([]note.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schema_version, title, blocks, tags, content, checklist, created, updated
		FROM notes
		ORDER BY created DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: query notes: %v", ErrStorageRead, err)
	}
	defer rows.Close()

	notes := make([]note.Note, 0)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan note: %v", ErrStorageRead, err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate notes: %v", ErrStorageRead, err)
	}
	return notes, nil
}

// Put upserts one note by id, applying the same defaulting as GetAll before
// writing. Atomic per call.
func (s *LocalStore) Put(ctx context.Context, n note.Note) error {
	n.Normalize()
	blocks, tags, checklist, err := encodeNote(n)
	if err != nil {
		return fmt.Errorf("%w: encode note %s: %v", ErrStorageWrite, n.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (id, schema_version, title, blocks, tags, content, checklist, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			schema_version=excluded.schema_version,
			title=excluded.title,
			blocks=excluded.blocks,
			tags=excluded.tags,
			content=excluded.content,
			checklist=excluded.checklist,
			updated=excluded.updated
	`, n.ID, n.SchemaVersion, n.Title, blocks, tags, n.Content, checklist,
		n.Created.UTC().Format(time.RFC3339Nano), n.Updated.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: put note %s: %v", ErrStorageWrite, n.ID, err)
	}
	return nil
}

// Delete removes one note by id. Absent ids are a no-op, not an error.
func (s *LocalStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=?`, id); err != nil {
		return fmt.Errorf("%w: delete note %s: %v", ErrStorageWrite, id, err)
	}
	return nil
}

// Mode reads the persisted operating mode. A database that has never stored
// one reports LOCAL.
func (s *LocalStore) Mode(ctx context.Context) (note.Mode, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, modeKey).Scan(&value)
	if err == sql.ErrNoRows {
		return note.ModeLocal, nil
	}
	if err != nil {
		return note.ModeLocal, fmt.Errorf("%w: read mode: %v", ErrStorageRead, err)
	}
	return note.ParseMode(value), nil
}

// SetMode persists the operating mode flag, outside the note table.
func (s *LocalStore) SetMode(ctx context.Context, m note.Mode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value=excluded.value
	`, modeKey, string(m))
	if err != nil {
		return fmt.Errorf("%w: set mode: %v", ErrStorageWrite, err)
	}
	return nil
}

func (s *LocalStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *LocalStore) Close() error {
	return s.db.Close()
}

func encodeNote(n note.Note) (blocks, tags, checklist []byte, err error) {
	if blocks, err = json.Marshal(n.Blocks); err != nil {
		return nil, nil, nil, err
	}
	if tags, err = json.Marshal(n.Tags); err != nil {
		return nil, nil, nil, err
	}
	if checklist, err = json.Marshal(n.Checklist); err != nil {
		return nil, nil, nil, err
	}
	return blocks, tags, checklist, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (note.Note, error) {
	var n note.Note
	var blocks, tags, checklist, created, updated string
	if err := row.Scan(&n.ID, &n.SchemaVersion, &n.Title, &blocks, &tags, &n.Content, &checklist, &created, &updated); err != nil {
		return n, err
	}
	// Tolerate malformed stored JSON: the defaulting in Upgrade fills the
	// gaps rather than failing the whole read.
	_ = json.Unmarshal([]byte(blocks), &n.Blocks)
	_ = json.Unmarshal([]byte(tags), &n.Tags)
	_ = json.Unmarshal([]byte(checklist), &n.Checklist)
	n.Created, _ = time.Parse(time.RFC3339Nano, created)
	n.Updated, _ = time.Parse(time.RFC3339Nano, updated)
	n.Upgrade()
	return n, nil
}
