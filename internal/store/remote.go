package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskmark/api/internal/note"
)

// RemoteStore is the cloud durable store: one Postgres table of notes scoped
// by owning user. Row-level access is enforced by scoping every statement to
// the owner; deleting another owner's row is an error, never a silent
// success.
type RemoteStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewRemoteStore wraps an open database handle. timeout bounds every call;
// expiry surfaces as ErrRemoteUnavailable.
func NewRemoteStore(db *sql.DB, timeout time.Duration) *RemoteStore {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RemoteStore{db: db, timeout: timeout}
}

func (s *RemoteStore) DB() *sql.DB {
	return s.db
}

func (s *RemoteStore) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func remoteErr(sentinel error, ctx context.Context, format string, args ...any) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		sentinel = ErrRemoteUnavailable
	}
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Query returns all notes owned by owner, newest-updated first.
func (s *RemoteStore) Query(ctx context.Context, owner string) ([]note.Note, error) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schema_version, title, blocks, tags, content, checklist, created, updated
		FROM notes
		WHERE owner = $1
		ORDER BY updated DESC
	`, owner)
	if err != nil {
		return nil, remoteErr(ErrRemoteUnavailable, ctx, "query notes for %s: %v", owner, err)
	}
	defer rows.Close()

	notes := make([]note.Note, 0)
	for rows.Next() {
		var n note.Note
		var blocks, tags, checklist []byte
		if err := rows.Scan(&n.ID, &n.SchemaVersion, &n.Title, &blocks, &tags, &n.Content, &checklist, &n.Created, &n.Updated); err != nil {
			return nil, remoteErr(ErrRemoteUnavailable, ctx, "scan note: %v", err)
		}
		_ = json.Unmarshal(blocks, &n.Blocks)
		_ = json.Unmarshal(tags, &n.Tags)
		_ = json.Unmarshal(checklist, &n.Checklist)
		n.Upgrade()
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, remoteErr(ErrRemoteUnavailable, ctx, "iterate notes: %v", err)
	}
	return notes, nil
}

// Upsert writes or overwrites one row keyed by id, stamping the owner and a
// fresh updated timestamp. The stamped note is returned so callers hold the
// same view the remote store committed.
func (s *RemoteStore) Upsert(ctx context.Context, n note.Note, owner string) (note.Note, error) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	n.Normalize()
	n.Updated = time.Now().UTC()
	blocks, tags, checklist, err := encodeNote(n)
	if err != nil {
		return n, fmt.Errorf("%w: encode note %s: %v", ErrRemoteWrite, n.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (id, owner, schema_version, title, blocks, tags, content, checklist, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			owner=EXCLUDED.owner,
			schema_version=EXCLUDED.schema_version,
			title=EXCLUDED.title,
			blocks=EXCLUDED.blocks,
			tags=EXCLUDED.tags,
			content=EXCLUDED.content,
			checklist=EXCLUDED.checklist,
			updated=EXCLUDED.updated
	`, n.ID, owner, n.SchemaVersion, n.Title, blocks, tags, n.Content, checklist, n.Created, n.Updated)
	if err != nil {
		return n, remoteErr(ErrRemoteWrite, ctx, "upsert note %s: %v", n.ID, err)
	}
	return n, nil
}

// Delete removes one row scoped to the owner. A row held by a different
// owner fails with ErrRemoteWrite; a missing row is a no-op.
func (s *RemoteStore) Delete(ctx context.Context, id, owner string) error {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1 AND owner=$2`, id, owner)
	if err != nil {
		return remoteErr(ErrRemoteWrite, ctx, "delete note %s: %v", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return remoteErr(ErrRemoteWrite, ctx, "delete note %s: %v", id, err)
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM notes WHERE id=$1)`, id).Scan(&exists); err != nil {
			return remoteErr(ErrRemoteUnavailable, ctx, "check note %s: %v", id, err)
		}
		if exists {
			return fmt.Errorf("%w: note %s belongs to a different owner", ErrRemoteWrite, id)
		}
	}
	return nil
}

func (s *RemoteStore) Ping(ctx context.Context) error {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}
