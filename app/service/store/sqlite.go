package store

import (
	"context"
	"database/sql"
	"errors"
	"hirewire/app/service/conversation"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/do"
	"github.com/samber/oops"
	_ "modernc.org/sqlite"
)

var (
	_ conversation.Store = (*SQLite)(nil)
	_ do.Shutdownable    = (*SQLite)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	phase TEXT NOT NULL,
	state TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// SQLite keeps conversations in a single table and uses the version column
// for compare-and-swap updates.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, oops.In("store").With("path", path).Wrapf(err, "failed to create directory")
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, oops.In("store").With("path", path).Wrapf(err, "failed to open database")
	}
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, oops.In("store").With("path", path).Wrapf(err, "failed to create schema")
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context, id string) (*conversation.Conversation, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM conversations WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, oops.In("store").With("conversation_id", id).Wrapf(err, "failed to query conversation")
	}

	return decode(id, []byte(state))
}

func (s *SQLite) Save(ctx context.Context, conv *conversation.Conversation, expectedVersion int64) error {
	next := *conv
	next.Version = expectedVersion + 1

	data, err := encode(&next)
	if err != nil {
		return err
	}

	var result sql.Result
	if expectedVersion == 0 {
		result, err = s.db.ExecContext(ctx,
			`INSERT INTO conversations (id, version, phase, state, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			conv.ID, next.Version, next.Phase.String(), string(data), next.UpdatedAt.UTC().Format(time.RFC3339Nano))
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET version = ?, phase = ?, state = ?, updated_at = ? WHERE id = ? AND version = ?`,
			next.Version, next.Phase.String(), string(data), next.UpdatedAt.UTC().Format(time.RFC3339Nano),
			conv.ID, expectedVersion)
	}
	if err != nil {
		return oops.In("store").With("conversation_id", conv.ID).Wrapf(err, "failed to save conversation")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return oops.In("store").With("conversation_id", conv.ID).Wrapf(err, "failed to read affected rows")
	}

	if affected == 0 {
		current, err := s.version(ctx, conv.ID)
		if err != nil {
			slog.WarnContext(ctx, "Failed to read current version after conflict",
				"conversation_id", conv.ID,
				"error", err)
		}
		return conflict(conv.ID, expectedVersion, current)
	}

	conv.Version = next.Version

	return nil
}

// version returns the stored version of id, 0 when the row does not exist.
func (s *SQLite) version(ctx context.Context, id string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM conversations WHERE id = ?`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.In("store").With("conversation_id", id).Wrapf(err, "failed to query version")
	}
	return version, nil
}

func (s *SQLite) Shutdown() error {
	return s.db.Close()
}
