// Package sqlitestore is a local SQLite backend used when no Supabase project
// is configured. It mirrors the hosted schema closely enough for the chat
// services to behave the same against either.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/joakey/joakey/backend/internal/store"
	"github.com/mattn/go-sqlite3"
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS profiles (
  id                TEXT PRIMARY KEY,
  username          TEXT NOT NULL DEFAULT '',
  name              TEXT NOT NULL DEFAULT '',
  role              TEXT CHECK(role IN ('buyer','jockey')) DEFAULT 'buyer',
  profile_image_url TEXT NOT NULL DEFAULT '',
  bio               TEXT NOT NULL DEFAULT '',
  jockey_services   TEXT NOT NULL DEFAULT '[]'
);
`,
	`
CREATE TABLE IF NOT EXISTS chats (
  id         TEXT PRIMARY KEY,
  user1_id   TEXT NOT NULL,
  user2_id   TEXT NOT NULL,
  pair_key   TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
`,
	`
CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_pair_key ON chats (pair_key);
`,
	`
CREATE TABLE IF NOT EXISTS messages (
  id         TEXT PRIMARY KEY,
  chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
  sender_id  TEXT NOT NULL,
  text       TEXT NOT NULL,
  type       TEXT CHECK(type IN ('text','image','video')) DEFAULT 'text',
  created_at INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_chat_time ON messages (chat_id, created_at, id);
`,
	`
CREATE TABLE IF NOT EXISTS follows (
  follower_id  TEXT NOT NULL,
  following_id TEXT NOT NULL,
  PRIMARY KEY (follower_id, following_id)
);
`,
}

// Store implements the store interfaces on SQLite.
type Store struct {
	db  *sql.DB
	pub store.Publisher
}

// Open opens or creates the database at path and applies pending
// migrations. Message writes are published to pub when it is non-nil.
func Open(path string, pub store.Publisher) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_fk=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, pub: pub}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies every migration past the stored user_version.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	if version < len(migrations) {
		log.Printf("[SQLite] Schema migrated from version %d to %d", version, len(migrations))
	}
	return nil
}

// mapError translates constraint violations and missing rows into store
// sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
	}
	return err
}

func toUnix(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
