// Package store persists the client's durable local state: the session
// identity, and an outbox parked across a process restart.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/parleychat/parley/internal/model"
)

const (
	keySession = "session"
	keyOutbox  = "outbox"
)

const schema = `
CREATE TABLE IF NOT EXISTS local_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

type Store struct {
	db *sql.DB
}

// Open creates dataDir if needed and opens the state database inside it.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("internal/store: create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "parley.db"))
	if err != nil {
		return nil, fmt.Errorf("internal/store: open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("internal/store: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("internal/store: encode %s: %w", key, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO local_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(raw),
	)
	if err != nil {
		return fmt.Errorf("internal/store: write %s: %w", key, err)
	}
	return nil
}

// get decodes the value under key into out. The second return is false when
// the key is absent.
func (s *Store) get(key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRow(
		`SELECT value FROM local_state WHERE key = ?`, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("internal/store: read %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("internal/store: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM local_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("internal/store: delete %s: %w", key, err)
	}
	return nil
}

// SaveSession persists the signed-in identity under the fixed session key.
func (s *Store) SaveSession(user model.User) error {
	return s.put(keySession, user)
}

// LoadSession restores a persisted identity, if any.
func (s *Store) LoadSession() (model.User, bool, error) {
	var user model.User
	ok, err := s.get(keySession, &user)
	return user, ok, err
}

// ClearSession removes the persisted identity on sign-out.
func (s *Store) ClearSession() error {
	return s.delete(keySession)
}

// ParkOutbox serializes a non-empty outbox ahead of process shutdown. An
// empty outbox parks nothing and clears any previous parking.
func (s *Store) ParkOutbox(pending []model.PendingMessage) error {
	if len(pending) == 0 {
		return s.delete(keyOutbox)
	}
	return s.put(keyOutbox, pending)
}

// TakeOutbox returns the parked outbox and deletes it in the same call, so a
// second start cannot replay the same batch.
func (s *Store) TakeOutbox() ([]model.PendingMessage, error) {
	var pending []model.PendingMessage
	ok, err := s.get(keyOutbox, &pending)
	if err != nil || !ok {
		return nil, err
	}

	if err := s.delete(keyOutbox); err != nil {
		return nil, err
	}
	return pending, nil
}
