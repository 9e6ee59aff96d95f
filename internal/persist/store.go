// Package persist keeps small JSON-encoded values across restarts in a
// SQLite key/value table grouped by namespace.
package persist

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS persistent_data (
	namespace   TEXT NOT NULL,
	key         TEXT NOT NULL,
	value       TEXT NOT NULL,
	updated_at  TEXT NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (namespace, key)
);
`

// Store is a namespaced key/value store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Debug("Opened persistent store", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Put stores v under namespace/key.
func (s *Store) Put(namespace, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", namespace, key, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO persistent_data (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		namespace, key, string(data))
	if err != nil {
		return fmt.Errorf("store %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get decodes the value stored under namespace/key into out. It reports
// false without error when the key has never been stored.
func (s *Store) Get(namespace, key string, out any) (bool, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT value FROM persistent_data WHERE namespace = ? AND key = ?`,
		namespace, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s/%s: %w", namespace, key, err)
	}

	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

// Load returns every value in a namespace.
func (s *Store) Load(namespace string) (map[string]json.RawMessage, error) {
	rows, err := s.db.Query(
		`SELECT key, value FROM persistent_data WHERE namespace = ? ORDER BY key`, namespace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", namespace, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", namespace, err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

// Delete removes namespace/key. Missing keys are not an error.
func (s *Store) Delete(namespace, key string) error {
	if _, err := s.db.Exec(
		`DELETE FROM persistent_data WHERE namespace = ? AND key = ?`, namespace, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
