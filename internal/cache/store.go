// Package cache persists transform results between builds.
//
// A store lives in one SQLite file per cache name. Entries are CBOR-encoded
// modules keyed by content digests. The store remembers the identity it was
// filled under; opening it with any other identity empties it first, so a
// changed configuration, tool version or build dependency never mixes with
// old entries. A single process is expected to write at a time.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/transform"
)

// FrontSize bounds the in-memory layer kept in front of SQLite.
const FrontSize = 4096

// Store implements transform.Cache on SQLite.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	front *lru.Cache[string, *transform.Module]
	path  string
	wiped bool
	now   func() time.Time
}

var _ transform.Cache = (*Store)(nil)

// Open opens (creating when needed) the cache named name under dir.
func Open(dir, name, identity string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create cache directory").
			WithContext("dir", dir).
			Build()
	}
	path := filepath.Join(dir, name+".db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	front, err := lru.New[string, *transform.Module](FrontSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create front cache: %w", err)
	}

	s := &Store{db: db, front: front, path: path, now: time.Now}
	if err := s.initialize(identity); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "initialize cache").
			WithContext("path", path).
			Build()
	}
	return s, nil
}

func (s *Store) initialize(identity string) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS modules (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		stored_at INTEGER NOT NULL,
		used_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_used_at ON modules(used_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var current string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'identity'").Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read identity: %w", err)
	}
	if current == identity {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.Exec("DELETE FROM modules")
	if err != nil {
		return fmt.Errorf("wipe modules: %w", err)
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('identity', ?)", identity); err != nil {
		return fmt.Errorf("store identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.wiped = true
	}
	return tx.Commit()
}

// Wiped reports whether Open discarded entries stored under another identity.
func (s *Store) Wiped() bool { return s.wiped }

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Get returns the module stored under key.
func (s *Store) Get(key string) (*transform.Module, bool) {
	if m, ok := s.front.Get(key); ok {
		return m, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM modules WHERE key = ?", key).Scan(&payload)
	if err != nil {
		return nil, false
	}
	var m transform.Module
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return nil, false
	}
	_, _ = s.db.Exec("UPDATE modules SET used_at = ? WHERE key = ?", s.now().Unix(), key)
	s.front.Add(key, &m)
	return &m, true
}

// Put stores m under key, replacing an existing entry.
func (s *Store) Put(key string, m *transform.Module) error {
	payload, err := cbor.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode module: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO modules (key, payload, stored_at, used_at) VALUES (?, ?, ?, ?)",
		key, payload, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert module: %w", err)
	}
	s.front.Add(key, m)
	return nil
}

// Len returns the number of persisted entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM modules").Scan(&n)
	return n, err
}

// Prune deletes entries not used within maxAge and returns how many were removed.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge).Unix()
	res, err := s.db.ExecContext(ctx, "DELETE FROM modules WHERE used_at < ?", cutoff)
	if err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryResource, "prune build cache").
			WithContext("path", s.path).
			Warning().
			Build()
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.front.Purge()
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.front.Purge()
	return s.db.Close()
}
