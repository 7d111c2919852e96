// Package jobstore implements the Job State Store (C12): key-value session
// state under job:<session_id>, with a 1-hour TTL, behind two backends — an
// in-process map for single-node deployments and a SQLite-backed store
// (adapted from internal/storage's generic DB wrapper) standing in for a
// distributed KV when no external store is configured.
//
// Path fields are persisted as strings, per spec.md §4.12, to avoid
// cross-language path encoding issues.
package jobstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cartomix/opus/internal/domain"
	"github.com/cartomix/opus/internal/storage"
)

// SessionTTL is the fixed TTL for job:<session_id> records (spec.md §4.12).
const SessionTTL = time.Hour

// Store is the key-value backend the Job State Store is built on.
type Store interface {
	Put(key string, value []byte, ttl time.Duration) error
	Get(key string) (value []byte, ok bool, err error)
	Delete(key string) error
}

// SessionStore is the typed facade job workers and the HTTP layer use:
// read/write a domain.Session under its job:<id> key.
type SessionStore struct {
	backend Store
}

// NewSessionStore wraps a Store with the job:<session_id> key convention.
func NewSessionStore(backend Store) *SessionStore {
	return &SessionStore{backend: backend}
}

func sessionKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

// Put persists a session's current state, refreshing its TTL.
func (s *SessionStore) Put(sess *domain.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	return s.backend.Put(sessionKey(sess.ID), b, SessionTTL)
}

// Get reads a session's current state. ok is false if the key is absent or
// expired.
func (s *SessionStore) Get(id string) (sess *domain.Session, ok bool, err error) {
	b, ok, err := s.backend.Get(sessionKey(id))
	if err != nil || !ok {
		return nil, ok, err
	}
	var out domain.Session
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, false, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &out, true, nil
}

// Delete removes a session's state record (used on download / reap).
func (s *SessionStore) Delete(id string) error {
	return s.backend.Delete(sessionKey(id))
}

// Enumerable is implemented by backends that can list their keys by
// prefix. Backends that cannot enumerate cheaply (a real distributed KV)
// may implement a narrower Store and compose a separate tracking index;
// the in-process and SQLite backends here both support it directly.
type Enumerable interface {
	Keys(prefix string) ([]string, error)
}

// KnownIDs returns the set of session ids currently tracked, for
// internal/session's ReapAbandoned sweep. It returns an empty set when the
// backend is not Enumerable or listing fails.
func (s *SessionStore) KnownIDs() map[string]bool {
	out := map[string]bool{}
	enum, ok := s.backend.(Enumerable)
	if !ok {
		return out
	}
	keys, err := enum.Keys("job:")
	if err != nil {
		return out
	}
	for _, k := range keys {
		out[k[len("job:"):]] = true
	}
	return out
}

// MemStore is the in-process backend (spec.md §4.12): a plain map with no
// TTL enforcement beyond lazy expiry checks on Get, used when no
// distributed store is configured. Writes are serialized per key via a
// single mutex, per the concurrency model's requirement that the in-memory
// variant serialize writes.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemStore builds an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]memEntry)}
}

func (m *MemStore) Put(key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.entries[key] = memEntry{value: cp, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemStore) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemStore) Keys(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			continue
		}
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

// SQLiteStore is the durable single-node fallback, backed by
// internal/storage's job_state table.
type SQLiteStore struct {
	db *storage.DB
}

// NewSQLiteStore wraps an already-open storage.DB.
func NewSQLiteStore(db *storage.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Put(key string, value []byte, ttl time.Duration) error {
	return s.db.PutState(key, value, ttl)
}

func (s *SQLiteStore) Get(key string) ([]byte, bool, error) {
	return s.db.GetState(key)
}

func (s *SQLiteStore) Delete(key string) error {
	return s.db.DeleteState(key)
}

func (s *SQLiteStore) Keys(prefix string) ([]string, error) {
	return s.db.StateKeysWithPrefix(prefix)
}
