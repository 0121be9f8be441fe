// Package storage provides the table-keyed byte store the engine persists to.
package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/samuel0642/txengine/internal/types"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store is closed")

// Store is a namespaced key-value store addressed by (table, key).
// Get returns nil, nil for an absent key. Backend failures are returned as
// types.ErrCollaboratorUnavailable.
type Store interface {
	Get(ctx context.Context, table, key string) ([]byte, error)
	Set(ctx context.Context, table, key string, value []byte) error
	// SetMany writes all entries atomically
	SetMany(ctx context.Context, entries []Entry) error
	Close() error
}

// Entry is a single write of a batch
type Entry struct {
	Table string
	Key   string
	Value []byte
}

func compositeKey(namespace, table, key string) string {
	return namespace + "/" + table + "/" + key
}

func unavailable(op string, err error) error {
	return types.NewError(types.KindCollaboratorUnavailable, "", "storage %s: %w", op, err)
}

// MemoryStore is a map backed Store
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get returns a copy of the value stored under (table, key)
func (s *MemoryStore) Get(ctx context.Context, table, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, unavailable("get", ErrClosed)
	}
	v, ok := s.data[compositeKey("", table, key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value under (table, key)
func (s *MemoryStore) Set(ctx context.Context, table, key string, value []byte) error {
	return s.SetMany(ctx, []Entry{{Table: table, Key: key, Value: value}})
}

// SetMany stores all entries under one lock
func (s *MemoryStore) SetMany(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return unavailable("set", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return unavailable("set", ErrClosed)
	}
	for _, e := range entries {
		s.data[compositeKey("", e.Table, e.Key)] = append([]byte(nil), e.Value...)
	}
	return nil
}

// Keys lists the keys of a table in sorted order
func (s *MemoryStore) Keys(table string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := compositeKey("", table, "")
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(keys)
	return keys
}

// Close marks the store closed
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
