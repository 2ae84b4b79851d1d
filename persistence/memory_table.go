package persistence

import (
	"context"
	"sort"
	"sync"
)

// MemoryTable is an in-process implementation of Table.
// Suitable for development and testing. Data is lost on restart.
type MemoryTable struct {
	records map[string][]byte
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryTable creates a new in-memory table
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{
		records: make(map[string][]byte),
	}
}

// Close closes the table
func (t *MemoryTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Ping checks if the table is healthy
func (t *MemoryTable) Ping(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get returns the value stored under key
func (t *MemoryTable) Get(ctx context.Context, key string) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrStoreClosed
	}

	v, ok := t.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put creates or replaces key
func (t *MemoryTable) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidInput
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrStoreClosed
	}
	t.records[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key
func (t *MemoryTable) Delete(ctx context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false, ErrStoreClosed
	}
	_, ok := t.records[key]
	delete(t.records, key)
	return ok, nil
}

// Scan returns records with the given prefix in key order
func (t *MemoryTable) Scan(ctx context.Context, prefix, cursor string, limit int) ([]Record, string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, "", ErrStoreClosed
	}

	keys := make([]string, 0)
	for k := range t.records {
		if hasPrefix(k, prefix) && (cursor == "" || k > cursor) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit = normalizeLimit(limit)
	next := ""
	if len(keys) > limit {
		keys = keys[:limit]
		next = keys[limit-1]
	}

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, Record{Key: k, Value: append([]byte(nil), t.records[k]...)})
	}
	return out, next, nil
}

// BatchWrite applies puts and deletes under one lock
func (t *MemoryTable) BatchWrite(ctx context.Context, puts []Record, deletes []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrStoreClosed
	}
	for _, r := range puts {
		if r.Key == "" {
			return ErrInvalidInput
		}
	}
	for _, k := range deletes {
		delete(t.records, k)
	}
	for _, r := range puts {
		t.records[r.Key] = append([]byte(nil), r.Value...)
	}
	return nil
}

// Len returns the number of records, for tests and diagnostics.
func (t *MemoryTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Ensure MemoryTable implements Table
var _ Table = (*MemoryTable)(nil)
