package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/smsledger/internal/common"
)

// MemoryStorage implements Store in process memory. Values are copied on
// the way in and out.
type MemoryStorage struct {
	values   map[string][]byte
	attempts []Attempt
	nextID   int64
	mu       sync.Mutex
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string][]byte)}
}

// Get returns the value stored under key.
func (m *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	if !ok {
		return nil, fmt.Errorf("key %s: %w", key, common.ErrNotFound)
	}
	return clone(v), nil
}

// Update applies fn to the current value of key while holding the lock.
func (m *MemoryStorage) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(key, "key"); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: update function", ErrNilParameter)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var current []byte
	if v, ok := m.values[key]; ok {
		current = clone(v)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.values, key)
		return nil
	}
	m.values[key] = clone(next)
	return nil
}

// Delete removes key.
func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(key, "key"); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}

// RecordAttempt appends a match attempt.
func (m *MemoryStorage) RecordAttempt(ctx context.Context, a Attempt) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAttempt(&a); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	a.ID = m.nextID
	m.attempts = append(m.attempts, a)
	return nil
}

// Attempts returns attempts within [since, until), oldest first.
func (m *MemoryStorage) Attempts(ctx context.Context, since, until time.Time) ([]Attempt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Attempt
	for _, a := range m.attempts {
		if inWindow(a.AttemptedAt, since, until) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptedAt.Before(out[j].AttemptedAt) })
	return out, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
