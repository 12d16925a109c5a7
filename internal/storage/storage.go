// Package storage provides the persistence layer for learned templates and
// match attempts.
package storage

import (
	"context"
	"time"

	"github.com/Veraticus/smsledger/internal/model"
)

// EntriesKey is the key holding the serialized learned entries.
const EntriesKey = "smsledger.learned_entries"

// CorruptEntriesKey holds the last learned entries payload that could not be
// decoded, copied aside before it was replaced.
const CorruptEntriesKey = EntriesKey + ".corrupt"

// UpdateFunc receives the current value of a key (nil when absent) and
// returns the value to store. Returning nil deletes the key.
type UpdateFunc func(current []byte) ([]byte, error)

// Adapter is a key-value store with atomic read-modify-write updates.
type Adapter interface {
	// Get returns the value for key or common.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Update runs fn inside a single write transaction.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Attempt is one processed message as recorded for statistics.
type Attempt struct {
	AttemptedAt  time.Time `json:"attemptedAt"`
	MessageHash  string    `json:"messageHash"`
	TemplateHash string    `json:"templateHash"`
	// EntryID is the learned entry the attempt resolved to, if any.
	EntryID     string       `json:"entryId,omitempty"`
	SenderHint  string       `json:"senderHint,omitempty"`
	Origin      model.Origin `json:"origin,omitempty"`
	ID          int64        `json:"id"`
	Confidence  float64      `json:"confidence"`
	Matched     bool         `json:"matched"`
	ShouldTrain bool         `json:"shouldTrain"`
}

// AttemptLog records match attempts.
type AttemptLog interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
	// Attempts returns attempts in [since, until), oldest first. A zero
	// bound is open.
	Attempts(ctx context.Context, since, until time.Time) ([]Attempt, error)
}

// Store is the full persistence surface used by the application.
type Store interface {
	Adapter
	AttemptLog
}
