// Package template keeps the bank of confirmed message templates and matches
// new messages against it.
package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/extract"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/Veraticus/smsledger/internal/storage"
	"github.com/Veraticus/smsledger/internal/structure"
	"github.com/google/uuid"
)

// Options tunes learning and matching.
type Options struct {
	MaxEntries             int
	MinConfidenceThreshold float64
	UserConfirmationWeight float64
	ValidationRequired     bool
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		MaxEntries:             500,
		MinConfidenceThreshold: 0.7,
		UserConfirmationWeight: 1.0,
	}
}

// LearnObserver is notified after a template is learned or re-learned.
type LearnObserver interface {
	OnLearned(templateHash, senderHint string)
}

// Store is the learned template bank. Reads are served from a cache that
// every successful write refreshes; writes are serialized by a mutex and by
// the adapter's read-modify-write transaction.
type Store struct {
	adapter   storage.Adapter
	now       func() time.Time
	newID     func() string
	observers []LearnObserver
	entries   []model.LearnedEntry
	opts      Options
	loaded    bool
	mu        sync.RWMutex
	writeMu   sync.Mutex
}

// New creates a store over adapter with default options.
func New(adapter storage.Adapter) *Store {
	return NewWithOptions(adapter, DefaultOptions())
}

// NewWithOptions creates a store with custom options.
func NewWithOptions(adapter storage.Adapter, opts Options) *Store {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultOptions().MaxEntries
	}
	if opts.UserConfirmationWeight <= 0 {
		opts.UserConfirmationWeight = DefaultOptions().UserConfirmationWeight
	}
	return &Store{
		adapter: adapter,
		opts:    opts,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// AddObserver registers o for learn notifications.
func (s *Store) AddObserver(o LearnObserver) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Options returns the store options.
func (s *Store) Options() Options {
	return s.opts
}

func (s *Store) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Entries returns a copy of every valid stored entry.
func (s *Store) Entries(ctx context.Context) ([]model.LearnedEntry, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEntries(s.entries), nil
}

// Entry returns the entry with id.
func (s *Store) Entry(ctx context.Context, id string) (*model.LearnedEntry, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
}

// Reload discards the cache and reads the entries again. Payloads in an
// older layout are rewritten in the current one.
func (s *Store) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := s.adapter.Get(ctx, storage.EntriesKey)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("failed to load learned entries: %w", err)
	}

	decoded, err := storage.DecodeEntries(data, s.clock())
	if err != nil {
		slog.Warn("Learned entries are unreadable, starting empty", "error", err)
		decoded = storage.Decoded{}
	}
	if decoded.Skipped > 0 {
		slog.Warn("Ignored unusable learned entries", "skipped", decoded.Skipped, "kept", len(decoded.Entries))
	}
	s.fillConfidence(decoded.Entries)

	if decoded.Migrated && len(decoded.Entries) > 0 {
		slog.Info("Migrating learned entries", "from_version", decoded.Version, "to_version", storage.EnvelopeVersion)
		if err := s.write(ctx, func([]model.LearnedEntry) ([]model.LearnedEntry, error) {
			return decoded.Entries, nil
		}); err != nil {
			return fmt.Errorf("failed to migrate learned entries: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	s.entries = decoded.Entries
	s.loaded = true
	s.mu.Unlock()
	return nil
}

func (s *Store) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	return s.Reload(ctx)
}

// eligible returns the entries matching may use.
func (s *Store) eligible(ctx context.Context) ([]model.LearnedEntry, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	if !s.opts.ValidationRequired {
		return entries, nil
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.UserConfirmed {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

// errUnreadable stops an update whose stored payload cannot be decoded.
var errUnreadable = errors.New("learned entries are unreadable")

// write applies mutate to the freshly stored entries inside one adapter
// transaction and refreshes the cache with the result. An undecodable payload
// is copied to storage.CorruptEntriesKey before it is replaced.
func (s *Store) write(ctx context.Context, mutate func([]model.LearnedEntry) ([]model.LearnedEntry, error)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.clock()
	var unreadable []byte
	var entries []model.LearnedEntry
	apply := func(discard bool) error {
		return s.adapter.Update(ctx, storage.EntriesKey, func(current []byte) ([]byte, error) {
			decoded, err := storage.DecodeEntries(current, now)
			if err != nil {
				if !discard {
					unreadable = append([]byte(nil), current...)
					return nil, fmt.Errorf("%w: %w", errUnreadable, err)
				}
				slog.Warn("Discarding corrupted learned entries", "error", err, "preserved_at", storage.CorruptEntriesKey)
				decoded = storage.Decoded{}
			}
			s.fillConfidence(decoded.Entries)

			next, err := mutate(decoded.Entries)
			if err != nil {
				return nil, err
			}
			entries = next
			return storage.EncodeEntries(next, now)
		})
	}

	err := apply(false)
	if errors.Is(err, errUnreadable) {
		if err := s.adapter.Update(ctx, storage.CorruptEntriesKey, func([]byte) ([]byte, error) {
			return unreadable, nil
		}); err != nil {
			return fmt.Errorf("failed to preserve unreadable learned entries: %w", err)
		}
		err = apply(true)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries = entries
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// LearnFromTransaction records a confirmed transaction for message. When
// tokens is nil the field token map is derived from the extractors and the
// confirmed values. An existing entry with the same template hash gains a
// confirmation event; otherwise a new entry is created. The stored entry is
// returned.
func (s *Store) LearnFromTransaction(
	ctx context.Context,
	message string,
	confirmed model.ConfirmedFields,
	senderHint string,
	tokens *model.FieldTokenMap,
	source model.ConfirmationSource,
) (*model.LearnedEntry, error) {
	if strings.TrimSpace(message) == "" {
		return nil, common.ErrEmptyMessage
	}
	if source == "" {
		source = model.SourceUserExplicit
	}
	if !source.Valid() {
		return nil, fmt.Errorf("%w: confirmation source %q", model.ErrInvalidEntry, source)
	}

	confirmed.Normalize()
	if err := confirmed.Validate(); err != nil {
		return nil, fmt.Errorf("cannot learn transaction: %w", err)
	}

	var fieldTokens model.FieldTokenMap
	if tokens != nil {
		if !tokens.Valid(message) {
			return nil, fmt.Errorf("%w: field tokens do not match message", model.ErrInvalidEntry)
		}
		fieldTokens = *tokens
	} else {
		fieldTokens = DeriveFieldTokens(message, confirmed)
	}

	hash := structure.ComputeTemplateHash(message)
	skeleton := structure.Skeleton(message)
	now := s.clock()
	event := model.ConfirmationEvent{Timestamp: now, Source: source}

	var learned model.LearnedEntry
	err := s.write(ctx, func(entries []model.LearnedEntry) ([]model.LearnedEntry, error) {
		idx := -1
		for i := range entries {
			if entries[i].TemplateHash == hash {
				idx = i
				break
			}
		}

		if idx < 0 {
			entries = append(entries, model.LearnedEntry{
				ID:           s.newID(),
				TemplateHash: hash,
				Timestamp:    now,
			})
			idx = len(entries) - 1
		}

		e := &entries[idx]
		e.RawMessage = message
		if senderHint != "" || e.SenderHint == "" {
			e.SenderHint = senderHint
		}
		e.StructureSignature = skeleton
		e.ConfirmedFields = confirmed
		e.FieldTokenMap = fieldTokens
		e.Tokens = extract.Words(message)
		e.UserConfirmed = e.UserConfirmed || source == model.SourceUserExplicit
		e.ConfirmationHistory = append(e.ConfirmationHistory, event)
		c := s.confidence(e.ConfirmationHistory)
		e.Confidence = &c

		learned = cloneEntry(*e)
		return s.evict(entries, e.ID), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save learned entry: %w", err)
	}

	slog.Debug("Learned template",
		"id", learned.ID,
		"template_hash", hash,
		"source", source,
		"confirmations", learned.Confirmations(),
		"confidence", learned.ConfidenceValue())

	s.notify(hash, senderHint)
	return &learned, nil
}

// Reinforce appends an automatic confirmation to the entry with id.
func (s *Store) Reinforce(ctx context.Context, id string, confidence float64) error {
	now := s.clock()
	return s.write(ctx, func(entries []model.LearnedEntry) ([]model.LearnedEntry, error) {
		for i := range entries {
			if entries[i].ID != id {
				continue
			}
			conf := confidence
			entries[i].ConfirmationHistory = append(entries[i].ConfirmationHistory, model.ConfirmationEvent{
				Timestamp:  now,
				Confidence: &conf,
				Source:     model.SourceAuto,
			})
			c := s.confidence(entries[i].ConfirmationHistory)
			entries[i].Confidence = &c
			return entries, nil
		}
		return nil, fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
	})
}

// ClearLearnedEntries removes every learned entry. It cannot be undone.
func (s *Store) ClearLearnedEntries(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.adapter.Delete(ctx, storage.EntriesKey); err != nil {
		return fmt.Errorf("failed to clear learned entries: %w", err)
	}

	s.mu.Lock()
	s.entries = nil
	s.loaded = true
	s.mu.Unlock()

	slog.Info("Cleared learned entries")
	return nil
}

// evict drops least-recently-confirmed entries until the store fits
// MaxEntries. keep is never evicted.
func (s *Store) evict(entries []model.LearnedEntry, keep string) []model.LearnedEntry {
	over := len(entries) - s.opts.MaxEntries
	if over <= 0 {
		return entries
	}

	order := make([]int, 0, len(entries))
	for i := range entries {
		if entries[i].ID != keep {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := &entries[order[a]], &entries[order[b]]
		la, lb := ea.LastConfirmedAt(), eb.LastConfirmedAt()
		if !la.Equal(lb) {
			return la.Before(lb)
		}
		if !ea.Timestamp.Equal(eb.Timestamp) {
			return ea.Timestamp.Before(eb.Timestamp)
		}
		return ea.ID < eb.ID
	})

	drop := make(map[int]bool, over)
	for _, i := range order[:over] {
		drop[i] = true
		slog.Debug("Evicting learned entry", "id", entries[i].ID, "last_confirmed", entries[i].LastConfirmedAt())
	}

	kept := make([]model.LearnedEntry, 0, s.opts.MaxEntries)
	for i := range entries {
		if !drop[i] {
			kept = append(kept, entries[i])
		}
	}
	return kept
}

func (s *Store) notify(hash, senderHint string) {
	s.mu.RLock()
	observers := append([]LearnObserver(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range observers {
		o.OnLearned(hash, senderHint)
	}
}

// fillConfidence computes confidence for entries stored without one.
func (s *Store) fillConfidence(entries []model.LearnedEntry) {
	for i := range entries {
		if entries[i].Confidence == nil {
			c := s.confidence(entries[i].ConfirmationHistory)
			entries[i].Confidence = &c
		}
	}
}

func cloneEntries(entries []model.LearnedEntry) []model.LearnedEntry {
	out := make([]model.LearnedEntry, len(entries))
	for i := range entries {
		out[i] = cloneEntry(entries[i])
	}
	return out
}

func cloneEntry(e model.LearnedEntry) model.LearnedEntry {
	if e.Confidence != nil {
		c := *e.Confidence
		e.Confidence = &c
	}
	e.Tokens = append([]string(nil), e.Tokens...)
	e.ConfirmationHistory = append([]model.ConfirmationEvent(nil), e.ConfirmationHistory...)
	for _, f := range model.AllFields {
		e.FieldTokenMap.SetSlot(f, append([]model.PositionedToken(nil), e.FieldTokenMap.Slot(f)...))
	}
	return e
}
