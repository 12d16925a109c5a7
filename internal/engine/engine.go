// Package engine implements the matching cascade that turns notification
// text into transaction drafts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/smsledger/internal/extract"
	"github.com/Veraticus/smsledger/internal/feedback"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/Veraticus/smsledger/internal/storage"
	"github.com/Veraticus/smsledger/internal/structure"
	"github.com/Veraticus/smsledger/internal/template"
	"github.com/cespare/xxhash/v2"
)

// trainBelow is the confidence under which a result asks for annotation.
const trainBelow = 0.4

// Config holds configuration options for the engine.
type Config struct {
	DefaultCurrency    string
	DateOrder          extract.DateOrder
	MLTimeout          time.Duration
	RejectionThreshold int
	Enabled            bool
	SaveAutomatically  bool
	MLEnabled          bool
	HighAccuracy       bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultCurrency:    "USD",
		DateOrder:          extract.MonthFirst,
		MLTimeout:          2 * time.Second,
		RejectionThreshold: feedback.DefaultThreshold,
		Enabled:            true,
		MLEnabled:          true,
	}
}

// Outcome is the engine's answer for one message. Draft is nil when no
// amount could be found.
type Outcome struct {
	Draft            *model.TransactionDraft
	Entry            *model.LearnedEntry
	FallbackTemplate *model.StructureTemplate
	Tokens           model.FieldTokenMap
	Origin           model.Origin
	TemplateHash     string
	Confidence       float64
	Matched          bool
	ShouldTrain      bool
}

// Result returns the outcome as a match result.
func (o Outcome) Result() model.MatchResult {
	return model.MatchResult{
		Entry:            o.Entry,
		FallbackTemplate: o.FallbackTemplate,
		Confidence:       o.Confidence,
		Matched:          o.Matched,
		ShouldTrain:      o.ShouldTrain,
	}
}

// Engine runs messages through the cascade and learns from confirmations.
type Engine struct {
	store     *template.Store
	extractor Extractor
	attempts  storage.AttemptLog
	tracker   *feedback.Tracker
	now       func() time.Time
	stages    []stage
	config    Config
	mu        sync.RWMutex
}

// New creates an engine with the default configuration. extractor and
// attempts may be nil.
func New(store *template.Store, extractor Extractor, attempts storage.AttemptLog) *Engine {
	return NewWithConfig(store, extractor, attempts, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(store *template.Store, extractor Extractor, attempts storage.AttemptLog, config Config) *Engine {
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = DefaultConfig().DefaultCurrency
	}
	if config.DateOrder == "" {
		config.DateOrder = extract.MonthFirst
	}
	if config.MLTimeout <= 0 {
		config.MLTimeout = DefaultConfig().MLTimeout
	}

	e := &Engine{
		store:     store,
		extractor: extractor,
		attempts:  attempts,
		tracker:   feedback.NewTracker(config.RejectionThreshold),
		now:       time.Now,
		config:    config,
	}
	store.AddObserver(e.tracker)

	if config.Enabled {
		e.stages = append(e.stages,
			&templateStage{store: store, order: config.DateOrder},
			&structureStage{store: store, order: config.DateOrder},
		)
	}
	if config.MLEnabled && extractor != nil {
		e.stages = append(e.stages, &mlStage{
			extractor:    extractor,
			timeout:      config.MLTimeout,
			highAccuracy: config.HighAccuracy,
		})
	}
	e.stages = append(e.stages, fallbackStage{})
	return e
}

// SetClock replaces the time source of the engine and its store.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
	e.store.SetClock(now)
}

func (e *Engine) clock() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.now()
}

// Store returns the template store.
func (e *Engine) Store() *template.Store {
	return e.store
}

// Tracker returns the rejection tracker.
func (e *Engine) Tracker() *feedback.Tracker {
	return e.tracker
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Process runs message through the cascade. The first stage that resolves
// wins. Empty messages and messages without an amount yield an outcome with
// no draft.
func (e *Engine) Process(ctx context.Context, message, senderHint string) (Outcome, error) {
	if strings.TrimSpace(message) == "" {
		return Outcome{}, nil
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	now := e.clock()
	out := Outcome{TemplateHash: structure.ComputeTemplateHash(message)}

	if !extract.HasAmountCandidate(message) {
		slog.Debug("No amount candidate in message", "template_hash", out.TemplateHash)
		e.record(ctx, message, senderHint, now, out)
		return out, nil
	}

	req := &request{message: message, sender: senderHint, now: now}
	for _, st := range e.stages {
		res, err := st.Resolve(ctx, req)
		if err != nil {
			return Outcome{}, fmt.Errorf("%s stage failed: %w", st.Origin(), err)
		}
		if res == nil {
			continue
		}
		out = e.finish(out, res)
		break
	}
	if out.Origin != model.OriginTemplate {
		out.FallbackTemplate = req.fallback
	}

	slog.Debug("Processed message",
		"origin", out.Origin,
		"confidence", out.Confidence,
		"matched", out.Matched,
		"should_train", out.ShouldTrain)

	if e.config.SaveAutomatically && out.Matched && out.Origin == model.OriginTemplate && out.Entry != nil {
		if err := e.store.Reinforce(ctx, out.Entry.ID, out.Confidence); err != nil {
			slog.Warn("Failed to reinforce template", "id", out.Entry.ID, "error", err)
		}
	}

	e.record(ctx, message, senderHint, now, out)
	return out, nil
}

// finish turns a stage resolution into the outcome.
func (e *Engine) finish(out Outcome, res *resolution) Outcome {
	draft := res.draft
	draft.Origin = res.origin
	if draft.Currency == "" {
		draft.Currency = e.config.DefaultCurrency
	}
	draft.Normalize()

	out.Draft = &draft
	out.Entry = res.entry
	out.Tokens = res.tokens
	out.Origin = res.origin
	out.Confidence = res.confidence
	out.Matched = res.confidence >= e.store.Options().MinConfidenceThreshold
	out.ShouldTrain = res.origin == model.OriginFallback || res.confidence < trainBelow
	return out
}

func (e *Engine) record(ctx context.Context, message, senderHint string, now time.Time, out Outcome) {
	if e.attempts == nil {
		return
	}
	attempt := storage.Attempt{
		AttemptedAt:  now,
		MessageHash:  MessageHash(message),
		TemplateHash: out.TemplateHash,
		SenderHint:   senderHint,
		Origin:       out.Origin,
		Confidence:   out.Confidence,
		Matched:      out.Matched,
		ShouldTrain:  out.ShouldTrain,
	}
	if out.Entry != nil {
		attempt.EntryID = out.Entry.ID
	}
	if err := e.attempts.RecordAttempt(ctx, attempt); err != nil {
		slog.Warn("Failed to record match attempt", "error", err)
	}
}

// MessageHash identifies a message in the attempt log.
func MessageHash(message string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(message))
}

// Confirm learns from a draft a person accepted for message. tokens may be
// nil, in which case they are derived from the message. When learning is
// disabled nothing is stored and the returned entry is nil.
func (e *Engine) Confirm(
	ctx context.Context,
	message, senderHint string,
	draft model.TransactionDraft,
	tokens *model.FieldTokenMap,
) (*model.LearnedEntry, error) {
	if !e.config.Enabled {
		slog.Debug("Learning disabled, confirmation ignored")
		return nil, nil
	}

	entry, err := e.store.LearnFromTransaction(ctx, message, draft.ConfirmedFields(), senderHint, tokens, model.SourceUserExplicit)
	if err != nil {
		return nil, err
	}
	if t, ok := e.extractor.(Trainer); ok {
		t.Train([]model.LearnedEntry{*entry})
	}
	return entry, nil
}

// TrainExtractor feeds every stored entry to the statistical extractor.
func (e *Engine) TrainExtractor(ctx context.Context) error {
	t, ok := e.extractor.(Trainer)
	if !ok {
		return nil
	}
	entries, err := e.store.Entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to load entries for training: %w", err)
	}
	t.Train(entries)
	return nil
}

// Reject records that the engine's answer for message was wrong and returns
// the rejection count for its template.
func (e *Engine) Reject(message, senderHint string) int {
	return e.tracker.RecordRejection(structure.ComputeTemplateHash(message), senderHint)
}

// NeedsAnnotation reports whether message's template has been rejected often
// enough that a person should label it.
func (e *Engine) NeedsAnnotation(message, senderHint string) bool {
	return e.tracker.NeedsAnnotation(structure.ComputeTemplateHash(message), senderHint)
}
