// Package feedback counts rejected template matches so that templates which
// keep failing for a sender can be handed back to a person.
package feedback

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// DefaultThreshold is the rejection count at which annotation is requested.
const DefaultThreshold = 3

type key struct {
	templateHash string
	sender       string
}

// Tracker holds per-template, per-sender rejection counts in memory.
type Tracker struct {
	counts    map[key]int
	threshold int
	mu        sync.Mutex
}

// NewTracker creates a tracker; thresholds below 1 use DefaultThreshold.
func NewTracker(threshold int) *Tracker {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Tracker{
		counts:    make(map[key]int),
		threshold: threshold,
	}
}

func newKey(templateHash, senderHint string) key {
	return key{templateHash: templateHash, sender: strings.ToLower(strings.TrimSpace(senderHint))}
}

// RecordRejection increments the counter for the pair and returns the new count.
func (t *Tracker) RecordRejection(templateHash, senderHint string) int {
	k := newKey(templateHash, senderHint)

	t.mu.Lock()
	t.counts[k]++
	n := t.counts[k]
	t.mu.Unlock()

	if n == t.threshold {
		slog.Info("Template needs annotation",
			"template_hash", templateHash,
			"sender", senderHint,
			"rejections", n)
	}
	return n
}

// Count returns the current counter for the pair.
func (t *Tracker) Count(templateHash, senderHint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[newKey(templateHash, senderHint)]
}

// NeedsAnnotation reports whether the pair has reached the threshold.
func (t *Tracker) NeedsAnnotation(templateHash, senderHint string) bool {
	return t.Count(templateHash, senderHint) >= t.threshold
}

// Reset clears the counter for the pair.
func (t *Tracker) Reset(templateHash, senderHint string) {
	t.mu.Lock()
	delete(t.counts, newKey(templateHash, senderHint))
	t.mu.Unlock()
}

// OnLearned resets the pair after a template is learned again.
func (t *Tracker) OnLearned(templateHash, senderHint string) {
	t.Reset(templateHash, senderHint)
}

// Threshold returns the configured annotation threshold.
func (t *Tracker) Threshold() int {
	return t.threshold
}

// Count is one persisted counter.
type Count struct {
	TemplateHash string `json:"templateHash"`
	Sender       string `json:"sender,omitempty"`
	Rejections   int    `json:"rejections"`
}

// Snapshot returns every non-zero counter, ordered by template hash and sender.
func (t *Tracker) Snapshot() []Count {
	t.mu.Lock()
	out := make([]Count, 0, len(t.counts))
	for k, n := range t.counts {
		if n > 0 {
			out = append(out, Count{TemplateHash: k.templateHash, Sender: k.sender, Rejections: n})
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TemplateHash != out[j].TemplateHash {
			return out[i].TemplateHash < out[j].TemplateHash
		}
		return out[i].Sender < out[j].Sender
	})
	return out
}

// Restore replaces all counters with counts.
func (t *Tracker) Restore(counts []Count) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = make(map[key]int, len(counts))
	for _, c := range counts {
		if c.Rejections > 0 && c.TemplateHash != "" {
			t.counts[newKey(c.TemplateHash, c.Sender)] = c.Rejections
		}
	}
}
