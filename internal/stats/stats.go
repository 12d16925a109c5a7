// Package stats summarizes the learned template bank and the match attempts
// recorded by the engine.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Veraticus/smsledger/internal/model"
	"github.com/Veraticus/smsledger/internal/storage"
)

// DefaultTopTemplates is the number of templates listed in a report.
const DefaultTopTemplates = 5

// EntrySource provides the learned entries to summarize.
type EntrySource interface {
	Entries(ctx context.Context) ([]model.LearnedEntry, error)
}

// Report is a summary over a time window.
type Report struct {
	Since        time.Time
	Until        time.Time
	ByOrigin     map[model.Origin]int
	Fields       []FieldStat
	TopTemplates []TemplateStat

	TotalTemplates int
	ReadyTemplates int
	Attempts       int
	Successes      int
	Fallbacks      int
	NoDraft        int
}

// FieldStat describes how well learned entries support one field.
type FieldStat struct {
	Field model.Field
	// Coverage is the percentage of entries with at least one token.
	Coverage float64
	// AverageTokens is the mean token count over entries that have the slot.
	AverageTokens float64
}

// TemplateStat ranks a learned entry by use.
type TemplateStat struct {
	ID            string
	TemplateHash  string
	Vendor        string
	Hits          int
	Confirmations int
	Confidence    float64
}

// Score is the ranking key.
func (t TemplateStat) Score() int {
	return t.Hits + t.Confirmations
}

// Efficiency is the share of attempts resolved without the fallback.
func (r Report) Efficiency() float64 {
	if r.Attempts == 0 {
		return 0
	}
	resolved := r.ByOrigin[model.OriginTemplate] + r.ByOrigin[model.OriginStructure] + r.ByOrigin[model.OriginML]
	return float64(resolved) / float64(r.Attempts)
}

// Field returns the statistics for f.
func (r Report) Field(f model.Field) FieldStat {
	for _, fs := range r.Fields {
		if fs.Field == f {
			return fs
		}
	}
	return FieldStat{Field: f}
}

// Aggregator builds reports from a template source and an attempt log.
type Aggregator struct {
	entries   EntrySource
	attempts  storage.AttemptLog
	threshold float64
	top       int
}

// New creates an aggregator. Entries whose confidence reaches threshold and
// that a person confirmed count as ready.
func New(entries EntrySource, attempts storage.AttemptLog, threshold float64) *Aggregator {
	return &Aggregator{
		entries:   entries,
		attempts:  attempts,
		threshold: threshold,
		top:       DefaultTopTemplates,
	}
}

// SetTop changes how many templates are ranked.
func (a *Aggregator) SetTop(n int) {
	if n > 0 {
		a.top = n
	}
}

// Report summarizes entries and the attempts in [since, until). Zero bounds
// are open.
func (a *Aggregator) Report(ctx context.Context, since, until time.Time) (*Report, error) {
	entries, err := a.entries.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load learned entries: %w", err)
	}

	var attempts []storage.Attempt
	if a.attempts != nil {
		attempts, err = a.attempts.Attempts(ctx, since, until)
		if err != nil {
			return nil, fmt.Errorf("failed to load match attempts: %w", err)
		}
	}

	r := Summarize(entries, attempts, a.threshold, a.top)
	r.Since = since
	r.Until = until
	return &r, nil
}

// Summarize computes a report from already loaded data.
func Summarize(entries []model.LearnedEntry, attempts []storage.Attempt, threshold float64, top int) Report {
	r := Report{
		ByOrigin:       make(map[model.Origin]int, len(model.Origins)),
		TotalTemplates: len(entries),
		Attempts:       len(attempts),
	}

	h := hits{byEntry: make(map[string]int), byHash: make(map[string]int)}
	for _, at := range attempts {
		if at.Origin == "" {
			r.NoDraft++
			continue
		}
		r.ByOrigin[at.Origin]++
		if at.Origin == model.OriginFallback {
			r.Fallbacks++
		}
		if at.Matched {
			r.Successes++
		}
		if at.Origin == model.OriginTemplate || at.Origin == model.OriginStructure {
			h.add(at)
		}
	}

	for i := range entries {
		if entries[i].UserConfirmed && entries[i].ConfidenceValue() >= threshold {
			r.ReadyTemplates++
		}
	}

	r.Fields = fieldStats(entries)
	r.TopTemplates = topTemplates(entries, h, top)
	return r
}

func fieldStats(entries []model.LearnedEntry) []FieldStat {
	out := make([]FieldStat, 0, len(model.AllFields))
	for _, f := range model.AllFields {
		fs := FieldStat{Field: f}
		withSlot, tokens := 0, 0
		for i := range entries {
			if n := len(entries[i].FieldTokenMap.Slot(f)); n > 0 {
				withSlot++
				tokens += n
			}
		}
		if len(entries) > 0 {
			fs.Coverage = 100 * float64(withSlot) / float64(len(entries))
		}
		if withSlot > 0 {
			fs.AverageTokens = float64(tokens) / float64(withSlot)
		}
		out = append(out, fs)
	}
	return out
}

// hits counts template and structure resolutions per learned entry.
// Attempts logged before entry IDs were recorded only carry the message's
// template hash and are credited to every entry sharing it.
type hits struct {
	byEntry map[string]int
	byHash  map[string]int
}

func (h hits) add(at storage.Attempt) {
	if at.EntryID != "" {
		h.byEntry[at.EntryID]++
		return
	}
	h.byHash[at.TemplateHash]++
}

func (h hits) of(e *model.LearnedEntry) int {
	return h.byEntry[e.ID] + h.byHash[e.TemplateHash]
}

// topTemplates ranks entries by hits plus confirmations.
func topTemplates(entries []model.LearnedEntry, h hits, top int) []TemplateStat {
	stats := make([]TemplateStat, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		stats = append(stats, TemplateStat{
			ID:            e.ID,
			TemplateHash:  e.TemplateHash,
			Vendor:        e.ConfirmedFields.Vendor,
			Hits:          h.of(e),
			Confirmations: e.Confirmations(),
			Confidence:    e.ConfidenceValue(),
		})
	}
	sort.SliceStable(stats, func(i, j int) bool {
		if si, sj := stats[i].Score(), stats[j].Score(); si != sj {
			return si > sj
		}
		return stats[i].ID < stats[j].ID
	})
	if top > 0 && len(stats) > top {
		stats = stats[:top]
	}
	return stats
}
