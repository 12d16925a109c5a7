package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/smsledger/internal/model"
	"github.com/Veraticus/smsledger/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	err     error
	entries []model.LearnedEntry
}

func (f fakeSource) Entries(context.Context) ([]model.LearnedEntry, error) {
	return f.entries, f.err
}

func conf(v float64) *float64 { return &v }

func testEntries() []model.LearnedEntry {
	events := func(n int) []model.ConfirmationEvent {
		out := make([]model.ConfirmationEvent, n)
		for i := range out {
			out[i] = model.ConfirmationEvent{Source: model.SourceUserExplicit}
		}
		return out
	}
	return []model.LearnedEntry{
		{
			ID:                  "a",
			TemplateHash:        "h1",
			UserConfirmed:       true,
			Confidence:          conf(0.755),
			ConfirmationHistory: events(2),
			ConfirmedFields:     model.ConfirmedFields{Vendor: "Coffee Shop"},
			FieldTokenMap: model.FieldTokenMap{
				Amount: []model.PositionedToken{{Token: "50"}},
				Vendor: []model.PositionedToken{{Token: "Coffee"}, {Token: "Shop"}},
			},
		},
		{
			ID:                  "b",
			TemplateHash:        "h2",
			UserConfirmed:       true,
			Confidence:          conf(0.65),
			ConfirmationHistory: events(1),
			FieldTokenMap: model.FieldTokenMap{
				Amount: []model.PositionedToken{{Token: "200"}},
			},
		},
		{
			ID:                  "c",
			TemplateHash:        "h3",
			Confidence:          conf(0.9),
			ConfirmationHistory: events(4),
		},
	}
}

func testAttempts() []storage.Attempt {
	return []storage.Attempt{
		{TemplateHash: "h7", EntryID: "b", Origin: model.OriginTemplate, Matched: true},
		{TemplateHash: "h7", EntryID: "b", Origin: model.OriginStructure, Matched: true},
		{TemplateHash: "h2", Origin: model.OriginStructure, Matched: true},
		{TemplateHash: "h9", Origin: model.OriginML},
		{TemplateHash: "h9", Origin: model.OriginFallback},
		{TemplateHash: "h8"},
	}
}

func TestSummarize(t *testing.T) {
	r := Summarize(testEntries(), testAttempts(), 0.7, 2)

	assert.Equal(t, 3, r.TotalTemplates)
	assert.Equal(t, 1, r.ReadyTemplates)
	assert.Equal(t, 6, r.Attempts)
	assert.Equal(t, 3, r.Successes)
	assert.Equal(t, 1, r.Fallbacks)
	assert.Equal(t, 1, r.NoDraft)
	assert.Equal(t, 1, r.ByOrigin[model.OriginTemplate])
	assert.Equal(t, 2, r.ByOrigin[model.OriginStructure])
	assert.Equal(t, 1, r.ByOrigin[model.OriginML])
	assert.InDelta(t, 4.0/6.0, r.Efficiency(), 1e-9)

	amount := r.Field(model.FieldAmount)
	assert.InDelta(t, 100*2.0/3.0, amount.Coverage, 1e-9)
	assert.InDelta(t, 1.0, amount.AverageTokens, 1e-9)
	vendor := r.Field(model.FieldVendor)
	assert.InDelta(t, 100.0/3.0, vendor.Coverage, 1e-9)
	assert.InDelta(t, 2.0, vendor.AverageTokens, 1e-9)
	assert.Zero(t, r.Field(model.FieldDate).Coverage)
	assert.Len(t, r.Fields, len(model.AllFields))

	require.Len(t, r.TopTemplates, 2)
	assert.Equal(t, "b", r.TopTemplates[0].ID)
	assert.Equal(t, 3, r.TopTemplates[0].Hits)
	assert.Equal(t, 4, r.TopTemplates[0].Score())
	assert.Equal(t, "c", r.TopTemplates[1].ID)
}

func TestSummarize_CreditsResolvedEntry(t *testing.T) {
	entries := []model.LearnedEntry{
		{ID: "a", TemplateHash: "h1", Confidence: conf(0.7)},
		{ID: "d", TemplateHash: "h1", Confidence: conf(0.7)},
	}
	attempts := []storage.Attempt{
		{TemplateHash: "h5", EntryID: "a", Origin: model.OriginTemplate, Matched: true},
		{TemplateHash: "h6", EntryID: "a", Origin: model.OriginStructure, Matched: true},
		{TemplateHash: "h1", Origin: model.OriginStructure, Matched: true},
	}

	r := Summarize(entries, attempts, 0.7, 0)
	require.Len(t, r.TopTemplates, 2)
	assert.Equal(t, "a", r.TopTemplates[0].ID)
	assert.Equal(t, 3, r.TopTemplates[0].Hits)
	assert.Equal(t, "d", r.TopTemplates[1].ID)
	assert.Equal(t, 1, r.TopTemplates[1].Hits)
}

func TestSummarize_Empty(t *testing.T) {
	r := Summarize(nil, nil, 0.7, DefaultTopTemplates)
	assert.Zero(t, r.Efficiency())
	assert.Empty(t, r.TopTemplates)
	for _, fs := range r.Fields {
		assert.Zero(t, fs.Coverage)
		assert.Zero(t, fs.AverageTokens)
	}
}

func TestAggregator_Report(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStorage()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, at := range testAttempts() {
		at.AttemptedAt = base.Add(time.Duration(i) * 24 * time.Hour)
		at.MessageHash = "m"
		require.NoError(t, mem.RecordAttempt(ctx, at))
	}

	agg := New(fakeSource{entries: testEntries()}, mem, 0.7)
	agg.SetTop(1)

	since := base.Add(24 * time.Hour)
	until := base.Add(4 * 24 * time.Hour)
	r, err := agg.Report(ctx, since, until)
	require.NoError(t, err)

	assert.Equal(t, since, r.Since)
	assert.Equal(t, until, r.Until)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, 2, r.ByOrigin[model.OriginStructure])
	assert.Equal(t, 1, r.ByOrigin[model.OriginML])
	require.Len(t, r.TopTemplates, 1)
	assert.Equal(t, "c", r.TopTemplates[0].ID)
}

func TestAggregator_Errors(t *testing.T) {
	boom := errors.New("boom")
	agg := New(fakeSource{err: boom}, nil, 0.7)
	_, err := agg.Report(context.Background(), time.Time{}, time.Time{})
	assert.ErrorIs(t, err, boom)

	agg = New(fakeSource{entries: testEntries()}, nil, 0.7)
	r, err := agg.Report(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, r.Attempts)
	assert.Equal(t, 3, r.TotalTemplates)
}
