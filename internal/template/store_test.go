package template

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/Veraticus/smsledger/internal/storage"
	"github.com/Veraticus/smsledger/internal/structure"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	coffeeFirst  = "You spent $50 at The Coffee Shop on 03/15/2024"
	coffeeSecond = "You spent $75 at The Coffee Shop on 04/01/2024"
	salary       = "Salary of USD 1,000.00 credited to your account"
	atm          = "ATM withdrawal of EGP 200 done"
)

// testClock is a settable time source.
type testClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts Options) (*Store, *storage.MemoryStorage, *testClock) {
	t.Helper()
	adapter := storage.NewMemoryStorage()
	clock := &testClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	s := NewWithOptions(adapter, opts)
	s.SetClock(clock.Now)

	var n int
	var mu sync.Mutex
	s.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("entry-%d", n)
	}
	return s, adapter, clock
}

func coffeeConfirmed() model.ConfirmedFields {
	return model.ConfirmedFields{
		Type:     model.TypeExpense,
		Amount:   decimal.NewFromInt(50),
		Vendor:   "Coffee Shop",
		Account:  "Checking",
		Currency: "USD",
	}
}

type recordingObserver struct {
	calls []string
	mu    sync.Mutex
}

func (o *recordingObserver) OnLearned(hash, sender string) {
	o.mu.Lock()
	o.calls = append(o.calls, hash+"|"+sender)
	o.mu.Unlock()
}

func TestLearnFromTransaction_CreatesEntry(t *testing.T) {
	s, _, clock := newTestStore(t, DefaultOptions())
	ctx := context.Background()

	entry, err := s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "BANK", nil, model.SourceUserExplicit)
	require.NoError(t, err)

	assert.Equal(t, "entry-1", entry.ID)
	assert.Equal(t, coffeeFirst, entry.RawMessage)
	assert.Equal(t, "BANK", entry.SenderHint)
	assert.Equal(t, structure.ComputeTemplateHash(coffeeFirst), entry.TemplateHash)
	assert.Equal(t, structure.Skeleton(coffeeFirst), entry.StructureSignature)
	assert.True(t, entry.UserConfirmed)
	assert.Equal(t, clock.Now(), entry.Timestamp)
	assert.InDelta(t, 0.65, entry.ConfidenceValue(), 1e-9)
	require.Len(t, entry.ConfirmationHistory, 1)
	assert.Equal(t, model.SourceUserExplicit, entry.ConfirmationHistory[0].Source)

	// Sign normalization and defaults.
	assert.True(t, decimal.NewFromInt(-50).Equal(entry.ConfirmedFields.Amount))
	assert.Equal(t, model.DefaultCategory, entry.ConfirmedFields.Category)

	require.NoError(t, entry.Validate())
	assert.Equal(t, "50", entry.FieldTokenMap.Amount[0].Token)
	assert.Equal(t, "$", entry.FieldTokenMap.Currency[0].Token)
	assert.Equal(t, "Coffee Shop", entry.FieldTokenMap.Vendor[0].Token)
	assert.Equal(t, "03/15/2024", entry.FieldTokenMap.Date[0].Token)
	assert.Equal(t, "spent", entry.FieldTokenMap.Type[0].Token)
	assert.Empty(t, entry.FieldTokenMap.Account)
}

func TestLearnFromTransaction_Idempotent(t *testing.T) {
	s, _, clock := newTestStore(t, DefaultOptions())
	ctx := context.Background()

	_, err := s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "BANK", nil, model.SourceUserExplicit)
	require.NoError(t, err)
	clock.Advance(time.Hour)
	second, err := s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "BANK", nil, model.SourceUserExplicit)
	require.NoError(t, err)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "entry-1", second.ID)
	assert.Len(t, entries[0].ConfirmationHistory, 2)
	assert.InDelta(t, 0.755, entries[0].ConfidenceValue(), 1e-9)
}

func TestLearnFromTransaction_SameTemplateUpserts(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	ctx := context.Background()

	_, err := s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "", nil, model.SourceUserExplicit)
	require.NoError(t, err)

	confirmed := coffeeConfirmed()
	confirmed.Amount = decimal.NewFromInt(75)
	entry, err := s.LearnFromTransaction(ctx, coffeeSecond, confirmed, "", nil, model.SourceUserExplicit)
	require.NoError(t, err)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, coffeeSecond, entry.RawMessage)
	assert.True(t, decimal.NewFromInt(-75).Equal(entry.ConfirmedFields.Amount))
	assert.Len(t, entry.ConfirmationHistory, 2)
}

func TestLearnFromTransaction_Validation(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	ctx := context.Background()

	_, err := s.LearnFromTransaction(ctx, "   ", coffeeConfirmed(), "", nil, model.SourceUserExplicit)
	assert.ErrorIs(t, err, common.ErrEmptyMessage)

	missing := coffeeConfirmed()
	missing.Amount = decimal.Zero
	_, err = s.LearnFromTransaction(ctx, coffeeFirst, missing, "", nil, model.SourceUserExplicit)
	assert.ErrorIs(t, err, model.ErrMissingAmount)

	badType := coffeeConfirmed()
	badType.Type = "gift"
	_, err = s.LearnFromTransaction(ctx, coffeeFirst, badType, "", nil, model.SourceUserExplicit)
	assert.ErrorIs(t, err, model.ErrInvalidEntry)

	_, err = s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "", nil, "robot")
	assert.ErrorIs(t, err, model.ErrInvalidEntry)

	bogus := &model.FieldTokenMap{Amount: []model.PositionedToken{{Token: "99", Position: 0}}}
	_, err = s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "", bogus, model.SourceUserExplicit)
	assert.ErrorIs(t, err, model.ErrInvalidEntry)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLearnFromTransaction_ExplicitTokens(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	tokens := &model.FieldTokenMap{Amount: []model.PositionedToken{{Token: "50", Position: 11}}}

	entry, err := s.LearnFromTransaction(context.Background(), coffeeFirst, coffeeConfirmed(), "", tokens, model.SourceUserExplicit)
	require.NoError(t, err)
	assert.Equal(t, *tokens, entry.FieldTokenMap)
}

func TestLearnFromTransaction_NotifiesObservers(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	obs := &recordingObserver{}
	s.AddObserver(obs)

	_, err := s.LearnFromTransaction(context.Background(), coffeeFirst, coffeeConfirmed(), "BANK", nil, model.SourceUserExplicit)
	require.NoError(t, err)
	assert.Equal(t, []string{structure.ComputeTemplateHash(coffeeFirst) + "|BANK"}, obs.calls)
}

func TestLearnFromTransaction_RoundTripThroughAdapter(t *testing.T) {
	s, adapter, _ := newTestStore(t, DefaultOptions())
	ctx := context.Background()

	learned, err := s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "BANK", nil, model.SourceUserExplicit)
	require.NoError(t, err)

	fresh := New(adapter)
	got, err := fresh.Entry(ctx, learned.ID)
	require.NoError(t, err)
	assert.Equal(t, learned.TemplateHash, got.TemplateHash)
	assert.Equal(t, learned.FieldTokenMap, got.FieldTokenMap)
	assert.True(t, learned.ConfirmedFields.Amount.Equal(got.ConfirmedFields.Amount))

	_, err = fresh.Entry(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestEviction_LeastRecentlyConfirmed(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxEntries = 2
	s, _, clock := newTestStore(t, opts)
	ctx := context.Background()

	income := model.ConfirmedFields{Type: model.TypeIncome, Amount: decimal.NewFromInt(1000), Currency: "USD"}
	withdrawal := model.ConfirmedFields{Type: model.TypeExpense, Amount: decimal.NewFromInt(200), Currency: "EGP"}

	first, err := s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "", nil, model.SourceUserExplicit)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := s.LearnFromTransaction(ctx, salary, income, "", nil, model.SourceUserExplicit)
	require.NoError(t, err)

	// Confirming the first entry again makes the second the stalest.
	clock.Advance(time.Minute)
	_, err = s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "", nil, model.SourceUserExplicit)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	third, err := s.LearnFromTransaction(ctx, atm, withdrawal, "", nil, model.SourceUserExplicit)
	require.NoError(t, err)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	ids := []string{entries[0].ID, entries[1].ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, third.ID)
	assert.NotContains(t, ids, second.ID)
}

func TestReinforce(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	ctx := context.Background()

	entry, err := s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "", nil, model.SourceUserExplicit)
	require.NoError(t, err)

	require.NoError(t, s.Reinforce(ctx, entry.ID, 0.9))
	got, err := s.Entry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, got.ConfirmationHistory, 2)
	assert.Equal(t, model.SourceAuto, got.ConfirmationHistory[1].Source)
	require.NotNil(t, got.ConfirmationHistory[1].Confidence)
	assert.InDelta(t, 0.9, *got.ConfirmationHistory[1].Confidence, 1e-9)
	assert.InDelta(t, 0.65+0.35*0.15, got.ConfidenceValue(), 1e-9)

	assert.ErrorIs(t, s.Reinforce(ctx, "missing", 0.9), common.ErrNotFound)
}

func TestClearLearnedEntries(t *testing.T) {
	s, adapter, _ := newTestStore(t, DefaultOptions())
	ctx := context.Background()

	_, err := s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "", nil, model.SourceUserExplicit)
	require.NoError(t, err)
	require.NoError(t, s.ClearLearnedEntries(ctx))

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = adapter.Get(ctx, storage.EntriesKey)
	assert.ErrorIs(t, err, common.ErrNotFound)

	res, err := s.FindBestMatch(ctx, coffeeFirst, "")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Nil(t, res.Entry)
}

func TestReload_SkipsCorruptedEntries(t *testing.T) {
	s, adapter, _ := newTestStore(t, DefaultOptions())
	ctx := context.Background()

	good, err := s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "", nil, model.SourceUserExplicit)
	require.NoError(t, err)

	bad := *good
	bad.ID = "bad"
	bad.ConfirmedFields.Amount = decimal.NewFromInt(50)
	payload, err := storage.EncodeEntries([]model.LearnedEntry{*good, bad}, time.Now())
	require.NoError(t, err)
	require.NoError(t, adapter.Update(ctx, storage.EntriesKey, func([]byte) ([]byte, error) { return payload, nil }))

	require.NoError(t, s.Reload(ctx))
	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, good.ID, entries[0].ID)
}

func TestReload_UnreadablePayloadStartsEmpty(t *testing.T) {
	s, adapter, _ := newTestStore(t, DefaultOptions())
	ctx := context.Background()
	require.NoError(t, adapter.Update(ctx, storage.EntriesKey, func([]byte) ([]byte, error) { return []byte("{oops"), nil }))

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Learning still works and replaces the unreadable payload.
	_, err = s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "", nil, model.SourceUserExplicit)
	require.NoError(t, err)
	entries, err = New(adapter).Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// The unreadable payload is kept aside rather than lost.
	kept, err := adapter.Get(ctx, storage.CorruptEntriesKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("{oops"), kept)
}

func TestLearn_ReadablePayloadIsNotCopiedAside(t *testing.T) {
	s, adapter, _ := newTestStore(t, DefaultOptions())
	ctx := context.Background()

	_, err := s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "", nil, model.SourceUserExplicit)
	require.NoError(t, err)
	_, err = s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "", nil, model.SourceUserExplicit)
	require.NoError(t, err)

	_, err = adapter.Get(ctx, storage.CorruptEntriesKey)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReload_MigratesLegacyPayload(t *testing.T) {
	s, adapter, _ := newTestStore(t, DefaultOptions())
	ctx := context.Background()

	learned, err := s.LearnFromTransaction(ctx, coffeeFirst, coffeeConfirmed(), "", nil, model.SourceUserExplicit)
	require.NoError(t, err)

	legacy := *learned
	legacy.ConfirmationHistory = nil
	legacy.Confidence = nil
	legacyPayload := fmt.Sprintf("[%s]", mustJSON(t, legacy))
	require.NoError(t, adapter.Update(ctx, storage.EntriesKey, func([]byte) ([]byte, error) { return []byte(legacyPayload), nil }))

	require.NoError(t, s.Reload(ctx))
	got, err := s.Entry(ctx, learned.ID)
	require.NoError(t, err)
	require.Len(t, got.ConfirmationHistory, 1)
	assert.Equal(t, model.SourceSystemMigration, got.ConfirmationHistory[0].Source)
	assert.InDelta(t, 0.55, got.ConfidenceValue(), 1e-9)

	raw, err := adapter.Get(ctx, storage.EntriesKey)
	require.NoError(t, err)
	assert.Equal(t, byte('{'), raw[0])
}

func TestConcurrentLearning(t *testing.T) {
	s, adapter, _ := newTestStore(t, DefaultOptions())
	ctx := context.Background()

	messages := []struct {
		text      string
		confirmed model.ConfirmedFields
	}{
		{coffeeFirst, coffeeConfirmed()},
		{salary, model.ConfirmedFields{Type: model.TypeIncome, Amount: decimal.NewFromInt(1000), Currency: "USD"}},
		{atm, model.ConfirmedFields{Type: model.TypeExpense, Amount: decimal.NewFromInt(-200), Currency: "EGP"}},
	}

	var wg sync.WaitGroup
	for _, m := range messages {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.LearnFromTransaction(ctx, m.text, m.confirmed, "", nil, model.SourceUserExplicit)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := New(adapter).Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, len(messages))
}
