package ml

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/extract"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor() *BayesExtractor {
	ref := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	return NewBayesExtractor(Options{Now: func() time.Time { return ref }, DateOrder: extract.MonthFirst})
}

func TestBayesExtractor_Extract(t *testing.T) {
	b := newTestExtractor()

	p, err := b.Extract(context.Background(), "You spent $50 at The Coffee Shop on 03/15/2024", false)
	require.NoError(t, err)

	require.NotNil(t, p.Amount)
	assert.True(t, decimal.NewFromInt(50).Equal(*p.Amount))
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, "Coffee Shop", p.Vendor)
	assert.Equal(t, model.TypeExpense, p.Type)
	assert.Greater(t, p.TypeProbability, 0.0)
	require.NotNil(t, p.Date)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), *p.Date)
}

func TestBayesExtractor_Income(t *testing.T) {
	b := newTestExtractor()

	p, err := b.Extract(context.Background(), "Salary of EGP 10,000.00 credited to your account **4421", false)
	require.NoError(t, err)
	assert.Equal(t, model.TypeIncome, p.Type)
	assert.Equal(t, "EGP", p.Currency)
	assert.Equal(t, "**4421", p.Account)
	require.NotNil(t, p.Amount)
	assert.True(t, decimal.NewFromInt(10000).Equal(*p.Amount))
}

func TestBayesExtractor_Arabic(t *testing.T) {
	b := newTestExtractor()

	p, err := b.Extract(context.Background(), "تم خصم مبلغ ١٥٠ جنيه لدى كارفور", false)
	require.NoError(t, err)
	assert.Equal(t, model.TypeExpense, p.Type)
	assert.Equal(t, "EGP", p.Currency)
	assert.Equal(t, "كارفور", p.Vendor)
	require.NotNil(t, p.Amount)
	assert.True(t, decimal.NewFromInt(150).Equal(*p.Amount))
}

func TestBayesExtractor_HighAccuracy(t *testing.T) {
	b := newTestExtractor()
	messages := []string{
		"You spent $50 at The Coffee Shop",
		"Amount 50",
		"Blorp 20 USD",
	}
	for _, msg := range messages {
		p, err := b.Extract(context.Background(), msg, true)
		require.NoError(t, err, msg)
		if p.Type != "" {
			assert.GreaterOrEqual(t, p.TypeProbability, HighAccuracyPosterior, msg)
		}
	}
}

func TestBayesExtractor_NoAmount(t *testing.T) {
	b := newTestExtractor()
	_, err := b.Extract(context.Background(), "Your card is ready for pickup", false)
	assert.ErrorIs(t, err, common.ErrNoAmount)
	assert.ErrorIs(t, err, common.ErrExtractorFailed)
}

func TestBayesExtractor_CanceledContext(t *testing.T) {
	b := newTestExtractor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Extract(ctx, "You spent $50 at Shop", false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBayesExtractor_TrainAndReset(t *testing.T) {
	b := newTestExtractor()
	msg := "Qux blorp 50 USD"

	before, err := b.Extract(context.Background(), msg, false)
	require.NoError(t, err)
	assert.Equal(t, model.TypeExpense, before.Type)

	entries := make([]model.LearnedEntry, 10)
	for i := range entries {
		entries[i] = model.LearnedEntry{
			RawMessage: "Blorp qux 10 USD",
			ConfirmedFields: model.ConfirmedFields{
				Type:   model.TypeIncome,
				Amount: decimal.NewFromInt(10),
			},
		}
	}
	entries = append(entries, model.LearnedEntry{RawMessage: "ignored", ConfirmedFields: model.ConfirmedFields{Type: "bogus"}})
	b.Train(entries)
	assert.Equal(t, 10, b.Trained())

	after, err := b.Extract(context.Background(), msg, false)
	require.NoError(t, err)
	assert.Equal(t, model.TypeIncome, after.Type)

	b.Reset()
	assert.Zero(t, b.Trained())
	reset, err := b.Extract(context.Background(), msg, false)
	require.NoError(t, err)
	assert.Equal(t, model.TypeExpense, reset.Type)
}

func TestFeatures(t *testing.T) {
	assert.Equal(t, []string{"spent", "#", "at", "shop"}, features("Spent 12.50 at SHOP!"))
	assert.Equal(t, []string{"amount", "#"}, features("amount #"))
}
