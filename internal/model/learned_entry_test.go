package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validEntry() LearnedEntry {
	conf := 0.65
	return LearnedEntry{
		ID:           "entry-1",
		RawMessage:   coffeeMessage,
		TemplateHash: "abc123",
		Timestamp:    time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Confidence:   &conf,
		ConfirmedFields: ConfirmedFields{
			Amount:   decimal.NewFromInt(-50),
			Type:     TypeExpense,
			Currency: "USD",
			Vendor:   "Coffee Shop",
			Category: "Dining",
		},
		FieldTokenMap: FieldTokenMap{
			Amount: []PositionedToken{{Token: "50", Position: 10}},
		},
		ConfirmationHistory: []ConfirmationEvent{
			{Timestamp: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), Source: SourceUserExplicit},
		},
		UserConfirmed: true,
	}
}

func TestLearnedEntry_Validate(t *testing.T) {
	tests := []struct {
		mutate  func(e *LearnedEntry)
		wantErr error
		name    string
	}{
		{name: "valid", mutate: func(*LearnedEntry) {}},
		{name: "missing id", mutate: func(e *LearnedEntry) { e.ID = " " }, wantErr: ErrInvalidEntry},
		{name: "missing message", mutate: func(e *LearnedEntry) { e.RawMessage = "" }, wantErr: ErrInvalidEntry},
		{name: "missing hash", mutate: func(e *LearnedEntry) { e.TemplateHash = "" }, wantErr: ErrInvalidEntry},
		{name: "zero amount", mutate: func(e *LearnedEntry) { e.ConfirmedFields.Amount = decimal.Zero }, wantErr: ErrMissingAmount},
		{name: "positive expense", mutate: func(e *LearnedEntry) { e.ConfirmedFields.Amount = decimal.NewFromInt(50) }, wantErr: ErrAmountSign},
		{name: "bad type", mutate: func(e *LearnedEntry) { e.ConfirmedFields.Type = "refund" }, wantErr: ErrInvalidEntry},
		{name: "confidence out of range", mutate: func(e *LearnedEntry) { c := 1.5; e.Confidence = &c }, wantErr: ErrInvalidEntry},
		{name: "unknown source", mutate: func(e *LearnedEntry) { e.ConfirmationHistory[0].Source = "robot" }, wantErr: ErrInvalidEntry},
		{name: "token not in message", mutate: func(e *LearnedEntry) { e.FieldTokenMap.Amount[0].Position = 3 }, wantErr: ErrInvalidEntry},
		{
			name: "unconfirmed entries skip field checks",
			mutate: func(e *LearnedEntry) {
				e.UserConfirmed = false
				e.ConfirmedFields.Amount = decimal.Zero
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEntry()
			tt.mutate(&e)
			err := e.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfirmedFields_Normalize(t *testing.T) {
	c := ConfirmedFields{Amount: decimal.NewFromInt(150), Type: TypeExpense, Currency: " egp ", Vendor: " Carrefour "}
	c.Normalize()
	assert.True(t, decimal.NewFromInt(-150).Equal(c.Amount))
	assert.Equal(t, "EGP", c.Currency)
	assert.Equal(t, "Carrefour", c.Vendor)
	assert.Equal(t, DefaultCategory, c.Category)
	assert.NoError(t, c.Validate())
}

func TestLearnedEntry_Accessors(t *testing.T) {
	e := validEntry()
	later := e.Timestamp.Add(48 * time.Hour)
	e.ConfirmationHistory = append(e.ConfirmationHistory, ConfirmationEvent{Timestamp: later, Source: SourceAuto})

	assert.Equal(t, later, e.LastConfirmedAt())
	assert.Equal(t, 2, e.Confirmations())
	assert.InDelta(t, 0.65, e.ConfidenceValue(), 1e-9)

	e.Confidence = nil
	e.ConfirmationHistory = nil
	assert.Zero(t, e.ConfidenceValue())
	assert.Equal(t, e.Timestamp, e.LastConfirmedAt())
}

func TestConfirmationSource_Valid(t *testing.T) {
	for _, s := range []ConfirmationSource{SourceAuto, SourceUserExplicit, SourceSystem, SourceSystemMigration} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, ConfirmationSource("manual").Valid())
}
