package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name   string
		typ    TransactionType
		amount string
		want   string
	}{
		{name: "expense positive", typ: TypeExpense, amount: "50", want: "-50"},
		{name: "expense negative", typ: TypeExpense, amount: "-50", want: "-50"},
		{name: "income negative", typ: TypeIncome, amount: "-10000", want: "10000"},
		{name: "income positive", typ: TypeIncome, amount: "10000", want: "10000"},
		{name: "transfer keeps sign", typ: TypeTransfer, amount: "-75.25", want: "-75.25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeAmount(tt.typ, decimal.RequireFromString(tt.amount))
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParseTransactionType(t *testing.T) {
	for _, s := range []string{"expense", "income", "transfer"} {
		got, err := ParseTransactionType(s)
		require.NoError(t, err)
		assert.Equal(t, TransactionType(s), got)
	}
	_, err := ParseTransactionType("refund")
	assert.Error(t, err)
}

func TestOrigin_Valid(t *testing.T) {
	for _, o := range Origins {
		assert.True(t, o.Valid(), o)
	}
	assert.False(t, Origin("llm").Valid())
	assert.False(t, Origin("").Valid())
}

func TestTransactionDraft_Normalize(t *testing.T) {
	d := TransactionDraft{Amount: decimal.NewFromInt(50), Vendor: "Coffee Shop"}
	d.Normalize()

	assert.Equal(t, TypeExpense, d.Type)
	assert.True(t, decimal.NewFromInt(-50).Equal(d.Amount))
	assert.Equal(t, DefaultCategory, d.Category)
	assert.Equal(t, DraftSource, d.Source)
	assert.Equal(t, "Coffee Shop", d.Description)

	d = TransactionDraft{Amount: decimal.NewFromInt(-300), Type: TypeIncome, Category: "Salary", Description: "March"}
	d.Normalize()
	assert.True(t, decimal.NewFromInt(300).Equal(d.Amount))
	assert.Equal(t, "Salary", d.Category)
	assert.Equal(t, "March", d.Description)
}

func TestTransactionDraft_ConfirmedFields(t *testing.T) {
	d := TransactionDraft{
		Amount:      decimal.NewFromInt(-50),
		Type:        TypeExpense,
		Currency:    "USD",
		Vendor:      "Coffee Shop",
		FromAccount: "4421",
		Category:    "Dining",
		Person:      "Sam",
	}
	c := d.ConfirmedFields()
	assert.Equal(t, "4421", c.Account)
	assert.Equal(t, "Coffee Shop", c.Vendor)
	assert.Equal(t, "Dining", c.Category)
	assert.Equal(t, "Sam", c.Person)
	assert.NoError(t, c.Validate())

	// Callable on a value that is not addressable.
	c = TransactionDraft{Amount: decimal.NewFromInt(-50), Type: TypeExpense, Vendor: "Coffee Shop"}.ConfirmedFields()
	assert.Equal(t, "Coffee Shop", c.Vendor)
}
