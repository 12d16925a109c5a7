package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of money movement.
type TransactionType string

// Transaction type constants.
const (
	TypeExpense  TransactionType = "expense"
	TypeIncome   TransactionType = "income"
	TypeTransfer TransactionType = "transfer"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeExpense, TypeIncome, TypeTransfer:
		return true
	}
	return false
}

// ParseTransactionType converts user input into a TransactionType.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
	return t, nil
}

// NormalizeAmount applies the sign convention for t: expenses are negative
// and income is positive. Transfers keep their sign.
func NormalizeAmount(t TransactionType, amount decimal.Decimal) decimal.Decimal {
	switch t {
	case TypeExpense:
		return amount.Abs().Neg()
	case TypeIncome:
		return amount.Abs()
	}
	return amount
}

// Origin records which cascade stage produced a draft.
type Origin string

// Origin constants.
const (
	OriginTemplate  Origin = "template"
	OriginStructure Origin = "structure"
	OriginML        Origin = "ml"
	OriginFallback  Origin = "fallback"
)

// Origins lists every origin in cascade order.
var Origins = []Origin{OriginTemplate, OriginStructure, OriginML, OriginFallback}

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginTemplate, OriginStructure, OriginML, OriginFallback:
		return true
	}
	return false
}

// DefaultCategory is used when nothing better is known.
const DefaultCategory = "Uncategorized"

// DraftSource marks drafts produced from message text.
const DraftSource = "derived"

// TransactionDraft is the engine's proposed transaction for a message.
type TransactionDraft struct {
	Date             time.Time         `json:"date"`
	FieldConfidences map[Field]float64 `json:"fieldConfidences,omitempty"`
	Amount           decimal.Decimal   `json:"amount"`
	Currency         string            `json:"currency"`
	Type             TransactionType   `json:"type"`
	Vendor           string            `json:"vendor,omitempty"`
	Description      string            `json:"description,omitempty"`
	FromAccount      string            `json:"fromAccount,omitempty"`
	Category         string            `json:"category"`
	Subcategory      string            `json:"subcategory,omitempty"`
	Person           string            `json:"person,omitempty"`
	Source           string            `json:"source"`
	Origin           Origin            `json:"origin"`
}

// Normalize fills defaults and enforces the amount sign convention.
func (d *TransactionDraft) Normalize() {
	if d.Type == "" {
		d.Type = TypeExpense
	}
	d.Amount = NormalizeAmount(d.Type, d.Amount)
	if d.Category == "" {
		d.Category = DefaultCategory
	}
	if d.Source == "" {
		d.Source = DraftSource
	}
	if d.Description == "" {
		d.Description = d.Vendor
	}
}

// ConfirmedFields converts the draft into the fields a user confirms.
func (d TransactionDraft) ConfirmedFields() ConfirmedFields {
	return ConfirmedFields{
		Type:        d.Type,
		Amount:      d.Amount,
		Category:    d.Category,
		Subcategory: d.Subcategory,
		Account:     d.FromAccount,
		Currency:    d.Currency,
		Person:      d.Person,
		Vendor:      d.Vendor,
	}
}
