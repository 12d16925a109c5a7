package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Entry validation errors.
var (
	ErrInvalidEntry  = errors.New("invalid learned entry")
	ErrAmountSign    = errors.New("amount sign does not match transaction type")
	ErrMissingAmount = errors.New("confirmed amount is required")
)

// ConfirmationSource indicates who confirmed a learned entry.
type ConfirmationSource string

const (
	// SourceAuto is a confirmation recorded from a trusted template hit.
	SourceAuto ConfirmationSource = "auto"
	// SourceUserExplicit is a confirmation made by a person.
	SourceUserExplicit ConfirmationSource = "user-explicit"
	// SourceSystem is a confirmation recorded by the application itself.
	SourceSystem ConfirmationSource = "system"
	// SourceSystemMigration marks history synthesized while upgrading stored data.
	SourceSystemMigration ConfirmationSource = "system-migration"
)

// Valid reports whether s is a known confirmation source.
func (s ConfirmationSource) Valid() bool {
	switch s {
	case SourceAuto, SourceUserExplicit, SourceSystem, SourceSystemMigration:
		return true
	}
	return false
}

// ConfirmationEvent records one confirmation of a learned entry.
type ConfirmationEvent struct {
	Timestamp  time.Time          `json:"timestamp"`
	Confidence *float64           `json:"confidence,omitempty"`
	Source     ConfirmationSource `json:"source"`
}

// ConfirmedFields holds the transaction values a person accepted.
type ConfirmedFields struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory,omitempty"`
	Account     string          `json:"account"`
	Currency    string          `json:"currency"`
	Person      string          `json:"person,omitempty"`
	Vendor      string          `json:"vendor,omitempty"`
}

// Normalize fills defaults and applies the amount sign convention.
func (c *ConfirmedFields) Normalize() {
	c.Amount = NormalizeAmount(c.Type, c.Amount)
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	c.Vendor = strings.TrimSpace(c.Vendor)
	c.Account = strings.TrimSpace(c.Account)
	if c.Category == "" {
		c.Category = DefaultCategory
	}
}

// Validate checks the invariants of a confirmed transaction.
func (c *ConfirmedFields) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: type %q", ErrInvalidEntry, c.Type)
	}
	if c.Amount.IsZero() {
		return ErrMissingAmount
	}
	switch c.Type {
	case TypeExpense:
		if c.Amount.IsPositive() {
			return ErrAmountSign
		}
	case TypeIncome:
		if c.Amount.IsNegative() {
			return ErrAmountSign
		}
	}
	return nil
}

// LearnedEntry is a confirmed message template.
type LearnedEntry struct {
	Timestamp           time.Time           `json:"timestamp"`
	Confidence          *float64            `json:"confidence,omitempty"`
	ConfirmedFields     ConfirmedFields     `json:"confirmedFields"`
	ID                  string              `json:"id"`
	RawMessage          string              `json:"rawMessage"`
	SenderHint          string              `json:"senderHint"`
	TemplateHash        string              `json:"templateHash"`
	StructureSignature  string              `json:"structureSignature,omitempty"`
	Tokens              []string            `json:"tokens"`
	ConfirmationHistory []ConfirmationEvent `json:"confirmationHistory"`
	FieldTokenMap       FieldTokenMap       `json:"fieldTokenMap"`
	UserConfirmed       bool                `json:"userConfirmed"`
}

// Validate checks that the entry can be used for matching.
func (e *LearnedEntry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.RawMessage) == "" {
		return fmt.Errorf("%w: missing raw message", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.TemplateHash) == "" {
		return fmt.Errorf("%w: missing template hash", ErrInvalidEntry)
	}
	if e.UserConfirmed {
		if err := e.ConfirmedFields.Validate(); err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}
	}
	if e.Confidence != nil && (*e.Confidence < 0 || *e.Confidence > 1) {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidEntry, *e.Confidence)
	}
	for _, ev := range e.ConfirmationHistory {
		if !ev.Source.Valid() {
			return fmt.Errorf("%w: confirmation source %q", ErrInvalidEntry, ev.Source)
		}
	}
	if !e.FieldTokenMap.Valid(e.RawMessage) {
		return fmt.Errorf("%w: field tokens do not match raw message", ErrInvalidEntry)
	}
	return nil
}

// LastConfirmedAt returns the time of the most recent confirmation, or the
// entry timestamp when it has no history.
func (e *LearnedEntry) LastConfirmedAt() time.Time {
	last := e.Timestamp
	for _, ev := range e.ConfirmationHistory {
		if ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}
	return last
}

// ConfidenceValue returns the entry confidence, treating a missing value as 0.
func (e *LearnedEntry) ConfidenceValue() float64 {
	if e.Confidence == nil {
		return 0
	}
	return *e.Confidence
}

// Confirmations returns the number of recorded confirmations.
func (e *LearnedEntry) Confirmations() int {
	return len(e.ConfirmationHistory)
}
