// Package structure reduces messages to value-free skeletons so that
// notifications from the same template share a hash.
package structure

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/smsledger/internal/extract"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/cespare/xxhash/v2"
)

// Placeholder text for each variable field.
const (
	PlaceholderAmount   = "<amt>"
	PlaceholderCurrency = "<cur>"
	PlaceholderDate     = "<date>"
	PlaceholderAccount  = "<acct>"
	PlaceholderVendor   = "<vendor>"
	digitPlaceholder    = "#"
)

var placeholders = map[model.Field]string{
	model.FieldAmount:   PlaceholderAmount,
	model.FieldCurrency: PlaceholderCurrency,
	model.FieldDate:     PlaceholderDate,
	model.FieldAccount:  PlaceholderAccount,
	model.FieldVendor:   PlaceholderVendor,
}

// Slot is a variable span of a message assigned to a field role.
type Slot struct {
	Field model.Field
	Token model.PositionedToken
}

// Layout returns the variable spans of message in reading order. Where
// extractors disagree, dates win over accounts, accounts over currencies,
// currencies over amounts and amounts over vendors.
func Layout(message string) []Slot {
	groups := []struct {
		field  model.Field
		tokens []model.PositionedToken
	}{
		{model.FieldDate, extract.ExtractDateTokens(message)},
		{model.FieldAccount, extract.ExtractAccountTokens(message)},
		{model.FieldCurrency, extract.ExtractCurrencyTokens(message)},
		{model.FieldAmount, extract.BareAmountTokens(message)},
		{model.FieldVendor, extract.ExtractVendorTokens(message)},
	}

	var slots []Slot
	for _, g := range groups {
		for _, tok := range g.tokens {
			if overlapsAny(slots, tok) {
				continue
			}
			slots = append(slots, Slot{Field: g.field, Token: tok})
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Token.Position < slots[j].Token.Position })
	return slots
}

func overlapsAny(slots []Slot, tok model.PositionedToken) bool {
	for _, s := range slots {
		if tok.Position < s.Token.End() && s.Token.Position < tok.End() {
			return true
		}
	}
	return false
}

// Skeleton replaces variable spans with placeholders, remaining digit runs
// with "#", and lowercases and NFKC-folds the words. Word order and
// punctuation are preserved.
func Skeleton(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return ""
	}

	var parts []string
	emit := func(text string) {
		for _, tok := range extract.Tokenize(text) {
			if tok.Kind == extract.KindNumber {
				parts = append(parts, digitPlaceholder)
				continue
			}
			parts = append(parts, tok.Normalized())
		}
	}

	cursor := 0
	for _, slot := range Layout(message) {
		emit(message[cursor:slot.Token.Position])
		parts = append(parts, placeholders[slot.Field])
		cursor = slot.Token.End()
	}
	emit(message[cursor:])

	return strings.Join(parts, " ")
}

// HashSkeleton returns the 16 hex digit xxhash64 of a skeleton.
func HashSkeleton(skeleton string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(skeleton))
}

// ComputeTemplateHash returns the structural hash of message. Messages that
// differ only in amounts, dates, accounts, currencies, vendors or other digits
// share a hash.
func ComputeTemplateHash(message string) string {
	return HashSkeleton(Skeleton(message))
}

// Roles returns the field order of message's variable spans.
func Roles(message string) []model.Field {
	layout := Layout(message)
	roles := make([]model.Field, 0, len(layout))
	for _, s := range layout {
		roles = append(roles, s.Field)
	}
	return roles
}

// BuildTemplate derives the generalized template of a learned entry.
func BuildTemplate(entry *model.LearnedEntry) model.StructureTemplate {
	skeleton := Skeleton(entry.RawMessage)
	hash := entry.TemplateHash
	if hash == "" {
		hash = HashSkeleton(skeleton)
	}
	defaults := entry.ConfirmedFields
	fields := entry.FieldTokenMap.Fields()
	if fields == nil {
		fields = []model.Field{}
	}
	return model.StructureTemplate{
		CreatedAt:     entry.Timestamp,
		DefaultValues: &defaults,
		Hash:          hash,
		Structure:     skeleton,
		Fields:        fields,
	}
}
