package template

import (
	"strings"
	"unicode"

	"github.com/Veraticus/smsledger/internal/extract"
	"github.com/Veraticus/smsledger/internal/model"
)

// DeriveFieldTokens keeps the extractor spans of message that agree with the
// confirmed values. Vendor and account values the extractors missed are
// located literally. Dates are kept as extracted since confirmations carry
// no date.
func DeriveFieldTokens(message string, confirmed model.ConfirmedFields) model.FieldTokenMap {
	r := extract.Extract(message)
	var m model.FieldTokenMap

	for _, tok := range mergeTokens(r.Amount, extract.BareAmountTokens(message)) {
		if v, ok := extract.ParseAmount(tok.Token); ok && v.Abs().Equal(confirmed.Amount.Abs()) {
			m.Amount = append(m.Amount, tok)
		}
	}

	if confirmed.Currency != "" {
		for _, tok := range r.Currency {
			if extract.NormalizeCurrency(tok.Token) == confirmed.Currency {
				m.Currency = append(m.Currency, tok)
			}
		}
	}

	if confirmed.Vendor != "" {
		want := extract.Normalize(confirmed.Vendor)
		for _, tok := range r.Vendor {
			got := extract.Normalize(extract.VendorName(tok.Token))
			if got == want || strings.Contains(got, want) || strings.Contains(want, got) {
				m.Vendor = append(m.Vendor, tok)
			}
		}
		if len(m.Vendor) == 0 {
			if tok, ok := locate(message, confirmed.Vendor); ok {
				m.Vendor = append(m.Vendor, tok)
			}
		}
	}

	if confirmed.Account != "" {
		want := extract.Normalize(confirmed.Account)
		wantDigits := lastDigits(want, 4)
		for _, tok := range r.Account {
			got := extract.Normalize(tok.Token)
			if got == want || (wantDigits != "" && lastDigits(got, 4) == wantDigits) {
				m.Account = append(m.Account, tok)
			}
		}
		if len(m.Account) == 0 {
			if tok, ok := locate(message, confirmed.Account); ok {
				m.Account = append(m.Account, tok)
			}
		}
	}

	if len(r.Date) > 0 {
		m.Date = r.Date[:1]
	}

	if r.TypeToken != nil && r.Type == confirmed.Type {
		m.Type = []model.PositionedToken{*r.TypeToken}
	}

	return m
}

// mergeTokens appends the tokens of extra not already in base.
func mergeTokens(base, extra []model.PositionedToken) []model.PositionedToken {
	out := append([]model.PositionedToken(nil), base...)
	for _, tok := range extra {
		dup := false
		for _, b := range base {
			if b.Position == tok.Position {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, tok)
		}
	}
	return out
}

// locate finds value in message case-insensitively on word boundaries.
func locate(message, value string) (model.PositionedToken, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return model.PositionedToken{}, false
	}
	lowerMsg := strings.ToLower(message)
	lowerVal := strings.ToLower(value)
	if len(lowerMsg) != len(message) || len(lowerVal) != len(value) {
		// Case folding changed byte lengths; offsets would not line up.
		return model.PositionedToken{}, false
	}

	for from := 0; from < len(lowerMsg); {
		i := strings.Index(lowerMsg[from:], lowerVal)
		if i < 0 {
			break
		}
		start := from + i
		end := start + len(value)
		if boundary(message, start, end) {
			return extract.Positioned(message, extract.Tokenize(message), start, end), true
		}
		from = start + 1
	}
	return model.PositionedToken{}, false
}

func boundary(text string, start, end int) bool {
	if start > 0 {
		r := []rune(text[:start])
		if isWordRune(r[len(r)-1]) {
			return false
		}
	}
	if end < len(text) {
		r := []rune(text[end:])
		if isWordRune(r[0]) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func lastDigits(s string, n int) string {
	var digits []rune
	for _, r := range extract.NormalizeDigits(s) {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < n {
		return ""
	}
	return string(digits[len(digits)-n:])
}
