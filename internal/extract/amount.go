package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Veraticus/smsledger/internal/model"
	"github.com/shopspring/decimal"
)

// Amount candidate ranks, best first.
const (
	rankCurrencyAdjacent = iota
	rankKeywordAdjacent
	rankBalance
	rankBare
)

// maxAmountDigits rejects reference numbers and phone numbers.
const maxAmountDigits = 9

var (
	thousandsComma = regexp.MustCompile(`^[0-9]{1,3}(,[0-9]{3})+(\.[0-9]+)?$`)
	thousandsDot   = regexp.MustCompile(`^[0-9]{1,3}(\.[0-9]{3})+(,[0-9]{1,2})?$`)
	decimalComma   = regexp.MustCompile(`^[0-9]+,[0-9]{1,2}$`)
	plainNumber    = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// ParseAmount converts a number literal into a decimal, accepting
// Arabic-Indic digits and either comma or dot grouping.
func ParseAmount(token string) (decimal.Decimal, bool) {
	s := NormalizeDigits(strings.TrimSpace(token))
	switch {
	case thousandsComma.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case decimalComma.MatchString(s):
		s = strings.Replace(s, ",", ".", 1)
	case thousandsDot.MatchString(s) && !plainNumber.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case plainNumber.MatchString(s):
	default:
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

type amountCandidate struct {
	tok  Token
	rank int
}

// amountCandidates ranks every number in text that could be a transaction
// amount. Numbers inside date or account spans, over-long digit runs and zero
// values are skipped.
func amountCandidates(text string, tokens []Token, includeBare bool) []amountCandidate {
	excluded := append(dateSpans(text), accountNumberSpans(text)...)
	currencies := currencySpans(text)

	var out []amountCandidate
	for i, tok := range tokens {
		if tok.Kind != KindNumber || inAny(excluded, tok.Position) {
			continue
		}
		if digitCount(tok.Text) > maxAmountDigits {
			continue
		}
		if v, ok := ParseAmount(tok.Text); !ok || v.IsZero() {
			continue
		}

		rank := rankBare
		switch {
		case nearBefore(tokens, i, 4, balanceKeywords):
			rank = rankBalance
		case currencyAdjacent(text, currencies, tok):
			rank = rankCurrencyAdjacent
		case nearBefore(tokens, i, 3, amountKeywords):
			rank = rankKeywordAdjacent
		}
		if rank == rankBare && !includeBare {
			continue
		}
		out = append(out, amountCandidate{tok: tok, rank: rank})
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].rank < out[b].rank })
	return out
}

// ExtractAmountTokens returns amount-like numbers, currency-adjacent first.
func ExtractAmountTokens(text string) []model.PositionedToken {
	tokens := Tokenize(text)
	cands := amountCandidates(text, tokens, false)
	out := make([]model.PositionedToken, 0, len(cands))
	for _, c := range cands {
		out = append(out, Positioned(text, tokens, c.tok.Position, c.tok.End()))
	}
	return out
}

// BareAmountTokens returns every plausible number, including ones with no
// currency or keyword nearby, in ranked order.
func BareAmountTokens(text string) []model.PositionedToken {
	tokens := Tokenize(text)
	cands := amountCandidates(text, tokens, true)
	out := make([]model.PositionedToken, 0, len(cands))
	for _, c := range cands {
		out = append(out, Positioned(text, tokens, c.tok.Position, c.tok.End()))
	}
	return out
}

// HasAmountCandidate reports whether text contains any number that could be
// an amount.
func HasAmountCandidate(text string) bool {
	return len(BareAmountTokens(text)) > 0
}

func digitCount(s string) int {
	n := 0
	for _, r := range NormalizeDigits(s) {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// currencyAdjacent reports whether a currency mention touches tok, separated
// by whitespace only.
func currencyAdjacent(text string, currencies []span, tok Token) bool {
	for _, c := range currencies {
		if c.end <= tok.Position && strings.TrimSpace(text[c.end:tok.Position]) == "" {
			return true
		}
		if c.start >= tok.End() && strings.TrimSpace(text[tok.End():c.start]) == "" {
			return true
		}
	}
	return false
}

// nearBefore reports whether one of the n word tokens before index i is a
// keyword. The search stops at the previous number, which owns any keyword
// in front of it.
func nearBefore(tokens []Token, i, n int, keywords []string) bool {
	seen := 0
	for j := i - 1; j >= 0 && seen < n; j-- {
		if tokens[j].Kind == KindNumber {
			return false
		}
		if tokens[j].Kind != KindWord {
			continue
		}
		seen++
		if isKeyword(tokens[j].Normalized(), keywords) {
			return true
		}
	}
	return false
}
