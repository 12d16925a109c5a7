package extract

import (
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/Veraticus/smsledger/internal/model"
)

// Account span ranks. Numbered references beat named account kinds.
const (
	accountRankMasked = iota
	accountRankKeyword
	accountRankNamed
)

var accountPatternSpecs = []patternSpec{
	// **1234, XX-5678, ••••4321
	{expr: `[*xX•]{2,}-?\p{Nd}{3,6}`, noDigitAround: true, rank: accountRankMasked},
	// Account 1234, card ending in 4321, A/C no. 99887766
	{
		expr:          `(?i:account|acct|a/c|card|ending(?:\s+(?:with|in))?)\s*(?i:no\.?|number|#)?\s*[:\-]?\s*(\p{Nd}{4,})`,
		group:         1,
		noDigitAround: true,
		rank:          accountRankKeyword,
	},
	// حساب رقم 1234, بطاقة ***4321, المنتهي ب 1234
	{
		expr:          `(?:حسابك|حساب|بطاقتك|بطاقة|كارت|المنتهية?\s*ب)\s*(?:رقم\s*)?[:\-]?\s*([*xX•]*\p{Nd}{3,})`,
		group:         1,
		noDigitAround: true,
		rank:          accountRankKeyword,
	},
	{
		expr:           `(?i:checking|savings|current account|credit card|debit card|wallet)`,
		noLetterAround: true,
		rank:           accountRankNamed,
	},
}

var (
	accountOnce     sync.Once
	accountPatterns []pattern
)

func accountSpans(text string) []span {
	accountOnce.Do(func() { accountPatterns = compilePatterns("account", accountPatternSpecs) })
	spans := findSpans(text, accountPatterns)

	// A keyword followed by "1234.50" names an amount, not an account.
	kept := spans[:0]
	for _, s := range spans {
		if s.rank == accountRankKeyword && decimalFollows(text, s.end) {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// accountNumberSpans returns only the account spans that carry digits.
func accountNumberSpans(text string) []span {
	var out []span
	for _, s := range accountSpans(text) {
		if s.rank != accountRankNamed {
			out = append(out, s)
		}
	}
	return out
}

func decimalFollows(text string, end int) bool {
	if end >= len(text) {
		return false
	}
	r, n := utf8.DecodeRuneInString(text[end:])
	if !isNumberSeparator(r) || end+n >= len(text) {
		return false
	}
	next, _ := utf8.DecodeRuneInString(text[end+n:])
	return next >= '0' && next <= '9' || next >= '٠' && next <= '٩'
}

// ExtractAccountTokens returns account references, numbered ones first.
func ExtractAccountTokens(text string) []model.PositionedToken {
	spans := accountSpans(text)
	if len(spans) == 0 {
		return nil
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].rank < spans[j].rank })

	tokens := Tokenize(text)
	out := make([]model.PositionedToken, 0, len(spans))
	for _, s := range spans {
		out = append(out, Positioned(text, tokens, s.start, s.end))
	}
	return out
}
