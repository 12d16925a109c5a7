package extract

import (
	"strings"
	"sync"
	"unicode"

	"github.com/Veraticus/smsledger/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxArabicVendorWords = 4

var latinVendorSpec = patternSpec{
	expr:  `(?:\b(?i:at|from|to)\s+|@\s*)(\p{Lu}[\p{L}\p{Nd}'&.\-]*(?:[ \t]+(?:\p{Lu}[\p{L}\p{Nd}'&.\-]*|&|of|de|la|du))*)`,
	group: 1,
}

var arabicVendorMarkers = map[string]bool{
	"لدى": true, "عند": true, "من": true, "إلى": true, "الى": true,
}

var vendorStopwords = map[string]bool{
	"on": true, "your": true, "account": true, "acct": true, "card": true, "a": true,
	"avl": true, "bal": true, "balance": true, "ref": true, "date": true, "via": true,
	"using": true, "with": true, "for": true, "is": true, "was": true, "has": true,
	"been": true, "txn": true, "transaction": true, "available": true, "dated": true,
	"في": true, "بتاريخ": true, "يوم": true, "رصيد": true, "حساب": true, "بطاقة": true,
	"بطاقتك": true, "حسابك": true, "مبلغ": true, "بمبلغ": true, "الساعة": true,
	"الرصيد": true, "رقم": true,
}

var vendorTrailers = map[string]bool{
	"of": true, "de": true, "la": true, "du": true, "&": true, "and": true,
}

var (
	vendorOnce    sync.Once
	vendorPattern []pattern
)

func vendorSpans(text string) []span {
	vendorOnce.Do(func() { vendorPattern = compilePatterns("vendor", []patternSpec{latinVendorSpec}) })

	tokens := Tokenize(text)
	var candidates []span
	for _, p := range vendorPattern {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			if s, ok := trimVendor(tokens, m[2], m[3]); ok {
				candidates = append(candidates, s)
			}
		}
	}
	candidates = append(candidates, arabicVendorSpans(tokens)...)
	return selectSpans(candidates)
}

// trimVendor narrows a raw vendor match to whole words, cutting at the first
// stopword, dropping a leading article and trailing connectors.
func trimVendor(tokens []Token, start, end int) (span, bool) {
	var words []Token
	for _, tok := range tokens {
		if tok.Position < start || tok.End() > end {
			continue
		}
		if tok.Kind == KindPunct && tok.Text != "&" {
			// Internal punctuation stays inside the span but never starts or ends it.
			continue
		}
		words = append(words, tok)
	}

	for i, w := range words {
		if vendorStopwords[w.Normalized()] {
			words = words[:i]
			break
		}
	}
	if len(words) > 0 && words[0].Normalized() == "the" {
		words = words[1:]
	}
	for len(words) > 0 && vendorTrailers[words[len(words)-1].Normalized()] {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return span{}, false
	}
	return span{start: words[0].Position, end: words[len(words)-1].End()}, true
}

// arabicVendorSpans picks up to four words after a merchant marker such as
// "لدى" and stops at stopwords, numbers or punctuation.
func arabicVendorSpans(tokens []Token) []span {
	var out []span
	for i, tok := range tokens {
		if tok.Kind != KindWord || !arabicVendorMarkers[tok.Normalized()] {
			continue
		}
		var words []Token
		for j := i + 1; j < len(tokens) && len(words) < maxArabicVendorWords; j++ {
			next := tokens[j]
			if next.Kind != KindWord || vendorStopwords[next.Normalized()] || arabicVendorMarkers[next.Normalized()] {
				break
			}
			words = append(words, next)
		}
		if len(words) == 0 {
			continue
		}
		out = append(out, span{start: words[0].Position, end: words[len(words)-1].End(), rank: 1})
	}
	return out
}

// ExtractVendorTokens returns merchant name candidates in text.
func ExtractVendorTokens(text string) []model.PositionedToken {
	spans := vendorSpans(text)
	if len(spans) == 0 {
		return nil
	}
	tokens := Tokenize(text)
	out := make([]model.PositionedToken, 0, len(spans))
	for _, s := range spans {
		out = append(out, Positioned(text, tokens, s.start, s.end))
	}
	return out
}

var titleCaser = cases.Title(language.Und)

// VendorName cleans a vendor token for display. All-caps Latin names are
// title-cased; anything else is kept as written.
func VendorName(token string) string {
	name := strings.Join(strings.Fields(token), " ")
	name = strings.TrimRight(name, ".,;:-")
	if name == "" {
		return ""
	}

	hasLower, hasLetter := false, false
	for _, r := range name {
		if unicode.IsLetter(r) && r < unicode.MaxLatin1 {
			hasLetter = true
			if unicode.IsLower(r) {
				hasLower = true
			}
		}
	}
	if hasLetter && !hasLower {
		return titleCaser.String(strings.ToLower(name))
	}
	return name
}
