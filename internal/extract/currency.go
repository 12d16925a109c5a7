package extract

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Veraticus/smsledger/internal/model"
)

// currencyAliases maps ISO codes to the spellings seen in notifications.
var currencyAliases = map[string][]string{
	"USD": {"$", "US$", "USD", "dollars", "dollar", "دولار"},
	"EUR": {"€", "EUR", "euros", "euro", "يورو"},
	"GBP": {"£", "GBP", "pounds sterling", "جنيه استرليني", "جنيه إسترليني"},
	"EGP": {"EGP", "L.E.", "L.E", "E£", "ج.م", "جنيه", "جنيها", "جنيهاً", "جنيهات"},
	"SAR": {"SAR", "SR", "ر.س", "ريال", "﷼"},
	"AED": {"AED", "د.إ", "درهم", "dirhams", "dirham"},
	"KWD": {"KWD", "د.ك"},
	"QAR": {"QAR", "ر.ق"},
	"BHD": {"BHD", "د.ب"},
	"OMR": {"OMR", "ر.ع"},
	"JOD": {"JOD", "د.أ"},
	"INR": {"INR", "₹", "Rs.", "Rs", "rupees"},
	"JPY": {"JPY", "¥", "yen"},
	"ILS": {"ILS", "₪"},
	"TRY": {"TRY", "₺"},
	"MAD": {"MAD"},
}

var (
	currencyOnce     sync.Once
	currencyPatterns []pattern
	currencyLookup   map[string]string
)

func loadCurrencyPatterns() {
	currencyLookup = make(map[string]string)
	var aliases []string
	for code, names := range currencyAliases {
		for _, name := range names {
			currencyLookup[Normalize(name)] = code
			aliases = append(aliases, name)
		}
	}

	// Longest first so "US$" wins over "$" and "L.E." over "L.E".
	sort.Slice(aliases, func(i, j int) bool {
		if len(aliases[i]) != len(aliases[j]) {
			return len(aliases[i]) > len(aliases[j])
		}
		return aliases[i] < aliases[j]
	})

	// Codes and other spellings with capitals match case-sensitively so that
	// ordinary words like "try" or "mad" are not read as currencies.
	var symbols, codes, words []string
	for _, a := range aliases {
		quoted := regexp.QuoteMeta(a)
		switch {
		case isSymbolAlias(a):
			symbols = append(symbols, quoted)
		case strings.ToLower(a) != a:
			codes = append(codes, quoted)
		default:
			words = append(words, quoted)
		}
	}

	currencyPatterns = compilePatterns("currency", []patternSpec{
		{expr: `(?:` + strings.Join(codes, "|") + `)`, noLetterAround: true},
		{expr: `(?i:` + strings.Join(words, "|") + `)`, noLetterAround: true, rank: 1},
		{expr: `(?:` + strings.Join(symbols, "|") + `)`, rank: 2},
	})
}

func isSymbolAlias(a string) bool {
	for _, r := range a {
		if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r > 0x600 && r < 0x6FF {
			return false
		}
	}
	return true
}

// currencySpans returns currency mentions in text.
func currencySpans(text string) []span {
	currencyOnce.Do(loadCurrencyPatterns)
	return findSpans(text, currencyPatterns)
}

// ExtractCurrencyTokens returns every currency mention in text.
func ExtractCurrencyTokens(text string) []model.PositionedToken {
	spans := currencySpans(text)
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

// NormalizeCurrency maps a currency mention to its ISO code. Unknown
// three-letter codes are upper-cased; anything else returns "".
func NormalizeCurrency(token string) string {
	currencyOnce.Do(loadCurrencyPatterns)
	if code, ok := currencyLookup[Normalize(token)]; ok {
		return code
	}
	t := strings.ToUpper(strings.TrimSpace(token))
	if len(t) == 3 && strings.IndexFunc(t, func(r rune) bool { return r < 'A' || r > 'Z' }) < 0 {
		return t
	}
	return ""
}
