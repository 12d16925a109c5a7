package extract

import (
	"strings"

	"github.com/Veraticus/smsledger/internal/model"
)

// Bilingual keyword lists. Multi-word entries are matched against the
// normalized word sequence.
var (
	expenseKeywords = []string{
		"spent", "spend", "purchase", "purchased", "paid", "payment", "debited",
		"withdrawn", "withdrawal", "withdrew", "charged", "sent", "transferred",
		"bought", "pos",
		"خصم", "تم خصم", "سحب", "شراء", "مشتريات", "دفع", "تم دفع", "مدين", "صادرة", "صادر",
	}
	incomeKeywords = []string{
		"received", "credited", "deposit", "deposited", "refund", "refunded",
		"salary", "incoming", "reversal", "cashback",
		"إيداع", "ايداع", "استلام", "استلمت", "تم اضافة", "تم إضافة", "إضافة", "اضافة",
		"راتب", "دائن", "استرداد", "واردة", "وارد",
	}
	amountKeywords = []string{
		"amount", "amt", "of", "for", "spent", "paid", "debited", "credited", "received",
		"withdrawn", "charged", "sent", "total", "value", "sum",
		"مبلغ", "بمبلغ", "قيمة", "بقيمة", "خصم", "سحب", "ايداع", "إيداع",
	}
	balanceKeywords = []string{
		"balance", "bal", "avl", "avail", "available", "limit", "رصيد", "الرصيد", "رصيدك", "المتاح",
	}
)

// keywordHit is a keyword occurrence at a token index.
type keywordHit struct {
	keyword string
	index   int
	width   int
}

// findKeywords returns every occurrence of any keyword in words.
func findKeywords(words []string, keywords []string) []keywordHit {
	var hits []keywordHit
	for _, kw := range keywords {
		parts := strings.Fields(kw)
		for i := 0; i+len(parts) <= len(words); i++ {
			match := true
			for j, p := range parts {
				if words[i+j] != p {
					match = false
					break
				}
			}
			if match {
				hits = append(hits, keywordHit{keyword: kw, index: i, width: len(parts)})
			}
		}
	}
	return hits
}

func isKeyword(word string, keywords []string) bool {
	for _, kw := range keywords {
		if word == kw {
			return true
		}
	}
	return false
}

// DetectType classifies a message as income or expense from keywords and
// returns the decisive keyword span. ok is false when no keyword is present.
func DetectType(text string) (model.TransactionType, *model.PositionedToken, bool) {
	tokens := Tokenize(text)
	words := TokenTexts(tokens)

	expense := findKeywords(words, expenseKeywords)
	income := findKeywords(words, incomeKeywords)
	if len(expense) == 0 && len(income) == 0 {
		return "", nil, false
	}

	var kind model.TransactionType
	var hits []keywordHit
	switch {
	case len(income) > len(expense):
		kind, hits = model.TypeIncome, income
	case len(expense) > len(income):
		kind, hits = model.TypeExpense, expense
	case earliest(income) < earliest(expense):
		kind, hits = model.TypeIncome, income
	default:
		kind, hits = model.TypeExpense, expense
	}

	first := hits[0]
	for _, h := range hits[1:] {
		if h.index < first.index {
			first = h
		}
	}
	start := tokens[first.index].Position
	end := tokens[first.index+first.width-1].End()
	pt := Positioned(text, tokens, start, end)
	return kind, &pt, true
}

func earliest(hits []keywordHit) int {
	min := -1
	for _, h := range hits {
		if min < 0 || h.index < min {
			min = h.index
		}
	}
	return min
}
