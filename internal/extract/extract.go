package extract

import "github.com/Veraticus/smsledger/internal/model"

// Result gathers every field candidate found in one message.
type Result struct {
	TypeToken *model.PositionedToken
	Type      model.TransactionType
	Amount    []model.PositionedToken
	Currency  []model.PositionedToken
	Vendor    []model.PositionedToken
	Account   []model.PositionedToken
	Date      []model.PositionedToken
}

// Extract runs all field extractors over text.
func Extract(text string) Result {
	r := Result{
		Amount:   ExtractAmountTokens(text),
		Currency: ExtractCurrencyTokens(text),
		Vendor:   ExtractVendorTokens(text),
		Account:  ExtractAccountTokens(text),
		Date:     ExtractDateTokens(text),
	}
	if len(r.Amount) == 0 {
		r.Amount = BareAmountTokens(text)
	}
	if t, tok, ok := DetectType(text); ok {
		r.Type = t
		r.TypeToken = tok
	}
	return r
}

// Tokens returns the candidates as a field token map.
func (r Result) Tokens() model.FieldTokenMap {
	m := model.FieldTokenMap{
		Amount:   r.Amount,
		Currency: r.Currency,
		Vendor:   r.Vendor,
		Account:  r.Account,
		Date:     r.Date,
	}
	if r.TypeToken != nil {
		m.Type = []model.PositionedToken{*r.TypeToken}
	}
	return m
}

// First returns the best candidate for field, if any.
func (r Result) First(field model.Field) (model.PositionedToken, bool) {
	m := r.Tokens()
	slot := m.Slot(field)
	if len(slot) == 0 {
		return model.PositionedToken{}, false
	}
	return slot[0], true
}
