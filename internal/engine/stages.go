package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/extract"
	"github.com/Veraticus/smsledger/internal/ml"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/Veraticus/smsledger/internal/template"
	"github.com/shopspring/decimal"
)

const (
	mlConfidence       = 0.65
	fallbackConfidence = 0.3
)

// request carries one message through the cascade.
type request struct {
	now time.Time
	// fallback is the closest template seen by the template stage, kept for
	// callers when no stage matches.
	fallback *model.StructureTemplate
	message  string
	sender   string
}

// resolution is a stage's answer for a message.
type resolution struct {
	entry      *model.LearnedEntry
	tokens     model.FieldTokenMap
	draft      model.TransactionDraft
	origin     model.Origin
	confidence float64
}

// templateStage reuses a learned entry whose tokens are found in the message.
type templateStage struct {
	store *template.Store
	order extract.DateOrder
}

func (s *templateStage) Origin() model.Origin { return model.OriginTemplate }

func (s *templateStage) Resolve(ctx context.Context, req *request) (*resolution, error) {
	res, err := s.store.FindBestMatch(ctx, req.message, req.sender)
	if err != nil {
		return nil, err
	}
	req.fallback = res.FallbackTemplate
	if !res.Matched || res.Entry == nil {
		return nil, nil
	}

	entry := res.Entry
	score := res.Confidence
	draft := draftFromEntry(entry)
	confidences := carriedConfidences(entry, score)
	var tokens model.FieldTokenMap

	relocated := template.RelocateRoles(entry, req.message)
	if v, ok := parseFirstAmount(relocated.Amount); ok {
		draft.Amount = v
		tokens.Amount = relocated.Amount
		confidences[model.FieldAmount] = score
	} else {
		confidences[model.FieldAmount] = score / 2
	}
	draft.Date = req.now
	if d, ok := parseFirstDate(relocated.Date, req.now, s.order); ok {
		draft.Date = d
		tokens.Date = relocated.Date
		confidences[model.FieldDate] = score
	}
	draft.FieldConfidences = confidences

	return &resolution{
		origin:     model.OriginTemplate,
		entry:      entry,
		draft:      draft,
		tokens:     tokens,
		confidence: score,
	}, nil
}

// structureStage maps the roles of a structurally identical entry onto the
// new message.
type structureStage struct {
	store *template.Store
	order extract.DateOrder
}

func (s *structureStage) Origin() model.Origin { return model.OriginStructure }

func (s *structureStage) Resolve(ctx context.Context, req *request) (*resolution, error) {
	m, err := s.store.MatchUsingTemplateStructure(ctx, req.message, req.sender)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}

	entry := m.Entry
	confirmed := entry.ConfirmedFields
	carried := m.Confidence * m.Coverage
	draft := draftFromEntry(entry)
	confidences := carriedConfidences(entry, carried)

	amount, ok := parseFirstAmount(m.Tokens.Amount)
	if !ok {
		return nil, nil
	}
	draft.Amount = amount
	confidences[model.FieldAmount] = m.Confidence

	if len(m.Tokens.Currency) > 0 {
		if code := extract.NormalizeCurrency(m.Tokens.Currency[0].Token); code != "" {
			draft.Currency = code
			confidences[model.FieldCurrency] = m.Confidence
		}
	}
	if len(m.Tokens.Vendor) > 0 {
		literal := m.Tokens.Vendor[0].Token
		stored := entry.FieldTokenMap.Vendor
		if confirmed.Vendor != "" && len(stored) > 0 && strings.EqualFold(stored[0].Token, literal) {
			draft.Vendor = confirmed.Vendor
		} else {
			draft.Vendor = extract.VendorName(literal)
		}
		confidences[model.FieldVendor] = m.Confidence
	}
	if len(m.Tokens.Account) > 0 {
		draft.FromAccount = m.Tokens.Account[0].Token
		confidences[model.FieldAccount] = m.Confidence
	}
	draft.Date = req.now
	if d, ok := parseFirstDate(m.Tokens.Date, req.now, s.order); ok {
		draft.Date = d
		confidences[model.FieldDate] = m.Confidence
	}
	draft.FieldConfidences = confidences

	return &resolution{
		origin:     model.OriginStructure,
		entry:      entry,
		draft:      draft,
		tokens:     m.Tokens,
		confidence: m.Confidence,
	}, nil
}

// mlStage asks the statistical extractor. Failures of any kind reset the
// extractor and let the cascade continue.
type mlStage struct {
	extractor    Extractor
	timeout      time.Duration
	highAccuracy bool
}

func (s *mlStage) Origin() model.Origin { return model.OriginML }

func (s *mlStage) Resolve(ctx context.Context, req *request) (*resolution, error) {
	pred, err := s.extract(ctx, req.message)
	if err != nil {
		slog.Warn("Statistical extractor failed, falling through", "error", err)
		s.extractor.Reset()
		return nil, nil
	}
	if pred == nil || pred.Amount == nil || pred.Amount.IsZero() {
		return nil, nil
	}

	confidences := map[model.Field]float64{model.FieldAmount: mlConfidence}
	draft := model.TransactionDraft{
		Amount:      *pred.Amount,
		Type:        pred.Type,
		Currency:    pred.Currency,
		Vendor:      pred.Vendor,
		FromAccount: pred.Account,
		Date:        req.now,
	}
	if draft.Type != "" {
		confidences[model.FieldType] = mlConfidence
	} else if t, _, ok := extract.DetectType(req.message); ok {
		draft.Type = t
		confidences[model.FieldType] = fallbackConfidence
	}
	if pred.Date != nil {
		draft.Date = *pred.Date
		confidences[model.FieldDate] = mlConfidence
	}
	for f, v := range map[model.Field]string{
		model.FieldCurrency: pred.Currency,
		model.FieldVendor:   pred.Vendor,
		model.FieldAccount:  pred.Account,
	} {
		if v != "" {
			confidences[f] = mlConfidence
		}
	}
	draft.FieldConfidences = confidences

	return &resolution{
		origin:     model.OriginML,
		draft:      draft,
		tokens:     extract.Extract(req.message).Tokens(),
		confidence: mlConfidence,
	}, nil
}

// extract runs the extractor under the stage timeout. A panic inside the
// extractor is reported as an error.
func (s *mlStage) extract(ctx context.Context, text string) (*ml.Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		pred *ml.Prediction
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: panic: %v", common.ErrExtractorFailed, r)}
			}
		}()
		pred, err := s.extractor.Extract(ctx, text, s.highAccuracy)
		done <- result{pred: pred, err: err}
	}()

	select {
	case r := <-done:
		return r.pred, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", common.ErrExtractorFailed, ctx.Err())
	}
}

// fallbackStage takes the best bare amount and keyword-based direction.
type fallbackStage struct{}

func (fallbackStage) Origin() model.Origin { return model.OriginFallback }

func (fallbackStage) Resolve(_ context.Context, req *request) (*resolution, error) {
	amounts := extract.BareAmountTokens(req.message)
	amount, ok := parseFirstAmount(amounts)
	if !ok {
		return nil, nil
	}

	confidences := map[model.Field]float64{model.FieldAmount: fallbackConfidence}
	tokens := model.FieldTokenMap{Amount: amounts[:1]}
	draft := model.TransactionDraft{Amount: amount, Type: model.TypeExpense, Date: req.now}

	if t, tok, ok := extract.DetectType(req.message); ok {
		draft.Type = t
		tokens.Type = []model.PositionedToken{*tok}
		confidences[model.FieldType] = fallbackConfidence
	}
	if cur := extract.ExtractCurrencyTokens(req.message); len(cur) > 0 {
		if code := extract.NormalizeCurrency(cur[0].Token); code != "" {
			draft.Currency = code
			tokens.Currency = cur[:1]
			confidences[model.FieldCurrency] = fallbackConfidence
		}
	}
	draft.FieldConfidences = confidences

	return &resolution{
		origin:     model.OriginFallback,
		draft:      draft,
		tokens:     tokens,
		confidence: fallbackConfidence,
	}, nil
}

func draftFromEntry(e *model.LearnedEntry) model.TransactionDraft {
	c := e.ConfirmedFields
	return model.TransactionDraft{
		Amount:      c.Amount,
		Type:        c.Type,
		Currency:    c.Currency,
		Vendor:      c.Vendor,
		FromAccount: c.Account,
		Category:    c.Category,
		Subcategory: c.Subcategory,
		Person:      c.Person,
	}
}

// carriedConfidences scores the fields a draft inherits from e.
func carriedConfidences(e *model.LearnedEntry, score float64) map[model.Field]float64 {
	c := e.ConfirmedFields
	out := map[model.Field]float64{model.FieldType: score}
	if c.Currency != "" {
		out[model.FieldCurrency] = score
	}
	if c.Vendor != "" {
		out[model.FieldVendor] = score
	}
	if c.Account != "" {
		out[model.FieldAccount] = score
	}
	return out
}

func parseFirstAmount(tokens []model.PositionedToken) (decimal.Decimal, bool) {
	if len(tokens) == 0 {
		return decimal.Zero, false
	}
	v, ok := extract.ParseAmount(tokens[0].Token)
	if !ok || v.IsZero() {
		return decimal.Zero, false
	}
	return v, true
}

func parseFirstDate(tokens []model.PositionedToken, ref time.Time, order extract.DateOrder) (time.Time, bool) {
	if len(tokens) == 0 {
		return time.Time{}, false
	}
	return extract.ParseDate(tokens[0].Token, ref, order)
}
