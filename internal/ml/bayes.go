// Package ml is the local statistical extractor. A naive Bayes model over
// message words decides the transaction type; the field extractors supply
// the values.
package ml

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/extract"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/jbrukh/bayesian"
	"github.com/shopspring/decimal"
)

// HighAccuracyPosterior is the minimum type posterior reported in
// high-accuracy mode.
const HighAccuracyPosterior = 0.6

// Prediction is the statistical extractor's reading of a message. Unset
// fields were not recognized.
type Prediction struct {
	Amount   *decimal.Decimal
	Date     *time.Time
	Currency string
	Vendor   string
	Account  string
	Type     model.TransactionType
	// TypeProbability is the posterior of Type.
	TypeProbability float64
}

// Options configures a BayesExtractor.
type Options struct {
	Now       func() time.Time
	DateOrder extract.DateOrder
}

// BayesExtractor implements the statistical extractor locally.
type BayesExtractor struct {
	classifier *bayesian.Classifier
	now        func() time.Time
	order      extract.DateOrder
	classes    []bayesian.Class
	trained    int
	mu         sync.RWMutex
}

// NewBayesExtractor creates an extractor primed with the seed corpus.
func NewBayesExtractor(opts Options) *BayesExtractor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DateOrder == "" {
		opts.DateOrder = extract.MonthFirst
	}
	b := &BayesExtractor{
		now:   opts.Now,
		order: opts.DateOrder,
		classes: []bayesian.Class{
			bayesian.Class(model.TypeExpense),
			bayesian.Class(model.TypeIncome),
			bayesian.Class(model.TypeTransfer),
		},
	}
	b.Reset()
	return b
}

// Reset restores the seed-only model.
func (b *BayesExtractor) Reset() {
	cl := bayesian.NewClassifier(b.classes...)
	for kind, docs := range seedCorpus {
		for _, doc := range docs {
			cl.Learn(features(doc), bayesian.Class(kind))
		}
	}

	b.mu.Lock()
	b.classifier = cl
	b.trained = 0
	b.mu.Unlock()
}

// Train adds learned entries to the model.
func (b *BayesExtractor) Train(entries []model.LearnedEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range entries {
		t := entries[i].ConfirmedFields.Type
		if !t.Valid() {
			continue
		}
		b.classifier.Learn(features(entries[i].RawMessage), bayesian.Class(t))
		b.trained++
	}
	slog.Debug("Trained statistical extractor", "entries", len(entries), "total", b.trained)
}

// Trained returns the number of learned entries in the model.
func (b *BayesExtractor) Trained() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.trained
}

// Extract reads text. In high-accuracy mode the type is left empty unless
// its posterior reaches HighAccuracyPosterior. Messages without an amount
// candidate fail with common.ErrNoAmount.
func (b *BayesExtractor) Extract(ctx context.Context, text string, highAccuracy bool) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := extract.Extract(text)
	if len(r.Amount) == 0 {
		return nil, fmt.Errorf("%w: %w", common.ErrExtractorFailed, common.ErrNoAmount)
	}

	p := &Prediction{}
	if v, ok := extract.ParseAmount(r.Amount[0].Token); ok {
		p.Amount = &v
	}

	b.mu.RLock()
	scores, idx, _ := b.classifier.ProbScores(features(text))
	b.mu.RUnlock()
	if idx >= 0 && idx < len(scores) {
		if !highAccuracy || scores[idx] >= HighAccuracyPosterior {
			p.Type = model.TransactionType(b.classes[idx])
			p.TypeProbability = scores[idx]
		}
	}

	if len(r.Currency) > 0 {
		p.Currency = extract.NormalizeCurrency(r.Currency[0].Token)
	}
	if len(r.Vendor) > 0 {
		p.Vendor = extract.VendorName(r.Vendor[0].Token)
	}
	if len(r.Account) > 0 {
		p.Account = r.Account[0].Token
	}
	if len(r.Date) > 0 {
		if d, ok := extract.ParseDate(r.Date[0].Token, b.now(), b.order); ok {
			p.Date = &d
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// features turns text into classifier terms; numbers collapse to "#".
func features(text string) []string {
	tokens := extract.Tokenize(text)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		switch tok.Kind {
		case extract.KindWord:
			out = append(out, tok.Normalized())
		case extract.KindNumber:
			out = append(out, "#")
		default:
			if tok.Text == "#" {
				out = append(out, "#")
			}
		}
	}
	return out
}
