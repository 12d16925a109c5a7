package engine

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/smsledger/internal/extract"
	"github.com/Veraticus/smsledger/internal/ml"
	"github.com/Veraticus/smsledger/internal/model"
)

// MockExtractor is a test implementation of the Extractor interface. By
// default it reads the message with the field extractors; Err, Panic and
// Delay simulate failures.
type MockExtractor struct {
	Err     error
	Panic   any
	Predict func(text string) *ml.Prediction
	calls   []MockExtractorCall
	trained []model.LearnedEntry
	Delay   time.Duration
	resets  int
	mu      sync.Mutex
}

// MockExtractorCall records one Extract request.
type MockExtractorCall struct {
	Text         string
	HighAccuracy bool
}

// NewMockExtractor creates a mock extractor.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{}
}

// Extract records the call and returns a deterministic prediction.
func (m *MockExtractor) Extract(ctx context.Context, text string, highAccuracy bool) (*ml.Prediction, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockExtractorCall{Text: text, HighAccuracy: highAccuracy})
	err, panicValue, delay, predict := m.Err, m.Panic, m.Delay, m.Predict
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panicValue != nil {
		panic(panicValue)
	}
	if err != nil {
		return nil, err
	}
	if predict != nil {
		return predict(text), nil
	}

	r := extract.Extract(text)
	if len(r.Amount) == 0 {
		return nil, nil
	}
	p := &ml.Prediction{Type: r.Type}
	if v, ok := extract.ParseAmount(r.Amount[0].Token); ok {
		p.Amount = &v
	}
	if len(r.Currency) > 0 {
		p.Currency = extract.NormalizeCurrency(r.Currency[0].Token)
	}
	if len(r.Vendor) > 0 {
		p.Vendor = extract.VendorName(r.Vendor[0].Token)
	}
	return p, nil
}

// Reset records a reset.
func (m *MockExtractor) Reset() {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
}

// Train records the entries.
func (m *MockExtractor) Train(entries []model.LearnedEntry) {
	m.mu.Lock()
	m.trained = append(m.trained, entries...)
	m.mu.Unlock()
}

// Calls returns the recorded Extract calls.
func (m *MockExtractor) Calls() []MockExtractorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockExtractorCall(nil), m.calls...)
}

// Resets returns how many times Reset was called.
func (m *MockExtractor) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Trained returns every entry passed to Train.
func (m *MockExtractor) Trained() []model.LearnedEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LearnedEntry(nil), m.trained...)
}
