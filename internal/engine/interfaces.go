package engine

import (
	"context"

	"github.com/Veraticus/smsledger/internal/ml"
	"github.com/Veraticus/smsledger/internal/model"
)

// Extractor is the statistical extractor consulted when no learned template
// fits a message.
type Extractor interface {
	Extract(ctx context.Context, text string, highAccuracy bool) (*ml.Prediction, error)
	// Reset discards any state left by a failed call.
	Reset()
}

// Trainer is implemented by extractors that learn from confirmed entries.
type Trainer interface {
	Train(entries []model.LearnedEntry)
}

// stage is one step of the matching cascade. Resolve returns nil when the
// stage has nothing to offer for the message.
type stage interface {
	Origin() model.Origin
	Resolve(ctx context.Context, req *request) (*resolution, error)
}
