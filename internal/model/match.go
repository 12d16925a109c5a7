package model

import "time"

// StructureTemplate is the generalized shape of a learned message.
type StructureTemplate struct {
	CreatedAt     time.Time        `json:"createdAt"`
	DefaultValues *ConfirmedFields `json:"defaultValues,omitempty"`
	Hash          string           `json:"hash"`
	Structure     string           `json:"structure"`
	Fields        []Field          `json:"fields"`
}

// MatchResult is the outcome of matching a message against learned templates.
// Matched implies Confidence >= the configured threshold.
type MatchResult struct {
	Entry            *LearnedEntry      `json:"entry,omitempty"`
	FallbackTemplate *StructureTemplate `json:"fallbackTemplate,omitempty"`
	Confidence       float64            `json:"confidence"`
	Matched          bool               `json:"matched"`
	ShouldTrain      bool               `json:"shouldTrain,omitempty"`
}

// NoMatch is the result for messages nothing could resolve.
func NoMatch() MatchResult {
	return MatchResult{}
}
