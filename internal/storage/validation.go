package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation errors.
var (
	ErrNilContext     = errors.New("context cannot be nil")
	ErrEmptyString    = errors.New("string parameter cannot be empty")
	ErrNilParameter   = errors.New("parameter cannot be nil")
	ErrInvalidAttempt = errors.New("invalid match attempt")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateAttempt checks the fields every stored attempt needs.
func validateAttempt(a *Attempt) error {
	if a == nil {
		return fmt.Errorf("%w: attempt", ErrNilParameter)
	}
	if a.MessageHash == "" {
		return fmt.Errorf("%w: missing message hash", ErrInvalidAttempt)
	}
	if a.AttemptedAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidAttempt)
	}
	if a.Origin != "" && !a.Origin.Valid() {
		return fmt.Errorf("%w: origin %q", ErrInvalidAttempt, a.Origin)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidAttempt, a.Confidence)
	}
	return nil
}

func inWindow(t, since, until time.Time) bool {
	if !since.IsZero() && t.Before(since) {
		return false
	}
	if !until.IsZero() && !t.Before(until) {
		return false
	}
	return true
}
