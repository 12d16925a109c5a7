package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserError(t *testing.T) {
	err := NewUserError("No message given", ErrEmptyMessage)
	assert.Equal(t, "No message given: message is empty", err.Error())
	assert.ErrorIs(t, err, ErrEmptyMessage)

	var userErr *UserError
	assert.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &userErr)
	assert.Equal(t, "No message given", userErr.UserMessage)

	assert.Equal(t, "plain", NewUserError("plain", nil).Error())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "busy", err: fmt.Errorf("write: %w", ErrDatabaseBusy), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "locked string", err: errors.New("database is locked"), want: true},
		{name: "sqlite busy string", err: errors.New("SQLITE_BUSY: try again"), want: true},
		{name: "marked retryable", err: &RetryableError{Err: errors.New("flaky"), Retryable: true}, want: true},
		{name: "marked permanent", err: &RetryableError{Err: errors.New("flaky"), Retryable: false}, want: false},
		{name: "not found", err: ErrNotFound, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
