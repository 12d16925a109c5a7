package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrInputCanceled is returned when reading is canceled by the context.
var ErrInputCanceled = errors.New("input canceled")

// Reader reads message text from a stream and gives up when its context is
// canceled, so a pending read of standard input does not block Ctrl+C.
type Reader struct {
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewReader creates a context-aware reader.
func NewReader(r io.Reader) *Reader {
	if r == nil {
		panic("reader cannot be nil")
	}
	return &Reader{reader: bufio.NewReader(r)}
}

// ReadAll reads until EOF and returns the trimmed text.
func (r *Reader) ReadAll(ctx context.Context) (string, error) {
	type result struct {
		err   error
		value string
	}
	resultCh := make(chan result, 1)

	go func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		data, err := io.ReadAll(r.reader)
		resultCh <- result{value: string(data), err: err}
	}()

	select {
	case <-ctx.Done():
		// The read goroutine finishes on its own once the stream closes.
		return "", ErrInputCanceled
	case res := <-resultCh:
		if res.err != nil {
			return "", res.err
		}
		return strings.TrimSpace(res.value), nil
	}
}
