package errors

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type stubCloser struct {
	err    error
	closed bool
}

func (s *stubCloser) Close() error {
	s.closed = true
	return s.err
}

func TestDeferClose(t *testing.T) {
	tests := []struct {
		name   string
		closer *stubCloser
		logged bool
	}{
		{name: "nil closer"},
		{name: "clean close", closer: &stubCloser{}},
		{name: "already closed", closer: &stubCloser{err: io.ErrClosedPipe}},
		{name: "close error", closer: &stubCloser{err: errors.New("disk gone")}, logged: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			var c io.Closer
			if tt.closer != nil {
				c = tt.closer
			}
			DeferClose(zerolog.New(&buf), c, "file watcher")

			if tt.closer != nil {
				assert.True(t, tt.closer.closed)
			}
			if tt.logged {
				assert.Contains(t, buf.String(), `"resource":"file watcher"`)
				assert.Contains(t, buf.String(), "disk gone")
			} else {
				assert.Zero(t, buf.Len())
			}
		})
	}
}
