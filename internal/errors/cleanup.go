// Package errors holds cleanup helpers for resources whose Close error
// has nowhere to go but the log.
package errors

import (
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// DeferClose closes c and logs a failure as a warning naming what.
// Closing an already-closed resource is not reported.
func DeferClose(logger zerolog.Logger, c io.Closer, what string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		logger.Warn().Err(err).Str("resource", what).Msg("Failed to close")
	}
}
