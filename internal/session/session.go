// Package session owns the single active analysis context of the process.
//
// A Session ties one engine instance to its log feed and tracks the lifecycle
// from attach to terminate. Terminate is an explicit, idempotent transition;
// after it the engine is released and every accessor reports ErrTerminated.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/binbridge/binbridge/internal/engine"
)

// ErrTerminated is returned by accessors once the session has been terminated.
var ErrTerminated = errors.New("session terminated")

// Session is the process-wide analysis context.
type Session struct {
	id        string
	createdAt time.Time
	logger    zerolog.Logger
	log       *Log

	mu         sync.RWMutex
	eng        engine.Engine
	terminated bool
	lastStatus engine.Status
	stopWatch  context.CancelFunc
}

// New attaches a session to eng. The log is shared with the engine so both
// sides see the same feed; pass nil to create a fresh one.
func New(eng engine.Engine, log *Log, logger zerolog.Logger) *Session {
	if log == nil {
		log = NewLog()
	}
	s := &Session{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		logger:    logger.With().Str("component", "session").Logger(),
		log:       log,
		eng:       eng,
	}
	s.lastStatus = eng.CurrentStatus()

	s.logger.Info().
		Str("session_id", s.id).
		Str("file", eng.CurrentFilePath()).
		Str("status", s.lastStatus.String()).
		Msg("Session attached")

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the attach time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Log returns the session's log feed. It stays readable after terminate.
func (s *Session) Log() *Log { return s.log }

// Engine returns the attached engine, or ErrTerminated.
func (s *Session) Engine() (engine.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.terminated {
		return nil, ErrTerminated
	}
	return s.eng, nil
}

// Terminated reports whether Terminate has been called.
func (s *Session) Terminated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminated
}

// Status returns the session status. It never moves backwards: a lower value
// reported by the engine is ignored in favour of the last one observed.
func (s *Session) Status() engine.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		return engine.StatusTerminated
	}
	current := s.eng.CurrentStatus()
	if current < s.lastStatus {
		s.logger.Warn().
			Str("reported", current.String()).
			Str("kept", s.lastStatus.String()).
			Msg("Engine reported a status regression")
		return s.lastStatus
	}
	s.lastStatus = current
	return current
}

// FilePath returns the loaded file, or engine.ErrNoFile.
func (s *Session) FilePath() (string, error) {
	eng, err := s.Engine()
	if err != nil {
		return "", err
	}
	path := eng.CurrentFilePath()
	if path == "" {
		return "", engine.ErrNoFile
	}
	return path, nil
}

// Terminate ends the session. It returns true when the session was already
// terminated, in which case nothing else happens.
func (s *Session) Terminate() (already bool, err error) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return true, nil
	}
	s.terminated = true
	s.lastStatus = engine.StatusTerminated
	eng := s.eng
	stop := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}

	s.log.Append("session terminated")
	s.logger.Info().Str("session_id", s.id).Msg("Session terminated")

	if closer, ok := eng.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			return false, fmt.Errorf("failed to close engine: %w", cerr)
		}
	}
	return false, nil
}
