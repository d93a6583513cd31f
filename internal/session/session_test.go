package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binbridge/binbridge/internal/engine"
	"github.com/binbridge/binbridge/internal/engine/enginetest"
)

type closingEngine struct {
	*enginetest.Fake
	closed int
	err    error
}

func (c *closingEngine) Close() error {
	c.closed++
	return c.err
}

func TestLogSince(t *testing.T) {
	log := NewLog()
	for i := 0; i < 5; i++ {
		log.Append(fmt.Sprintf("line %d", i))
	}

	tests := []struct {
		name  string
		since int
		want  []string
	}{
		{name: "from start", since: 0, want: []string{"line 0", "line 1", "line 2", "line 3", "line 4"}},
		{name: "middle", since: 3, want: []string{"line 3", "line 4"}},
		{name: "at length", since: 5, want: []string{}},
		{name: "beyond length", since: 6, want: []string{}},
		{name: "negative", since: -1, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := log.Since(tt.since)
			got := make([]string, len(entries))
			for i, e := range entries {
				got[i] = e.Message
				assert.Equal(t, tt.since+i, e.Index)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogConcurrentAppend(t *testing.T) {
	log := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				log.Append("x")
			}
		}()
	}
	wg.Wait()

	entries := log.All()
	require.Len(t, entries, 400)
	for i, e := range entries {
		assert.Equal(t, i, e.Index)
	}
}

func TestSessionTerminateIsIdempotent(t *testing.T) {
	eng := &closingEngine{Fake: enginetest.Fixture()}
	s := New(eng, nil, zerolog.Nop())

	already, err := s.Terminate()
	require.NoError(t, err)
	assert.False(t, already)
	assert.True(t, s.Terminated())

	already, err = s.Terminate()
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, 1, eng.closed)

	_, err = s.Engine()
	assert.ErrorIs(t, err, ErrTerminated)
	_, err = s.FilePath()
	assert.ErrorIs(t, err, ErrTerminated)
	assert.Equal(t, engine.StatusTerminated, s.Status())
}

func TestSessionTerminateCloseError(t *testing.T) {
	eng := &closingEngine{Fake: enginetest.Fixture(), err: errors.New("boom")}
	s := New(eng, nil, zerolog.Nop())

	_, err := s.Terminate()
	require.Error(t, err)
	assert.True(t, s.Terminated())
}

func TestSessionFilePath(t *testing.T) {
	s := New(enginetest.Fixture(), nil, zerolog.Nop())
	path, err := s.FilePath()
	require.NoError(t, err)
	assert.Equal(t, "/fixtures/sample.bin", path)

	empty := New(enginetest.New(""), nil, zerolog.Nop())
	_, err = empty.FilePath()
	assert.ErrorIs(t, err, engine.ErrNoFile)
}

func TestSessionStatusIsMonotonic(t *testing.T) {
	fake := enginetest.Fixture()
	fake.Status = engine.StatusAnalyzing
	s := New(fake, nil, zerolog.Nop())
	assert.Equal(t, engine.StatusAnalyzing, s.Status())

	fake.Status = engine.StatusReady
	assert.Equal(t, engine.StatusReady, s.Status())

	fake.Status = engine.StatusLoading
	assert.Equal(t, engine.StatusReady, s.Status())
}

func TestSessionHostStats(t *testing.T) {
	s := New(enginetest.Fixture(), nil, zerolog.Nop())
	stats := s.HostStats()
	assert.Equal(t, os.Getpid(), stats.PID)
	assert.NotEmpty(t, stats.Uptime)
}

func TestSessionWatchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x7f, 'E', 'L', 'F'}, 0o600))

	fake := enginetest.Fixture()
	fake.Path = path
	s := New(fake, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.WatchFile(ctx))

	require.NoError(t, os.WriteFile(path, []byte{0x7f, 'E', 'L', 'F', 0}, 0o600))

	assert.Eventually(t, func() bool {
		for _, e := range s.Log().All() {
			if e.Message == fmt.Sprintf("file %s changed on disk; analysis results may be stale", path) {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	_, err := s.Terminate()
	require.NoError(t, err)
	assert.ErrorIs(t, s.WatchFile(ctx), ErrTerminated)
}
