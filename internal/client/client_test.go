package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binbridge/binbridge/internal/bridge"
	"github.com/binbridge/binbridge/internal/bridge/httpapi"
	"github.com/binbridge/binbridge/internal/engine/enginetest"
	"github.com/binbridge/binbridge/internal/retry"
	"github.com/binbridge/binbridge/internal/session"
)

func newBridge(t *testing.T) *httptest.Server {
	t.Helper()
	sess := session.New(enginetest.Fixture(), nil, zerolog.Nop())
	d, err := bridge.NewDispatcher(sess, bridge.HostFunc(func() {}), bridge.Config{}, zerolog.Nop())
	require.NoError(t, err)

	s, err := httpapi.New(httpapi.Config{Dispatcher: d, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestNewBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://127.0.0.1:9000/", "http://127.0.0.1:9000"},
		{"127.0.0.1:9000", "http://127.0.0.1:9000"},
		{"https://bridge.local", "https://bridge.local"},
		{"", "http://127.0.0.1:52349"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.in).BaseURL())
		})
	}
}

func TestCall(t *testing.T) {
	ts := newBridge(t)
	c := New(ts.URL)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		env, err := c.Call(ctx, "procedures", map[string]string{"limit": "2"}, nil)
		require.NoError(t, err)
		require.True(t, env.OK)

		var procs []map[string]any
		require.NoError(t, env.Decode(&procs))
		require.Len(t, procs, 2)
		assert.Equal(t, "main", procs[0]["name"])
	})

	t.Run("alias", func(t *testing.T) {
		env, err := c.Call(ctx, "get-procedure-signature", map[string]string{"address": "0x1000"}, nil)
		require.NoError(t, err)
		require.True(t, env.OK)
	})

	t.Run("batch body", func(t *testing.T) {
		env, err := c.Call(ctx, "disassemble", nil, []byte(`{"addresses":["0x1000","0x1100"]}`))
		require.NoError(t, err)
		require.True(t, env.OK)

		var entries []bridge.BatchEntry
		require.NoError(t, env.Decode(&entries))
		assert.Len(t, entries, 2)
	})

	t.Run("bridge failure is not a transport error", func(t *testing.T) {
		env, err := c.Call(ctx, "decompile", map[string]string{"address": "0x9999"}, nil)
		require.NoError(t, err)
		assert.False(t, env.OK)
		assert.Equal(t, bridge.KindNotFound, env.Error.Kind)
		assert.Equal(t, bridge.KindNotFound, bridge.KindOf(env.Err()))
	})

	t.Run("unknown operation", func(t *testing.T) {
		env, err := c.Call(ctx, "segmnts", nil, nil)
		require.NoError(t, err)
		assert.False(t, env.OK)
		assert.Equal(t, bridge.KindUnknownOperation, env.Error.Kind)
		assert.Contains(t, env.Error.Message, `did you mean "segments"`)
	})
}

func TestCallUnexpectedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gateway exploded", http.StatusBadGateway)
	}))
	t.Cleanup(ts.Close)

	_, err := New(ts.URL).Call(context.Background(), "status", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
	assert.Contains(t, err.Error(), "gateway exploded")
}

func TestHealth(t *testing.T) {
	ts := newBridge(t)

	h, err := New(ts.URL).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.NotEmpty(t, h.Session)
}

func TestHealthIncompatible(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(httpapi.HealthResponse{Status: "ok", APIVersion: "2.1.0"})
	}))
	t.Cleanup(ts.Close)

	_, err := New(ts.URL).Health(context.Background())
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestCheckAPIVersion(t *testing.T) {
	assert.NoError(t, CheckAPIVersion("1.0.0"))
	assert.NoError(t, CheckAPIVersion("1.4.2"))
	assert.ErrorIs(t, CheckAPIVersion("2.0.0"), ErrIncompatible)
	assert.ErrorIs(t, CheckAPIVersion("0.9.0"), ErrIncompatible)
	assert.ErrorIs(t, CheckAPIVersion("not-a-version"), ErrIncompatible)
}

func TestWaitReady(t *testing.T) {
	fast := retry.Config{MaxAttempts: 10, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	t.Run("becomes ready", func(t *testing.T) {
		var calls atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_ = json.NewEncoder(w).Encode(httpapi.HealthResponse{Status: "ok", APIVersion: "1.0.0", Session: "s"})
		}))
		t.Cleanup(ts.Close)

		h, err := New(ts.URL).WaitReady(context.Background(), fast)
		require.NoError(t, err)
		assert.Equal(t, "s", h.Session)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("incompatible stops at once", func(t *testing.T) {
		var calls atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			_ = json.NewEncoder(w).Encode(httpapi.HealthResponse{Status: "ok", APIVersion: "3.0.0"})
		}))
		t.Cleanup(ts.Close)

		_, err := New(ts.URL).WaitReady(context.Background(), fast)
		assert.ErrorIs(t, err, ErrIncompatible)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("gives up", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(ts.Close)

		_, err := New(ts.URL).WaitReady(context.Background(), retry.Config{MaxAttempts: 2, InitialBackoff: time.Millisecond})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed after 2 attempts")
	})
}
