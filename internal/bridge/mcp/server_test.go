package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binbridge/binbridge/internal/bridge"
	"github.com/binbridge/binbridge/internal/engine"
	"github.com/binbridge/binbridge/internal/engine/enginetest"
	"github.com/binbridge/binbridge/internal/session"
)

func newTestServer(t *testing.T, bcfg bridge.Config, cfg Config) (*Server, *enginetest.Fake) {
	t.Helper()
	fake := enginetest.Fixture()
	sess := session.New(fake, nil, zerolog.Nop())
	d, err := bridge.NewDispatcher(sess, bridge.HostFunc(func() {}), bcfg, zerolog.Nop())
	require.NoError(t, err)

	cfg.Logger = zerolog.Nop()
	s, err := New(d, cfg)
	require.NoError(t, err)
	return s, fake
}

// rpc sends one JSON-RPC request and returns the decoded response.
func rpc(t *testing.T, s *Server, id int, method string, params any) map[string]any {
	t.Helper()
	msg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	resp := s.HandleMessage(context.Background(), msg)
	require.NotNil(t, resp)
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Nil(t, out["error"], "unexpected JSON-RPC error: %s", raw)
	return out
}

func initialize(t *testing.T, s *Server) {
	t.Helper()
	rpc(t, s, 1, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "1.0.0"},
	})
}

// toolText calls a tool and returns its text content and error flag.
func toolText(t *testing.T, s *Server, name string, args map[string]any) (string, bool) {
	t.Helper()
	out := rpc(t, s, 3, "tools/call", map[string]any{"name": name, "arguments": args})
	result, ok := out["result"].(map[string]any)
	require.True(t, ok, "missing result: %v", out)

	content, ok := result["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	first := content[0].(map[string]any)
	assert.Equal(t, "text", first["type"])

	isError, _ := result["isError"].(bool)
	return first["text"].(string), isError
}

func decodeEnvelope(t *testing.T, text string) bridge.Envelope {
	t.Helper()
	var env bridge.Envelope
	require.NoError(t, json.Unmarshal([]byte(text), &env))
	return env
}

func TestGenerateInputSchema(t *testing.T) {
	t.Run("list input", func(t *testing.T) {
		schema, err := generateInputSchema(ListInput{})
		require.NoError(t, err)

		assert.Equal(t, "object", schema["type"])
		assert.NotContains(t, schema, "$schema")
		assert.NotContains(t, schema, "$id")
		assert.NotContains(t, schema, "$defs")

		props, ok := schema["properties"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, props, "filter")
		assert.Contains(t, props, "offset")
		assert.Contains(t, props, "limit")
		assert.NotContains(t, schema, "required")
	})

	t.Run("required address", func(t *testing.T) {
		schema, err := generateInputSchema(XrefsInput{})
		require.NoError(t, err)
		assert.Equal(t, []any{"address"}, schema["required"])
	})

	t.Run("no input", func(t *testing.T) {
		schema, err := generateInputSchema(NoInput{})
		require.NoError(t, err)
		assert.Equal(t, "object", schema["type"])
		assert.Equal(t, map[string]any{}, schema["properties"])
	})
}

func TestToolNames(t *testing.T) {
	s, _ := newTestServer(t, bridge.Config{}, Config{})

	names := s.ToolNames()
	assert.Len(t, names, len(bridge.Operations()))
	assert.Contains(t, names, "binbridge_strings")
	assert.Contains(t, names, "binbridge_all_pseudocode")
	assert.Contains(t, names, "binbridge_terminate")
	assert.Equal(t, "binbridge_procedure_signature", ToolName(bridge.OpProcedureSignature))
}

func TestToolFiltering(t *testing.T) {
	t.Run("config list", func(t *testing.T) {
		s, _ := newTestServer(t, bridge.Config{}, Config{EnabledTools: []string{"binbridge_status", "segments"}})
		assert.Equal(t, []string{"binbridge_segments", "binbridge_status"}, s.ToolNames())
	})

	t.Run("dispatcher disabled operations", func(t *testing.T) {
		s, _ := newTestServer(t, bridge.Config{EnabledOperations: []string{"status", "strings"}}, Config{})
		assert.Equal(t, []string{"binbridge_status", "binbridge_strings"}, s.ToolNames())
	})
}

func TestToolsList(t *testing.T) {
	s, _ := newTestServer(t, bridge.Config{}, Config{})
	initialize(t, s)

	out := rpc(t, s, 2, "tools/list", map[string]any{})
	result := out["result"].(map[string]any)
	tools := result["tools"].([]any)
	require.Len(t, tools, len(bridge.Operations()))

	byName := make(map[string]map[string]any)
	for _, tool := range tools {
		m := tool.(map[string]any)
		byName[m["name"].(string)] = m
	}

	decompile, ok := byName["binbridge_decompile"]
	require.True(t, ok)
	assert.Equal(t, bridge.OpDecompile.Description(), decompile["description"])
	schema := decompile["inputSchema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "address")
	assert.Contains(t, props, "name")
	assert.Contains(t, props, "addresses")
}

func TestToolsCall(t *testing.T) {
	s, fake := newTestServer(t, bridge.Config{}, Config{})
	initialize(t, s)

	t.Run("segments", func(t *testing.T) {
		text, isError := toolText(t, s, "binbridge_segments", nil)
		assert.False(t, isError)
		env := decodeEnvelope(t, text)
		require.True(t, env.OK)

		var segments []map[string]any
		require.NoError(t, env.Decode(&segments))
		require.Len(t, segments, 4)
		assert.Equal(t, "0x1000", segments[0]["start"])
	})

	t.Run("signature by name", func(t *testing.T) {
		text, isError := toolText(t, s, "binbridge_procedure_signature", map[string]any{"name": "main"})
		assert.False(t, isError)
		env := decodeEnvelope(t, text)
		require.True(t, env.OK)

		var sig map[string]any
		require.NoError(t, env.Decode(&sig))
		assert.Equal(t, "int main(int argc, char ** argv)", sig["text"])
	})

	t.Run("paginated procedures", func(t *testing.T) {
		text, _ := toolText(t, s, "binbridge_procedures", map[string]any{"offset": 1, "limit": 1})
		env := decodeEnvelope(t, text)
		require.True(t, env.OK)

		var procs []map[string]any
		require.NoError(t, env.Decode(&procs))
		require.Len(t, procs, 1)
		assert.Equal(t, "helper", procs[0]["name"])
	})

	t.Run("batch decompile", func(t *testing.T) {
		text, isError := toolText(t, s, "binbridge_decompile", map[string]any{
			"addresses": []string{"0x1000", "0x1234"},
		})
		assert.False(t, isError)
		env := decodeEnvelope(t, text)
		require.True(t, env.OK)

		var entries []bridge.BatchEntry
		require.NoError(t, env.Decode(&entries))
		require.Len(t, entries, 2)
		assert.True(t, entries[0].OK)
		assert.False(t, entries[1].OK)
		require.NotNil(t, entries[1].Error)
		assert.Equal(t, bridge.KindNotFound, entries[1].Error.Kind)
	})

	t.Run("error envelope", func(t *testing.T) {
		before := fake.Calls()
		text, isError := toolText(t, s, "binbridge_xrefs", map[string]any{"address": "zz"})
		assert.True(t, isError)
		env := decodeEnvelope(t, text)
		assert.False(t, env.OK)
		require.NotNil(t, env.Error)
		assert.Equal(t, bridge.KindInvalidArgument, env.Error.Kind)
		assert.Equal(t, before, fake.Calls())
	})

	t.Run("numeric address", func(t *testing.T) {
		text, isError := toolText(t, s, "binbridge_xrefs", map[string]any{"address": 0x1100})
		assert.False(t, isError)
		env := decodeEnvelope(t, text)
		require.True(t, env.OK)
		var res bridge.XrefsResult
		require.NoError(t, env.Decode(&res))
		assert.Equal(t, engine.Address(0x1100), res.Address)
		assert.NotEmpty(t, res.To)
	})

	t.Run("argument of wrong type", func(t *testing.T) {
		before := fake.Calls()
		text, isError := toolText(t, s, "binbridge_decompile", map[string]any{"address": true})
		assert.True(t, isError)
		env := decodeEnvelope(t, text)
		assert.False(t, env.OK)
		require.NotNil(t, env.Error)
		assert.Equal(t, bridge.KindInvalidArgument, env.Error.Kind)
		assert.Equal(t, before, fake.Calls())
	})
}

func TestExecuteTool(t *testing.T) {
	s, _ := newTestServer(t, bridge.Config{}, Config{})
	ctx := context.Background()

	out, err := s.ExecuteTool(ctx, "binbridge_filepath", "")
	require.NoError(t, err)
	env := decodeEnvelope(t, out)
	require.True(t, env.OK)
	var res map[string]string
	require.NoError(t, env.Decode(&res))
	assert.Equal(t, "/fixtures/sample.bin", res["path"])

	out, err = s.ExecuteTool(ctx, "binbridge_log_messages", `{"since": 100}`)
	require.NoError(t, err)
	env = decodeEnvelope(t, out)
	var logs bridge.LogMessagesResult
	require.NoError(t, env.Decode(&logs))
	assert.Empty(t, logs.Entries)
	assert.NotNil(t, logs.Entries)

	_, err = s.ExecuteTool(ctx, "binbridge_nope", "{}")
	assert.ErrorContains(t, err, "tool not found")

	for _, args := range []string{`{"filter": {"nested": true}}`, `[1, 2]`, `{"address":`} {
		out, err = s.ExecuteTool(ctx, "binbridge_strings", args)
		require.NoError(t, err, args)
		env = decodeEnvelope(t, out)
		assert.False(t, env.OK, args)
		require.NotNil(t, env.Error, args)
		assert.Equal(t, bridge.KindInvalidArgument, env.Error.Kind, args)
	}
}

func TestExecuteToolTerminate(t *testing.T) {
	s, _ := newTestServer(t, bridge.Config{}, Config{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := s.ExecuteTool(ctx, "binbridge_terminate", "{}")
		require.NoError(t, err)
		env := decodeEnvelope(t, out)
		require.True(t, env.OK, fmt.Sprintf("call %d", i))
	}

	out, err := s.ExecuteTool(ctx, "binbridge_segments", "{}")
	require.NoError(t, err)
	env := decodeEnvelope(t, out)
	require.False(t, env.OK)
	assert.Equal(t, bridge.KindNotReady, env.Error.Kind)
}
