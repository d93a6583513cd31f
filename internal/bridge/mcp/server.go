// Package mcp exposes every bridge operation as a Model Context Protocol
// tool. Tool results carry the response envelope as JSON text.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/binbridge/binbridge/internal/bridge"
	"github.com/binbridge/binbridge/pkg/version"
)

// ToolPrefix prefixes the wire name of each operation to form its tool name.
const ToolPrefix = "binbridge_"

// inputTypes maps operations to their tool input shape. Operations not
// listed take no arguments.
var inputTypes = map[bridge.Operation]any{
	bridge.OpStrings:            ListInput{},
	bridge.OpProcedures:         ListInput{},
	bridge.OpProcedureSignature: ProcedureInput{},
	bridge.OpDecompile:          CodeInput{},
	bridge.OpDisassemble:        CodeInput{},
	bridge.OpXrefs:              XrefsInput{},
	bridge.OpLogMessages:        LogMessagesInput{},
}

// Config contains configuration for the MCP server.
type Config struct {
	// EnabledTools optionally restricts which tools are available, by tool
	// name or operation wire name. If empty, every operation the dispatcher
	// enables is exposed.
	EnabledTools []string

	Logger zerolog.Logger
}

// Server registers bridge operations with an MCP server.
type Server struct {
	dispatcher *bridge.Dispatcher
	mcpServer  *server.MCPServer
	config     Config
	logger     zerolog.Logger
	tools      map[string]bridge.Operation
}

// New creates the MCP server and registers one tool per enabled operation.
func New(d *bridge.Dispatcher, cfg Config) (*Server, error) {
	if d == nil {
		return nil, fmt.Errorf("mcp server requires a dispatcher")
	}

	s := &Server{
		dispatcher: d,
		mcpServer: server.NewMCPServer(
			"binbridge",
			version.Version,
			server.WithToolCapabilities(true),
		),
		config: cfg,
		logger: cfg.Logger.With().Str("component", "mcp").Logger(),
		tools:  make(map[string]bridge.Operation),
	}

	for _, op := range bridge.Operations() {
		if err := s.registerOperation(op); err != nil {
			return nil, fmt.Errorf("failed to register tool for %s: %w", op, err)
		}
	}

	s.logger.Debug().Int("tool_count", len(s.tools)).Msg("MCP server initialized")
	return s, nil
}

// ToolName returns the tool name of op.
func ToolName(op bridge.Operation) string {
	return ToolPrefix + op.String()
}

func (s *Server) isToolEnabled(op bridge.Operation) bool {
	if !s.dispatcher.Enabled(op) {
		return false
	}
	if len(s.config.EnabledTools) == 0 {
		return true
	}
	return slices.Contains(s.config.EnabledTools, ToolName(op)) ||
		slices.Contains(s.config.EnabledTools, op.String())
}

func (s *Server) registerOperation(op bridge.Operation) error {
	if !s.isToolEnabled(op) {
		return nil
	}

	input, ok := inputTypes[op]
	if !ok {
		input = NoInput{}
	}
	inputSchema, err := generateInputSchema(input)
	if err != nil {
		return err
	}
	schemaBytes, err := json.Marshal(inputSchema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	name := ToolName(op)
	tool := mcp.NewToolWithRawSchema(name, op.Description(), schemaBytes)
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args []byte
		if request.Params.Arguments != nil {
			var err error
			args, err = json.Marshal(request.Params.Arguments)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to marshal arguments: %v", err)), nil
			}
		}

		env := s.call(ctx, op, args)
		text, err := json.Marshal(env)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
		}
		if !env.OK {
			return mcp.NewToolResultError(string(text)), nil
		}
		return mcp.NewToolResultText(string(text)), nil
	})
	s.tools[name] = op
	return nil
}

// call decodes tool arguments into a bridge request and dispatches it. The
// "addresses" argument travels in the body as a batch; every other argument
// becomes a parameter. Malformed arguments yield an InvalidArgument envelope.
func (s *Server) call(ctx context.Context, op bridge.Operation, args []byte) bridge.Envelope {
	params, body, err := decodeArguments(args)
	if err != nil {
		return bridge.Failure(err)
	}

	s.logger.Debug().Str("operation", op.String()).Msg("Tool call")
	return s.dispatcher.Do(ctx, &bridge.Request{Operation: op, Params: params, Body: body})
}

// decodeArguments splits a JSON argument object into scalar parameters and
// an optional batch body. Type checks beyond that are left to the handlers,
// which accept addresses as hex strings or integral numbers.
func decodeArguments(args []byte) (bridge.Params, []byte, error) {
	params := bridge.Params{}
	args = bytes.TrimSpace(args)
	if len(args) == 0 || string(args) == "null" {
		return params, nil, nil
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, bridge.InvalidArgument("arguments must be a JSON object: %v", err)
	}

	var body []byte
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case []any:
			if key != "addresses" {
				return nil, nil, bridge.InvalidArgument("argument %q must be a scalar", key)
			}
			b, err := json.Marshal(map[string]any{"addresses": v})
			if err != nil {
				return nil, nil, bridge.InvalidArgument("argument \"addresses\": %v", err)
			}
			body = b
		case map[string]any:
			return nil, nil, bridge.InvalidArgument("argument %q must be a scalar", key)
		default:
			params[key] = v
		}
	}
	return params, body, nil
}

// ToolNames returns the registered tool names, sorted.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteTool runs a tool by name with JSON-encoded arguments and returns
// the envelope JSON, bypassing the MCP transport.
func (s *Server) ExecuteTool(ctx context.Context, toolName string, argumentsJSON string) (string, error) {
	op, ok := s.tools[toolName]
	if !ok {
		return "", fmt.Errorf("tool not found or not enabled: %s", toolName)
	}

	env := s.call(ctx, op, []byte(argumentsJSON))
	text, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(text), nil
}

// HandleMessage processes one JSON-RPC message.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// ServeStdio serves MCP over stdin and stdout until ctx ends or stdin closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info().Int("tool_count", len(s.tools)).Msg("Starting MCP server on stdio")
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// generateInputSchema reflects an inline JSON schema for an input type.
func generateInputSchema(inputType any) (map[string]any, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(inputType)

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(schemaBytes, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	// MCP clients expect a plain object schema.
	delete(schemaMap, "$schema")
	delete(schemaMap, "$id")

	if _, ok := schemaMap["properties"]; !ok {
		schemaMap["properties"] = map[string]any{}
	}
	return schemaMap, nil
}
