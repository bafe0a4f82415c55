package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mkaravaev/toolhost-mcp/internal/logging"
	"github.com/mkaravaev/toolhost-mcp/internal/process"
	"github.com/mkaravaev/toolhost-mcp/internal/registry"
)

const maxLineSize = 16 * 1024 * 1024

// Server is the newline-delimited JSON-RPC 2.0 dispatcher. It consults a
// frozen *registry.Registry and re-invokes the same *process.Runner used
// to build it for every tools/call.
type Server struct {
	Descriptor Descriptor
	Registry   *registry.Registry
	Runner     *process.Runner
	Log        *logging.Logger

	// CallTimeout bounds a single tools/call invocation. Zero (the
	// default) disables the timeout, per spec.md §9's open question —
	// the dispatcher never cancels a call on its own unless a caller
	// opts in via this field.
	CallTimeout time.Duration

	// ValidateArguments toggles the advisory schema pre-validation step.
	// Defaults to false on a zero-value Server; callers wire it from
	// config.Config.Server.ValidateArguments.
	ValidateArguments bool
}

// Serve reads newline-delimited JSON-RPC requests from in and writes
// responses to out until in reaches EOF, at which point it returns nil.
// One response line is written per request line, in order; notifications
// produce no response line.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp := s.handleLine(ctx, line)
		if resp == nil {
			continue
		}

		if err := writeResponse(out, resp); err != nil {
			return fmt.Errorf("rpc: write response: %w", err)
		}
	}

	return scanner.Err()
}

func writeResponse(out io.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		// Internal encoding failure: drop the response and continue,
		// per spec.md §7 ("if the response itself cannot be produced,
		// the server drops the response and continues").
		return nil //nolint:nilerr // intentional per spec.md §7
	}

	data = append(data, '\n')
	_, err = out.Write(data)

	return err
}

func (s *Server) handleLine(ctx context.Context, line []byte) (resp *Response) {
	var req Request

	defer func() {
		if r := recover(); r != nil {
			s.Log.Error("request handler panicked", "method", req.Method, "panic", r)
			resp = errorResponse(req.ID, CodeInternal, "internal error")
		}
	}()

	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, CodeParseError, "parse error: "+err.Error())
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request")
	}

	if req.Method == "notifications/initialized" {
		s.Log.Info("client initialized")

		return nil
	}

	if req.IsNotification() {
		s.Log.Info("notification ignored", "method", req.Method)

		return nil
	}

	if !isNumericID(req.ID) {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request: id must be numeric")
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list", "resources/templates/list", "prompts/list":
		return resultResponse(req.ID, stubResults[req.Method])
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "Method not found")
	}
}

func isNumericID(id json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(id, &v); err != nil {
		return false
	}

	_, ok := v.(float64)

	return ok
}

func (s *Server) handleInitialize(req Request) *Response {
	instructions := s.Registry.Instructions(BaseInstructions())

	return resultResponse(req.ID, s.Descriptor.Initialize(instructions))
}

func (s *Server) handleToolsList(req Request) *Response {
	if errs := s.Registry.ListingErrors(); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.String())
		}

		return errorResponse(req.ID, CodeInternal, strings.Join(msgs, "; "))
	}

	if dups := s.Registry.Duplicates(); len(dups) > 0 {
		return errorResponse(req.ID, CodeInternal, duplicateMessage(dups))
	}

	return resultResponse(req.ID, newListToolsResult(s.Registry.Definitions()))
}

func duplicateMessage(dups []registry.DuplicateEntry) string {
	parts := make([]string, 0, len(dups))
	for _, d := range dups {
		parts = append(parts, fmt.Sprintf("%q claimed by %s", d.Name, strings.Join(d.Providers, ", ")))
	}

	return "duplicate tool names: " + strings.Join(parts, "; ")
}

func (s *Server) handleToolsCall(ctx context.Context, req Request) *Response {
	if len(req.Params) == 0 {
		return errorResponse(req.ID, CodeInvalidParams, "missing params")
	}

	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
	}

	if params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params: name is required")
	}

	argJSON := params.Arguments
	if len(argJSON) == 0 {
		argJSON = json.RawMessage("{}")
	}

	res, ok := s.Registry.Resolve(params.Name)
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, "Tool not found: "+params.Name)
	}

	switch binding := res.(type) {
	case registry.DuplicateEntry:
		return errorResponse(req.ID, CodeInternal,
			fmt.Sprintf("%q is claimed by multiple providers: %s", binding.Name, strings.Join(binding.Providers, ", ")))
	case registry.ProviderBinding:
		if msg, invalid := s.validateArguments(binding, argJSON); invalid {
			return errorResponse(req.ID, CodeInvalidParams, msg)
		}

		return s.invokeTool(ctx, req.ID, binding, string(argJSON))
	default:
		return errorResponse(req.ID, CodeInternal, "unresolved tool binding")
	}
}

// validateArguments best-effort validates argJSON against the tool's
// compiled input schema, if one exists. Absence of a compiled schema is
// never itself a failure.
func (s *Server) validateArguments(binding registry.ProviderBinding, argJSON json.RawMessage) (string, bool) {
	if !s.ValidateArguments {
		return "", false
	}

	schema, ok := s.Registry.CompiledSchema(binding.Name)
	if !ok {
		return "", false
	}

	var argVal any
	if err := json.Unmarshal(argJSON, &argVal); err != nil {
		return "", false
	}

	if err := schema.Validate(argVal); err != nil {
		return "arguments failed schema validation: " + err.Error(), true
	}

	return "", false
}

func (s *Server) invokeTool(ctx context.Context, id json.RawMessage, binding registry.ProviderBinding, argJSON string) *Response {
	callID := ulid.Make().String()

	callCtx := ctx

	if s.CallTimeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, s.CallTimeout)
		defer cancel()
	}

	s.Log.Info("tool call started", "call_id", callID, "tool", binding.Name)

	capture, err := s.Runner.RunCall(callCtx, binding.ProviderPath, binding.Name, argJSON)
	if err != nil {
		return errorResponse(id, CodeInternal, "output parse error: "+err.Error())
	}

	if len(capture.Stderr) > 0 {
		s.Log.Info("tool wrote to stderr", "call_id", callID, "tool", binding.Name, "stderr", string(capture.Stderr))
	}

	if procErr := capture.AsError(binding.ProviderPath); procErr != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return errorResponse(id, CodeInternal, fmt.Sprintf("Tool %q timed out", binding.Name))
		}

		return errorResponse(id, CodeInternal, fmt.Sprintf("Tool %q failed: %v", binding.Name, procErr))
	}

	parsed := process.Parse(capture)
	if parsed.DecodeErr != nil || !parsed.IsMCPShaped() {
		return errorResponse(id, CodeInternal,
			fmt.Sprintf("Tool %q returned invalid JSON: %s", binding.Name, string(capture.Stdout)))
	}

	s.Log.Info("tool call finished", "call_id", callID, "tool", binding.Name)

	return resultResponse(id, json.RawMessage(bytes.TrimSpace(capture.Stdout)))
}
