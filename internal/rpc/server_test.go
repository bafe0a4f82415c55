package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkaravaev/toolhost-mcp/internal/logging"
	"github.com/mkaravaev/toolhost-mcp/internal/process"
	"github.com/mkaravaev/toolhost-mcp/internal/registry"
	"github.com/mkaravaev/toolhost-mcp/internal/rpc"
)

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	l, err := logging.Open(filepath.Join(t.TempDir(), "test.log"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })

	return l
}

func writeProvider(t *testing.T, dir, name string, cases map[string]string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake providers are POSIX shell scripts")
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\ncase \"$1\" in\n")

	for sub, body := range cases {
		b.WriteString("  " + sub + ") " + body + " ;;\n")
	}

	b.WriteString("esac\n")

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o755))

	return path
}

func newServer(t *testing.T, toolsDir string) *rpc.Server {
	t.Helper()

	runner := process.NewRunner()
	log := newTestLogger(t)
	reg := registry.Build(context.Background(), toolsDir, runner, log)

	return &rpc.Server{
		Descriptor: rpc.Descriptor{Name: "toolhost-mcp", Version: "test"},
		Registry:   reg,
		Runner:     runner,
		Log:        log,
	}
}

func serveOneLine(t *testing.T, s *rpc.Server, line string) map[string]any {
	t.Helper()

	var out bytes.Buffer
	err := s.Serve(context.Background(), strings.NewReader(line+"\n"), &out)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))

	return resp
}

// S1
func TestServer_Initialize(t *testing.T) {
	dir := t.TempDir()
	s := newServer(t, dir)

	resp := serveOneLine(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)

	result := resp["result"].(map[string]any)
	require.Equal(t, "2025-06-18", result["protocolVersion"])

	caps := result["capabilities"].(map[string]any)
	tools := caps["tools"].(map[string]any)
	require.Equal(t, true, tools["listChanged"])

	instructions := result["instructions"].(string)
	require.True(t, strings.HasPrefix(instructions, "This is a dynamic tool server."))
}

// S2
func TestServer_ToolsCall_EchoSuccess(t *testing.T) {
	dir := t.TempDir()
	writeProvider(t, dir, "echo-provider", map[string]string{
		"list":      `echo '{"name":"test_echo"}'`,
		"test_echo": `text=$(echo "$2" | sed -n 's/.*"text":"\([^"]*\)".*/\1/p'); echo '{"content":[{"type":"text","text":"'"$text"'"}],"isError":false}'`,
	})

	s := newServer(t, dir)

	resp := serveOneLine(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"test_echo","arguments":{"text":"hi"}}}`)

	require.Nil(t, resp["error"])

	result := resp["result"].(map[string]any)
	content := result["content"].([]any)
	block := content[0].(map[string]any)
	require.Equal(t, "hi", block["text"])
}

// S4
func TestServer_ToolsList_DuplicateNames_ReturnsInternalError(t *testing.T) {
	dir := t.TempDir()
	writeProvider(t, dir, "a-provider", map[string]string{"list": `echo '{"name":"x"}'`})
	writeProvider(t, dir, "b-provider", map[string]string{"list": `echo '{"name":"x"}'`})

	s := newServer(t, dir)

	resp := serveOneLine(t, s, `{"jsonrpc":"2.0","id":4,"method":"tools/list"}`)

	errObj := resp["error"].(map[string]any)
	require.Equal(t, float64(-32603), errObj["code"])
	require.Contains(t, errObj["message"], "a-provider")
	require.Contains(t, errObj["message"], "b-provider")

	callResp := serveOneLine(t, s, `{"jsonrpc":"2.0","id":40,"method":"tools/call","params":{"name":"x","arguments":{}}}`)
	callErr := callResp["error"].(map[string]any)
	require.Equal(t, float64(-32603), callErr["code"])
}

// S5
func TestServer_ToolsCall_NonZeroExit_ReturnsInternalErrorWithCombined(t *testing.T) {
	dir := t.TempDir()
	writeProvider(t, dir, "adder", map[string]string{
		"list":     `echo '{"name":"test_add"}'`,
		"test_add": `echo "Missing 'a' and/or 'b' parameters"; exit 1`,
	})

	s := newServer(t, dir)

	resp := serveOneLine(t, s, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"test_add","arguments":{"a":1}}}`)

	errObj := resp["error"].(map[string]any)
	require.Equal(t, float64(-32603), errObj["code"])
	require.Contains(t, errObj["message"], "exit 1")
	require.Contains(t, errObj["message"], "Missing 'a' and/or 'b' parameters")
}

// S6
func TestServer_UnknownMethod_ReturnsMethodNotFound(t *testing.T) {
	s := newServer(t, t.TempDir())

	resp := serveOneLine(t, s, `{"jsonrpc":"2.0","id":6,"method":"foo/bar"}`)

	errObj := resp["error"].(map[string]any)
	require.Equal(t, float64(-32601), errObj["code"])
	require.Equal(t, "Method not found", errObj["message"])
}

func TestServer_ParseError_ReturnsParseErrorCode(t *testing.T) {
	s := newServer(t, t.TempDir())

	var out bytes.Buffer
	err := s.Serve(context.Background(), strings.NewReader("not json\n"), &out)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))

	errObj := resp["error"].(map[string]any)
	require.Equal(t, float64(-32700), errObj["code"])
}

func TestServer_MissingMethod_ReturnsInvalidRequest(t *testing.T) {
	s := newServer(t, t.TempDir())

	resp := serveOneLine(t, s, `{"jsonrpc":"2.0","id":1}`)

	errObj := resp["error"].(map[string]any)
	require.Equal(t, float64(-32600), errObj["code"])
}

func TestServer_NotificationsInitialized_ProducesNoResponse(t *testing.T) {
	s := newServer(t, t.TempDir())

	var out bytes.Buffer
	err := s.Serve(context.Background(), strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n"), &out)
	require.NoError(t, err)
	require.Empty(t, out.Bytes())
}

func TestServer_BlankLines_AreSkipped(t *testing.T) {
	s := newServer(t, t.TempDir())

	var out bytes.Buffer
	input := "\n\n" + `{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n\n"
	err := s.Serve(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
}

func TestServer_UnknownTool_ReturnsMethodNotFound(t *testing.T) {
	s := newServer(t, t.TempDir())

	resp := serveOneLine(t, s, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"nope","arguments":{}}}`)

	errObj := resp["error"].(map[string]any)
	require.Equal(t, float64(-32601), errObj["code"])
}

func TestServer_ToolsCall_NonMCPShapedOutput_ReturnsInternalError(t *testing.T) {
	dir := t.TempDir()
	writeProvider(t, dir, "bad-tool", map[string]string{
		"list": `echo '{"name":"bad"}'`,
		"bad":  `echo 'not json at all'`,
	})

	s := newServer(t, dir)

	resp := serveOneLine(t, s, `{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"bad","arguments":{}}}`)

	errObj := resp["error"].(map[string]any)
	require.Equal(t, float64(-32603), errObj["code"])
	require.Contains(t, errObj["message"], "invalid JSON")
}

func TestServer_EmptyRegistry_ToolsListReturnsEmptyArray(t *testing.T) {
	s := newServer(t, t.TempDir())

	resp := serveOneLine(t, s, `{"jsonrpc":"2.0","id":11,"method":"tools/list"}`)

	result := resp["result"].(map[string]any)
	require.Equal(t, []any{}, result["tools"])
}

func TestServer_ResourcesListStub_ReturnsEmptyArray(t *testing.T) {
	s := newServer(t, t.TempDir())

	resp := serveOneLine(t, s, `{"jsonrpc":"2.0","id":12,"method":"resources/list"}`)

	result := resp["result"].(map[string]any)
	require.Equal(t, []any{}, result["resources"])
}

func TestServer_MultipleRequests_ResponsesInOrder(t *testing.T) {
	s := newServer(t, t.TempDir())

	input := `{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n" +
		`{"jsonrpc":"2.0","id":3,"method":"foo/bar"}` + "\n"

	var out bytes.Buffer
	err := s.Serve(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	for i, line := range lines {
		var resp map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		require.Equal(t, float64(i+1), resp["id"])
	}
}
