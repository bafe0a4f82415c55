package rpc

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ProtocolVersion is the fixed MCP protocol version this server speaks,
// per spec.md §4.6.
const ProtocolVersion = "2025-06-18"

// baseInstructions is the constant sentence prepended to every provider's
// trimmed instructions blurb, per spec.md §4.6/§9.
const baseInstructions = "This is a dynamic tool server. Each tool is provided by an independent executable; call tools/list to see what is currently available."

// ToolCapabilities mirrors the MCP tools-capability object. listChanged is
// advertised true even though this server never emits the corresponding
// notification (the registry is frozen at startup) — spec.md §9 leaves the
// choice open and this implementation takes the "advertise, don't
// implement" branch rather than under-advertising.
type ToolCapabilities struct {
	ListChanged bool `json:"listChanged"`
}

// ServerCapabilities is the capabilities object of an initialize response.
type ServerCapabilities struct {
	Tools ToolCapabilities `json:"tools"`
}

// InitializeResult is the payload of a successful initialize response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	Instructions    string             `json:"instructions"`
}

// Descriptor carries the server's fixed identity.
type Descriptor struct {
	Name    string
	Version string
}

// Initialize builds the initialize response payload. instructions is the
// registry's already-assembled instructions text (base sentence plus any
// provider blurbs); Descriptor itself knows nothing about the registry.
func (d Descriptor) Initialize(instructions string) InitializeResult {
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo: mcp.Implementation{
			Name:    d.Name,
			Version: d.Version,
		},
		Capabilities: ServerCapabilities{
			Tools: ToolCapabilities{ListChanged: true},
		},
		Instructions: instructions,
	}
}

// BaseInstructions returns the constant base sentence, for callers that
// assemble the full instructions text via registry.Instructions.
func BaseInstructions() string {
	return baseInstructions
}
