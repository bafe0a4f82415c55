// Package rpc implements the newline-delimited JSON-RPC 2.0 dispatcher
// that sits between an MCP client on stdio and the tool registry.
//
// One line in, at most one line out, in order: Server.Serve never
// interleaves requests and never crashes on a malformed line. The error
// taxonomy (-32700 through -32603) is how registry and execution failures
// are surfaced to the client, mirroring the dispatcher shape found in the
// example pack's own JSON-RPC server, adapted here to route into the
// child-process registry instead of in-process tool handlers.
package rpc
