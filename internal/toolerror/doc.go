// Package toolerror defines the typed error family used across toolhost-mcp.
//
// Every error here is locally recovered by its caller; none of them is meant
// to crash the server. Each satisfies ToolHostError so callers can type-switch
// when they need to distinguish a listing failure from a process failure.
package toolerror
