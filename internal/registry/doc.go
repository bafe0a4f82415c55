// Package registry builds and serves the dynamic tool directory.
//
// Build enumerates a directory of executable tool providers, invokes each
// with the "list" and "instructions" subcommands, and assembles an
// immutable Registry: a discovery-ordered name index, the aggregated tool
// definitions clients see in tools/list, a record of any name claimed by
// more than one provider, a record of any provider whose listing could not
// be trusted, and the concatenated free-form instructions text.
//
// A Registry is built exactly once at startup and never mutated afterward;
// the RPC dispatcher only ever reads from it.
package registry
