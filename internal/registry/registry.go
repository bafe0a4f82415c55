package registry

import (
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Registry is the read-only, build-once aggregate described in spec.md §3.
// Every accessor is safe for concurrent use since the value is never
// mutated after Build returns it.
type Registry struct {
	names       []string
	resolutions map[string]Resolution

	// definitionOrder/definitions mirror each other: definitionOrder is the
	// subset of names still singly-bound, in discovery order, and
	// definitions holds the matching raw JSON tool definitions.
	definitionOrder []string
	definitions     []json.RawMessage

	duplicates    []DuplicateEntry
	listingErrors []ListingError
	instructions  []string

	compiledSchemas map[string]*jsonschema.Resolved

	stats BuildStats
}

// Names returns every discovered tool name, in discovery order, including
// names that are now duplicates (and therefore unusable).
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Resolve looks up name and reports how it resolves: as a ProviderBinding,
// a DuplicateEntry, or not found at all.
func (r *Registry) Resolve(name string) (Resolution, bool) {
	res, ok := r.resolutions[name]

	return res, ok
}

// Definitions returns the aggregated tool definitions clients see in
// tools/list, excluding any name that has become a duplicate.
func (r *Registry) Definitions() []json.RawMessage {
	return append([]json.RawMessage(nil), r.definitions...)
}

// Duplicates returns every duplicated tool name's claimants, in discovery
// order of the name.
func (r *Registry) Duplicates() []DuplicateEntry {
	return append([]DuplicateEntry(nil), r.duplicates...)
}

// ListingErrors returns every provider listing rejected during Build.
func (r *Registry) ListingErrors() []ListingError {
	return append([]ListingError(nil), r.listingErrors...)
}

// Instructions returns the base sentence followed by every trimmed,
// non-empty instructions blurb collected during Build, separated by a
// blank line, per spec.md §4.6/§9. An empty blurb set yields only the base
// sentence, with no trailing separator.
func (r *Registry) Instructions(baseSentence string) string {
	if len(r.instructions) == 0 {
		return baseSentence
	}

	parts := append([]string{baseSentence}, r.instructions...)

	return strings.Join(parts, "\n\n")
}

// CompiledSchema returns the compiled JSON Schema for a tool's inputSchema,
// if one was present and compiled successfully during Build. Its absence
// never blocks tools/list or tools/call; it is advisory validation only.
func (r *Registry) CompiledSchema(name string) (*jsonschema.Resolved, bool) {
	s, ok := r.compiledSchemas[name]

	return s, ok
}

// Stats returns the build-time counters logged once at startup.
func (r *Registry) Stats() BuildStats {
	return r.stats
}
