package registry

import "encoding/json"

// ToolDefinition is the validated, opaque JSON object a provider emitted on
// its "list" output for a single tool. Name is extracted for fast lookups;
// Raw preserves every field (including ones this server does not know
// about) for verbatim pass-through to clients.
type ToolDefinition struct {
	Name string
	Raw  json.RawMessage
}

// Resolution is the outcome of resolving a tool name against a Registry.
// It has exactly two constructors — ProviderBinding and DuplicateEntry —
// replacing the sentinel-prefixed-string trick a shell implementation would
// need to tell the two cases apart.
type Resolution interface {
	isResolution()
}

// ProviderBinding associates a tool name with the single provider that
// claimed it and the definition that provider emitted.
type ProviderBinding struct {
	Name         string
	ProviderPath string
	Definition   json.RawMessage
}

func (ProviderBinding) isResolution() {}

// DuplicateEntry records that two or more providers claimed the same tool
// name. Providers lists every claimant, newest first, in the order spec.md
// §4.3 requires. A duplicated name carries no usable definition.
type DuplicateEntry struct {
	Name      string
	Providers []string
}

func (DuplicateEntry) isResolution() {}

// ListingError explains why a provider's "list" output was rejected.
type ListingError struct {
	ProviderPath string
	Message      string
}

func (e ListingError) String() string {
	return e.ProviderPath + ": " + e.Message
}

// BuildStats summarizes one Build call for startup diagnostics logging.
type BuildStats struct {
	ProvidersScanned      int
	ToolsRegistered       int
	Duplicates            int
	ListingErrors         int
	InstructionsCollected int
}
