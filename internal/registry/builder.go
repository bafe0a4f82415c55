package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/mkaravaev/toolhost-mcp/internal/logging"
	"github.com/mkaravaev/toolhost-mcp/internal/process"
	"github.com/mkaravaev/toolhost-mcp/internal/toolerror"
)

// builder accumulates state while Build walks the tools directory.
type builder struct {
	runner *process.Runner
	log    *logging.Logger

	names       []string
	resolutions map[string]Resolution

	definitionOrder []string
	defsByName      map[string]json.RawMessage

	duplicateNames map[string]bool

	listingErrors []ListingError
	instructions  []string

	compiledSchemas map[string]*jsonschema.Resolved

	stats BuildStats
}

// Build enumerates toolsDir non-recursively, invokes "list" (and
// "instructions") on every executable file found, and assembles the
// resulting Registry. A missing directory yields an empty Registry and no
// error, per spec.md §4.3's stated boundary behavior.
func Build(ctx context.Context, toolsDir string, runner *process.Runner, log *logging.Logger) *Registry {
	b := &builder{
		runner:          runner,
		log:             log,
		resolutions:     make(map[string]Resolution),
		defsByName:      make(map[string]json.RawMessage),
		duplicateNames:  make(map[string]bool),
		compiledSchemas: make(map[string]*jsonschema.Resolved),
	}

	providers := b.discover(toolsDir)
	b.stats.ProvidersScanned = len(providers)

	for _, execPath := range providers {
		b.processProvider(ctx, execPath)
	}

	return b.build()
}

// discover returns the executable candidate paths in toolsDir, in the
// order os.ReadDir reports them, which is sorted by filename.
func (b *builder) discover(toolsDir string) []string {
	entries, err := os.ReadDir(toolsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			dirErr := &toolerror.ToolsDirError{Path: toolsDir, Err: err}
			b.log.Error("failed to scan tools directory", "error", dirErr.Error())
		}

		return nil
	}

	paths := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := os.Stat(filepath.Join(toolsDir, entry.Name()))
		if err != nil {
			continue
		}

		if !info.Mode().IsRegular() || info.Mode()&0o111 == 0 {
			continue
		}

		paths = append(paths, filepath.Join(toolsDir, entry.Name()))
	}

	return paths
}

func (b *builder) processProvider(ctx context.Context, execPath string) {
	defs, ok := b.list(ctx, execPath)
	if ok {
		for _, def := range defs {
			b.submit(execPath, def)
		}
	}

	b.collectInstructions(ctx, execPath)
}

// list invokes the "list" subcommand and slurps every top-level JSON value
// out of stdout, per spec.md §4.3. ok is false if the provider's listing
// could not be trusted at all (a ListingError has been recorded).
func (b *builder) list(ctx context.Context, execPath string) ([]ToolDefinition, bool) {
	res, err := b.runner.RunList(ctx, execPath)
	if err != nil {
		b.recordListingError(execPath, "parse error: "+err.Error())

		return nil, false
	}

	if len(res.Stderr) > 0 {
		b.log.Info("provider wrote to stderr during list", "provider", execPath, "stderr", string(res.Stderr))
	}

	if procErr := res.AsError(execPath); procErr != nil {
		b.recordListingError(execPath, procErr.Error())

		return nil, false
	}

	values, err := slurpJSONValues(res.Stdout)
	if err != nil {
		decodeErr := &toolerror.JSONDecodeError{RawData: string(res.Stdout), Err: err}
		b.recordListingError(execPath, decodeErr.Error())

		return nil, false
	}

	defs := make([]ToolDefinition, 0, len(values))

	for _, v := range values {
		def, ok := validateDefinition(v)
		if !ok {
			b.recordListingError(execPath, "missing name")

			continue
		}

		defs = append(defs, def)
	}

	return defs, true
}

// slurpJSONValues decodes every top-level JSON value present in data, in
// order. Values may span multiple lines; any malformed content anywhere in
// the stream is a hard failure for the whole provider.
func slurpJSONValues(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var values []any

	for {
		var v any

		if err := dec.Decode(&v); err != nil {
			if err == io.EOF {
				break
			}

			return nil, err
		}

		values = append(values, v)
	}

	return values, nil
}

// validateDefinition checks that v is a JSON object with a non-empty
// string "name" field, per spec.md §4.3's per-definition validation.
func validateDefinition(v any) (ToolDefinition, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return ToolDefinition{}, false
	}

	nameVal, ok := obj["name"]
	if !ok {
		return ToolDefinition{}, false
	}

	name, ok := nameVal.(string)
	if !ok || name == "" {
		return ToolDefinition{}, false
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return ToolDefinition{}, false
	}

	return ToolDefinition{Name: name, Raw: raw}, true
}

func (b *builder) recordListingError(providerPath, message string) {
	b.listingErrors = append(b.listingErrors, ListingError{ProviderPath: providerPath, Message: message})
}

// submit applies the collision policy of spec.md §4.3 for one (name,
// provider, definition) triple.
func (b *builder) submit(providerPath string, def ToolDefinition) {
	existing, seen := b.resolutions[def.Name]
	if !seen {
		b.names = append(b.names, def.Name)
		b.resolutions[def.Name] = ProviderBinding{Name: def.Name, ProviderPath: providerPath, Definition: def.Raw}
		b.definitionOrder = append(b.definitionOrder, def.Name)
		b.defsByName[def.Name] = def.Raw
		b.compileSchema(def)

		return
	}

	switch prior := existing.(type) {
	case ProviderBinding:
		b.duplicateNames[def.Name] = true
		b.resolutions[def.Name] = DuplicateEntry{
			Name:      def.Name,
			Providers: []string{providerPath, prior.ProviderPath},
		}
		delete(b.defsByName, def.Name)
		b.definitionOrder = removeName(b.definitionOrder, def.Name)
		delete(b.compiledSchemas, def.Name)
	case DuplicateEntry:
		prior.Providers = append([]string{providerPath}, prior.Providers...)
		b.resolutions[def.Name] = prior
	}
}

func removeName(names []string, target string) []string {
	out := make([]string, 0, len(names))

	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}

	return out
}

// compileSchema best-effort compiles a tool's inputSchema field, if
// present, for later advisory validation in tools/call. Failure is logged,
// never surfaced as a ListingError: the spec never requires schema
// validation, so its absence cannot poison tools/list.
func (b *builder) compileSchema(def ToolDefinition) {
	var withSchema struct {
		InputSchema json.RawMessage `json:"inputSchema"`
	}

	if err := json.Unmarshal(def.Raw, &withSchema); err != nil || len(withSchema.InputSchema) == 0 {
		return
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(withSchema.InputSchema, &schema); err != nil {
		b.log.Info("inputSchema did not parse, validation skipped", "tool", def.Name, "error", err)

		return
	}

	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		b.log.Info("inputSchema did not resolve, validation skipped", "tool", def.Name, "error", err)

		return
	}

	b.compiledSchemas[def.Name] = resolved
}

// collectInstructions invokes the optional "instructions" subcommand and
// appends its trimmed stdout to the instructions sequence if non-empty.
// Any failure is silent, per spec.md §4.3.
func (b *builder) collectInstructions(ctx context.Context, execPath string) {
	res, err := b.runner.RunInstructions(ctx, execPath)
	if err != nil {
		b.log.Info("instructions invocation failed", "provider", execPath, "error", err)

		return
	}

	if res.ExitCode != 0 {
		return
	}

	blurb := strings.TrimSpace(string(res.Stdout))
	if blurb == "" {
		return
	}

	b.instructions = append(b.instructions, blurb)
}

func (b *builder) build() *Registry {
	definitions := make([]json.RawMessage, 0, len(b.definitionOrder))

	for _, name := range b.definitionOrder {
		definitions = append(definitions, b.defsByName[name])
	}

	duplicates := make([]DuplicateEntry, 0, len(b.duplicateNames))

	for _, name := range b.names {
		if !b.duplicateNames[name] {
			continue
		}

		res := b.resolutions[name]
		if dup, ok := res.(DuplicateEntry); ok {
			duplicates = append(duplicates, dup)
		}
	}

	b.stats.ToolsRegistered = len(definitions)
	b.stats.Duplicates = len(duplicates)
	b.stats.ListingErrors = len(b.listingErrors)
	b.stats.InstructionsCollected = len(b.instructions)

	return &Registry{
		names:           b.names,
		resolutions:     b.resolutions,
		definitionOrder: b.definitionOrder,
		definitions:     definitions,
		duplicates:      duplicates,
		listingErrors:   b.listingErrors,
		instructions:    b.instructions,
		compiledSchemas: b.compiledSchemas,
		stats:           b.stats,
	}
}
