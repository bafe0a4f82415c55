// Package config loads toolhost-mcp's optional TOML configuration file,
// layering environment variable and flag overrides on top of defaults, in
// the style of the example pack's own config loaders: a missing file is
// never an error, only a malformed one is.
package config
