package config

import (
	"os"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds toolhost-mcp's runtime configuration. All fields have
// sensible defaults; the TOML file, environment variables, and flags are
// all optional layers on top of Default().
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig controls registry build and dispatch behavior.
type ServerConfig struct {
	// ToolsDir is the directory scanned for provider executables,
	// resolved relative to the server executable's directory per
	// spec.md §6 when it is a relative path.
	ToolsDir string `toml:"tools_dir"`

	// CallTimeoutMS bounds a single tools/call invocation; 0 disables
	// the timeout (the spec.md default).
	CallTimeoutMS int `toml:"call_timeout_ms"`

	// DrainWindowMS overrides process.Runner's dangling-descendant
	// drain window; 0 means "use process's own default" (50ms).
	DrainWindowMS int `toml:"drain_window_ms"`

	// ValidateArguments toggles the advisory JSON Schema validation of
	// tools/call arguments. Disabling it never disables tools/call
	// itself, only the pre-flight check.
	ValidateArguments bool `toml:"validate_arguments"`
}

// LoggingConfig controls the fixed-file logger.
type LoggingConfig struct {
	FilePath string `toml:"file_path"`
	Level    string `toml:"level"`
}

// Default returns the configuration used when no file, environment
// variable, or flag overrides anything.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ToolsDir:          "tools",
			CallTimeoutMS:     0,
			DrainWindowMS:     0,
			ValidateArguments: true,
		},
		Logging: LoggingConfig{
			FilePath: "/tmp/mcp_server.log",
			Level:    "info",
		},
	}
}

// Load reads path as TOML into a Config seeded with Default(), then
// applies environment variable overrides. A missing file is not an error
// — the defaults (plus any environment overrides) are used as-is,
// matching the pack's own config-loader convention.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		} else if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TOOLHOST_TOOLS_DIR"); v != "" {
		c.Server.ToolsDir = v
	}

	if v := os.Getenv("TOOLHOST_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}

	if v := os.Getenv("TOOLHOST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("TOOLHOST_CALL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Server.CallTimeoutMS = ms
		}
	}

	if v := os.Getenv("TOOLHOST_DRAIN_WINDOW_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Server.DrainWindowMS = ms
		}
	}
}

// CallTimeout returns the configured per-call timeout as a time.Duration,
// or 0 if disabled.
func (c Config) CallTimeout() time.Duration {
	if c.Server.CallTimeoutMS <= 0 {
		return 0
	}

	return time.Duration(c.Server.CallTimeoutMS) * time.Millisecond
}

// DrainWindow returns the configured drain window, or 0 to defer to
// process.Runner's own default.
func (c Config) DrainWindow() time.Duration {
	if c.Server.DrainWindowMS <= 0 {
		return 0
	}

	return time.Duration(c.Server.DrainWindowMS) * time.Millisecond
}
