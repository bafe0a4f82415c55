package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mkaravaev/toolhost-mcp/internal/config"
	"github.com/mkaravaev/toolhost-mcp/internal/logging"
	"github.com/mkaravaev/toolhost-mcp/internal/process"
	"github.com/mkaravaev/toolhost-mcp/internal/registry"
	"github.com/mkaravaev/toolhost-mcp/internal/rpc"
)

const (
	serverName    = "toolhost-mcp"
	serverVersion = "0.1.0"
)

func main() {
	configFile := flag.String("config", "toolhost.toml", "Path to config file")
	toolsDir := flag.String("tools-dir", "", "Override the tools directory")
	logFile := flag.String("log-file", "", "Override the log file path")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "toolhost-mcp: failed to load config %s: %v\n", *configFile, err)
		os.Exit(1)
	}

	if *toolsDir != "" {
		cfg.Server.ToolsDir = *toolsDir
	}

	if *logFile != "" {
		cfg.Logging.FilePath = *logFile
	}

	log, err := logging.Open(cfg.Logging.FilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "toolhost-mcp: failed to open log file %s: %v\n", cfg.Logging.FilePath, err)
		os.Exit(1)
	}
	defer log.Close()

	log.SetLevel(cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	toolsDirPath := resolveToolsDir(cfg.Server.ToolsDir)

	runner := process.NewRunner()
	if dw := cfg.DrainWindow(); dw > 0 {
		runner.DrainWindow = dw
	}

	reg := registry.Build(ctx, toolsDirPath, runner, log)
	stats := reg.Stats()
	log.Info("registry built",
		"providers", stats.ProvidersScanned,
		"tools", stats.ToolsRegistered,
		"duplicates", stats.Duplicates,
		"listing_errors", stats.ListingErrors,
		"instructions", stats.InstructionsCollected,
	)

	server := &rpc.Server{
		Descriptor:        rpc.Descriptor{Name: serverName, Version: serverVersion},
		Registry:          reg,
		Runner:            runner,
		Log:               log,
		CallTimeout:       cfg.CallTimeout(),
		ValidateArguments: cfg.Server.ValidateArguments,
	}

	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error("server exited with error", "error", err)
		fmt.Fprintf(os.Stderr, "toolhost-mcp: %v\n", err)
		os.Exit(1)
	}
}

// resolveToolsDir resolves a relative tools directory against the server
// executable's own directory, per spec.md §6 ("conventionally ./tools").
// An absolute path (or resolution failure) is used as-is.
func resolveToolsDir(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}

	exe, err := os.Executable()
	if err != nil {
		return dir
	}

	return filepath.Join(filepath.Dir(exe), dir)
}
