// Package main is the entry point for the SynthLang proxy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/synthlang/proxy/internal/audit"
	"github.com/synthlang/proxy/internal/auth"
	"github.com/synthlang/proxy/internal/config"
	"github.com/synthlang/proxy/internal/embedding"
	"github.com/synthlang/proxy/internal/gateway"
	"github.com/synthlang/proxy/internal/keywords"
	"github.com/synthlang/proxy/internal/llm"
	"github.com/synthlang/proxy/internal/monitoring"
	"github.com/synthlang/proxy/internal/ratelimit"
	"github.com/synthlang/proxy/internal/semcache"
	"github.com/synthlang/proxy/internal/synthlang"
	"github.com/synthlang/proxy/internal/tools"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

// ASCII banner for startup
const banner = `
 ╔═══════════════════════════════════════════╗
 ║   S Y N T H L A N G   P R O X Y           ║
 ║   symbolic compression · semantic cache   ║
 ╚═══════════════════════════════════════════╝
`

// loadEnvFiles loads .env from standard locations
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	// Try loading from ~/.config/synthlang-proxy/.env first
	configEnv := filepath.Join(homeDir, ".config", "synthlang-proxy", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Also load local .env (can override)
	_ = godotenv.Load()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve", "start":
			runServer(os.Args[2:])
			return
		case "version", "-v", "--version":
			fmt.Printf("synthlang-proxy %s\n", Version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	// Default: serve
	runServer(os.Args[1:])
}

// runServer wires the pipeline components and serves HTTP until a
// shutdown signal arrives.
func runServer(args []string) {
	loadEnvFiles()

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	debug := fs.Bool("debug", false, "enable debug logging")
	port := fs.Int("port", 0, "listen port (overrides PORT)")
	noBanner := fs.Bool("no-banner", false, "suppress startup banner")
	_ = fs.Parse(args) // ExitOnError handles errors

	if !*noBanner {
		fmt.Print(banner + "\n")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger := monitoring.New(monitoring.LoggerConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	monitoring.Global(monitoring.LoggerConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	metrics := monitoring.NewMetrics()

	logger.Info().
		Str("version", Version).
		Str("upstream", cfg.Upstream.BaseURL).
		Str("default_model", cfg.Upstream.DefaultModel).
		Msg("SynthLang proxy starting")

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build authenticator")
	}

	patterns := keywords.NewRegistry()
	if err := patterns.RegisterDefaults(); err != nil {
		logger.Fatal().Err(err).Msg("failed to register built-in patterns")
	}
	if cfg.Keywords.ConfigPath != "" {
		if err := patterns.LoadFile(cfg.Keywords.ConfigPath); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Keywords.ConfigPath).Msg("failed to load pattern file")
		}
		logger.Info().Str("path", cfg.Keywords.ConfigPath).Msg("keyword patterns loaded")
	}

	toolReg := tools.NewRegistry()
	registerTools(toolReg)
	disableUnboundPatterns(patterns, toolReg, logger)

	sink, err := audit.NewSink(cfg.Audit)
	if err != nil {
		logger.Fatal().Err(err).Str("sink", cfg.Audit.Sink).Msg("failed to open audit sink")
	}
	queue := audit.NewQueue(sink, cfg.Audit.QueueSize, logger, metrics)

	gw := gateway.New(cfg, gateway.Deps{
		Auth:     authn,
		Limiter:  ratelimit.New(cfg.RateLimit),
		Patterns: patterns,
		Tools:    toolReg,
		Stages:   synthlang.NewRegistry(),
		Embedder: embedding.New(cfg.Upstream, cfg.Cache),
		Cache:    semcache.New(cfg.Cache.MaxItems),
		LLM:      llm.New(cfg.Upstream, metrics),
		Audit:    queue,
		Logger:   logger,
		Metrics:  metrics,
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info().Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := gw.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("gateway shutdown error")
		}
	}()

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Bool("synthlang", cfg.Pipeline.Enabled).
		Bool("cache", cfg.Cache.Enabled).
		Bool("keywords", cfg.Keywords.Enabled).
		Msg("listening")

	if err := gw.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("gateway error")
	}

	logger.Info().Msg("SynthLang proxy stopped")
}

// registerTools is the extension point for in-process tools. The
// shipped binary registers none; deployments add their own here or
// through their own main.
func registerTools(_ *tools.Registry) {}

// disableUnboundPatterns switches off patterns whose tool is not
// registered, so a stale pattern file cannot break dispatch for
// everything else.
func disableUnboundPatterns(patterns *keywords.Registry, toolReg *tools.Registry, logger *monitoring.Logger) {
	for _, p := range patterns.List() {
		if err := keywords.ValidateBindings([]keywords.Pattern{p}, toolReg.Requirements); err != nil {
			off := false
			_ = patterns.Update(p.Name, keywords.Fields{Enabled: &off})
			logger.Warn().Err(err).Str("pattern", p.Name).Msg("pattern disabled")
		}
	}
}

// printHelp prints usage information
func printHelp() {
	fmt.Print(banner + "\n")
	fmt.Println("SynthLang Proxy - OpenAI-compatible LLM gateway")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  synthlang-proxy [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve        Start the proxy server (default)")
	fmt.Println("  version      Print version information")
	fmt.Println("  help         Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -debug       Enable debug logging")
	fmt.Println("  -port        Listen port (overrides PORT)")
	fmt.Println("  -no-banner   Suppress the startup banner")
	fmt.Println()
	fmt.Println("Configuration is read from the environment; a .env file in the")
	fmt.Println("working directory or ~/.config/synthlang-proxy/.env is loaded first.")
	fmt.Println("Key variables: OPENAI_API_KEY, API_KEYS, USE_SYNTHLANG, ENABLE_CACHE,")
	fmt.Println("MASK_PII_BEFORE_LLM, KEYWORD_CONFIG_PATH, AUDIT_SINK.")
}
