// Command gitfolio bridges GitHub contribution statistics into a gitfolio
// profile: log in via browser approval, then merge stats under your token.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gitfolio-dev/gitfolio-cli/internal/app"
	"github.com/gitfolio-dev/gitfolio-cli/internal/config"
	"github.com/gitfolio-dev/gitfolio-cli/internal/telemetry"
)

// version is stamped at build time.
var version = "dev"

const usage = `gitfolio %s — merge GitHub contribution stats into your gitfolio profile

Usage:
  gitfolio [flags] login            authorize this machine in a browser
  gitfolio [flags] logout           forget the saved credential
  gitfolio [flags] merge [handle]   fetch, aggregate, and upload stats
  gitfolio [flags] status           show the current login

Flags:
  -config path   config file (default ~/.config/gitfolio/config.yaml)
  -server url    override the gitfolio server URL
  -insecure      skip TLS certificate verification
  -verbose       report every poll diagnostic, log at debug
  -json          print merge results as JSON

GITHUB_TOKEN must be set for merge (a .env file is honored).
`

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "gitfolio: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		serverURL  string
		insecure   bool
		verbose    bool
		asJSON     bool
	)
	flag.StringVar(&configPath, "config", defaultConfigPath(), "path to YAML config file")
	flag.StringVar(&serverURL, "server", "", "gitfolio server URL override")
	flag.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	flag.BoolVar(&verbose, "verbose", false, "verbose diagnostics")
	flag.BoolVar(&asJSON, "json", false, "JSON output for merge")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, usage, version)
	}
	flag.Parse()

	// A .env in the working directory may carry GITHUB_TOKEN.
	_ = godotenv.Load()

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	config.ApplyEnv(cfg)
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if insecure {
		cfg.InsecureSkipVerify = true
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(logLevel(cfg.LogLevel))
	loggerConfig.OutputPaths = []string{"stderr"}
	logger, err := loggerConfig.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tracingRuntime, err := telemetry.SetupTracing(telemetry.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "gitfolio-cli",
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracingRuntime.Shutdown(shutdownCtx)
	}()

	runtime, err := app.NewRuntime(app.Options{
		Config:  cfg,
		Logger:  logger,
		Out:     os.Stdout,
		Version: version,
		Verbose: verbose,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch flag.Arg(0) {
	case "login":
		return runtime.Login(ctx)
	case "logout":
		return runtime.Logout()
	case "merge":
		return runtime.Merge(ctx, app.MergeOptions{
			Handle:      flag.Arg(1),
			GitHubToken: os.Getenv("GITHUB_TOKEN"),
			JSON:        asJSON,
		})
	case "status":
		return runtime.Status()
	case "":
		flag.Usage()
		return errors.New("a subcommand is required")
	default:
		flag.Usage()
		return fmt.Errorf("unknown subcommand %q", flag.Arg(0))
	}
}

func defaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "gitfolio", "config.yaml")
}

func logLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
