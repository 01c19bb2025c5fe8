// Package main is the entry point for the obfuscator-api binary.
// It loads configuration, starts the HTTP API and shuts it down on signal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/polisai/obfuscator-api/pkg/api"
	"github.com/polisai/obfuscator-api/pkg/config"
	"github.com/polisai/obfuscator-api/pkg/logging"
	"github.com/polisai/obfuscator-api/pkg/obfuscator"
	"github.com/polisai/obfuscator-api/pkg/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLIConfig holds the parsed CLI configuration
type CLIConfig struct {
	ConfigPath string
	Port       int
	LogLevel   string
	Pretty     bool
	NoColor    bool

	portSet     bool
	logLevelSet bool
	prettySet   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for obfuscator-api
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "obfuscator-api",
		Short: "HTTP API for the Prometheus Lua obfuscator",
		Long: `Serves the Prometheus Lua obfuscator over HTTP.

Source is accepted as a multipart upload (POST /obfuscate) or as JSON text
(POST /obfuscate-text), run through the engine with the requested preset and
returned as JSON.

Example:
  obfuscator-api --config obfuscator.yaml --port 3000`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().IntP("port", "p", config.DefaultPort, "Port to listen on (overrides config and API_PORT)")
	rootCmd.Flags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("pretty", false, "Human-readable log output")
	rootCmd.Flags().Bool("no-color", false, "Disable colored startup output")

	return rootCmd
}

// parseCLIConfig reads the flags, remembering which ones were set explicitly.
func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	port, err := flags.GetInt("port")
	if err != nil {
		return nil, fmt.Errorf("failed to get port flag: %w", err)
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	pretty, err := flags.GetBool("pretty")
	if err != nil {
		return nil, fmt.Errorf("failed to get pretty flag: %w", err)
	}
	noColor, err := flags.GetBool("no-color")
	if err != nil {
		return nil, fmt.Errorf("failed to get no-color flag: %w", err)
	}

	return &CLIConfig{
		ConfigPath:  configPath,
		Port:        port,
		LogLevel:    logLevel,
		Pretty:      pretty,
		NoColor:     noColor,
		portSet:     flags.Changed("port"),
		logLevelSet: flags.Changed("log-level"),
		prettySet:   flags.Changed("pretty"),
	}, nil
}

// applyFlags overrides file and environment values with explicitly set flags.
func applyFlags(cfg *config.Config, cli *CLIConfig) error {
	if cli.portSet {
		cfg.Server.Port = cli.Port
	}
	if cli.logLevelSet {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.prettySet {
		cfg.Logging.Pretty = cli.Pretty
	}
	return cfg.Validate()
}

// loadConfig loads the configuration file, or the defaults when no file is
// given. The returned loader is nil without a file.
func loadConfig(path string) (*config.Config, *config.Loader, error) {
	if path == "" {
		cfg, err := config.Load("")
		return cfg, nil, err
	}

	loader, err := config.NewLoader(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, _ []string) error {
	cli, err := parseCLIConfig(cmd)
	if err != nil {
		return err
	}
	if cli.NoColor {
		color.NoColor = true
	}

	cfg, loader, err := loadConfig(cli.ConfigPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, cli); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		Environment:    cfg.Tracing.Environment,
		Insecure:       cfg.Tracing.Insecure,
		Headers:        cfg.Tracing.Headers,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	engine, err := obfuscator.NewProcessEngine(obfuscator.ProcessConfig{
		Command: cfg.Engine.Command,
		WorkDir: cfg.Engine.WorkDir,
		Env:     cfg.Engine.Env,
	}, logger)
	if err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}

	srv, err := api.NewServer(cfg, engine, api.WithLogger(logger))
	if err != nil {
		return err
	}

	if loader != nil {
		defer loader.Close()
		err := loader.Watch(func(_ *config.Config, err error) {
			if err != nil {
				logger.Warn("Configuration file changed but is invalid", "path", loader.Path(), "error", err)
				return
			}
			logger.Info("Configuration file changed, restart to apply", "path", loader.Path())
		})
		if err != nil {
			logger.Warn("Failed to watch configuration file", "path", loader.Path(), "error", err)
		}
	}

	printBanner(cmd.OutOrStdout(), cfg, srv.Routes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error during shutdown", "error", err)
		}
		<-errCh
	}

	logger.Info("Server stopped")
	return nil
}
