// Package main provides the CLI entry point for forged, the agent runtime
// sidecar.
//
// forged hosts a tool-calling LLM loop behind an HTTP API: a streaming chat
// plane under /agent-api, an admin plane under /forge-admin, plus /health and
// /metrics. Tool calls can pause for human confirmation and tool outputs run
// through a verifier pipeline before the model sees them.
//
// # Basic Usage
//
// Start the server:
//
//	forged serve --config forged.json
//
// Validate a configuration file without starting:
//
//	forged validate --config forged.json
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - GOOGLE_API_KEY: Google API key for Gemini models
//   - JWT_SIGNING_KEY: HMAC key for verify-mode authentication
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP collector endpoint for tracing
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jsquire4/tool-forge-sub001/internal/config"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "forged",
		Short:        "forged - agent runtime sidecar",
		Long:         "forged hosts a tool-calling LLM loop over HTTP with streaming, human-in-the-loop confirmation and output verification.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildValidateCmd(),
	)
	return rootCmd
}

// buildServeCmd creates the "serve" command that starts the sidecar.
func buildServeCmd() *cobra.Command {
	var (
		configPath  string
		overlayPath string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the forged HTTP server",
		Long: `Start the forged HTTP server.

The server will:
1. Load configuration from the specified file (built-in defaults when omitted)
2. Open the configured storage backends (Redis, Postgres, SQLite or in-memory)
3. Seed the agent registry and the tool registry
4. Load the verifier pipeline and its sandbox worker pool
5. Serve /agent-api, /forge-admin, /health and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with defaults (in-memory storage, port 8700)
  forged serve

  # Start with a config file
  forged serve --config /etc/forged/forged.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, overlayPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("FORGED_CONFIG"),
		"Path to JSON configuration file")
	cmd.Flags().StringVar(&overlayPath, "overlay", "",
		"Path where admin config overrides are persisted (in-memory only when empty)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

// buildValidateCmd creates the "validate" command: parse the config, report
// errors, exit.
func buildValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: listening on %s:%d, auth mode %s\n",
				cfg.Server.Host, cfg.Server.Port, cfg.Auth.Mode)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("FORGED_CONFIG"),
		"Path to JSON configuration file")
	return cmd
}
