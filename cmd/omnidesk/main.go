// Package main provides the CLI entry point for OmniDesk Pro, the WhatsApp
// customer-support desk.
//
// Start the server:
//
//	omnidesk serve --config omnidesk.yaml
//
// On first start the terminal renders a QR pairing challenge; scan it with
// the WhatsApp companion-device flow. The session is stored on disk and
// resumed on subsequent starts.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "omnidesk",
		Short: "OmniDesk Pro - WhatsApp support desk with assistant triage",
		Long: `OmniDesk Pro connects a WhatsApp account to an AI triage assistant and a
human operator dashboard. Inbound conversations are triaged automatically;
finished triages become tickets on the operator board.

Supported assistant providers: Google (Gemini), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
