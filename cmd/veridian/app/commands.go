// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the commands for the Veridian CLI.
package app

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "veridian",
	DisableAutoGenTag: true,
	Short:             "Veridian is a standalone OpenID Connect authorization server",
	Long: `Veridian is a standalone OpenID Connect authorization server.

It implements the authorization code flow with refresh tokens, OIDC
discovery, and RP-initiated logout, backed by in-memory or Redis
storage.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// NewRootCmd creates the root command for the Veridian CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
	return rootCmd
}

// newLogger builds the process logger honoring the debug flag.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
