// SPDX-FileCopyrightText: Copyright 2026 Veridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the Veridian authorization server.
package main

import (
	"os"

	"github.com/veridianhq/veridian/cmd/veridian/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
