// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sentinelctl is the operator CLI for a running Aleutian
// Sentinel server.
//
// Usage:
//
//	# Ask a question and wait for the report
//	sentinelctl ask "Como evoluíram os casos de SRAG no último mês?"
//
//	# Submit without waiting, then check later
//	sentinelctl ask --no-wait "Houve aumento de internações em SP?"
//	sentinelctl status <run-id>
//
//	# Dashboard feeds
//	sentinelctl aggregates --days 14
//	sentinelctl aggregates --monthly --months 6
//
// The server address comes from --server, then SENTINEL_SERVER_URL,
// then http://localhost:8080.
package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// serverFlag holds the --server persistent flag value.
var serverFlag string

var rootCmd = &cobra.Command{
	Use:   "sentinelctl",
	Short: "Operator CLI for the Aleutian Sentinel server",
	Long: `sentinelctl talks to a running Aleutian Sentinel server: submit
epidemiological questions, track runs, and print the dashboard
aggregate series.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "",
		"Sentinel server base URL (default SENTINEL_SERVER_URL, then http://localhost:8080)")
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(aggregatesCmd)
}

// getServerBaseURL resolves the server address: flag, then environment,
// then the local default.
func getServerBaseURL() string {
	if serverFlag != "" {
		return strings.TrimRight(serverFlag, "/")
	}
	if env := os.Getenv("SENTINEL_SERVER_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return "http://localhost:8080"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
