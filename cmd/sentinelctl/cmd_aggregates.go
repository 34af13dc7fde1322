// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// aggMonthly, aggDays, aggMonths and aggJSON hold flag values for the
// aggregates command.
var (
	aggMonthly bool
	aggDays    int
	aggMonths  int
	aggJSON    bool
)

var aggregatesCmd = &cobra.Command{
	Use:   "aggregates",
	Short: "Print the dashboard case series",
	Run:   runAggregatesCommand,
}

func init() {
	aggregatesCmd.Flags().BoolVar(&aggMonthly, "monthly", false, "Monthly buckets instead of daily")
	aggregatesCmd.Flags().IntVar(&aggDays, "days", 30, "Window size for the daily series")
	aggregatesCmd.Flags().IntVar(&aggMonths, "months", 12, "Window size for the monthly series")
	aggregatesCmd.Flags().BoolVar(&aggJSON, "json", false, "Emit the raw JSON payload")
}

// aggregatesResponse mirrors the server's aggregates body.
type aggregatesResponse struct {
	AnchorDate  string         `json:"anchor_date"`
	Granularity string         `json:"granularity"`
	Window      int            `json:"window"`
	Series      []caseBucketJS `json:"series"`
}

type caseBucketJS struct {
	Period string `json:"period"`
	Cases  int    `json:"cases"`
}

const barWidth = 40

func runAggregatesCommand(_ *cobra.Command, _ []string) {
	baseURL := getServerBaseURL()
	target := fmt.Sprintf("%s/v1/sentinel/aggregates/daily?days=%d", baseURL, aggDays)
	if aggMonthly {
		target = fmt.Sprintf("%s/v1/sentinel/aggregates/monthly?months=%d", baseURL, aggMonths)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: sentinel server unavailable at %s\n", baseURL)
		fmt.Fprintf(os.Stderr, "Or set SENTINEL_SERVER_URL to override the default address.\n")
		log.Fatalf("connection failed: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Server error (HTTP %d): %s", resp.StatusCode, string(body))
	}

	if aggJSON {
		fmt.Println(string(body))
		return
	}

	var agg aggregatesResponse
	if err := json.Unmarshal(body, &agg); err != nil {
		log.Fatalf("failed to decode aggregates: %v", err)
	}

	fmt.Printf("Case counts, %s, last %d buckets (data through %s)\n", agg.Granularity, agg.Window, agg.AnchorDate)
	fmt.Println("---")

	maxCases := 0
	for _, b := range agg.Series {
		if b.Cases > maxCases {
			maxCases = b.Cases
		}
	}
	for _, b := range agg.Series {
		bar := ""
		if maxCases > 0 {
			bar = strings.Repeat("█", b.Cases*barWidth/maxCases)
		}
		fmt.Printf("%-10s %8d  %s\n", b.Period, b.Cases, bar)
	}
}
