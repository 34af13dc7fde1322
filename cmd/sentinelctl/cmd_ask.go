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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// askLocale, askNoWait, askTimeout and showTrail hold flag values for
// the ask and status commands.
var (
	askLocale  string
	askNoWait  bool
	askTimeout time.Duration
	showTrail  bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Submit a question and render the finished report",
	Args:  cobra.MinimumNArgs(1),
	Run:   runAskCommand,
}

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the state of a submitted run",
	Args:  cobra.ExactArgs(1),
	Run:   runStatusCommand,
}

func init() {
	askCmd.Flags().StringVar(&askLocale, "locale", "", "Report language override (e.g. pt-BR, en-US)")
	askCmd.Flags().BoolVar(&askNoWait, "no-wait", false, "Submit and print the run ID without waiting")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 5*time.Minute, "Total time to wait for the report")
	askCmd.Flags().BoolVar(&showTrail, "trail", false, "Print the tool evidence trail under the report")
	statusCmd.Flags().BoolVar(&showTrail, "trail", false, "Print the tool evidence trail under the report")
}

// submitReportRequest is the payload for POST /v1/sentinel/reports.
type submitReportRequest struct {
	Question string `json:"question"`
	Locale   string `json:"locale,omitempty"`
	Wait     bool   `json:"wait,omitempty"`
}

// runStatusResponse mirrors the server's run status body. Only the
// fields the CLI renders are declared.
type runStatusResponse struct {
	RunID      string         `json:"run_id"`
	State      string         `json:"state"`
	Question   string         `json:"question"`
	Report     *reportPayload `json:"report,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorClass string         `json:"error_class,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

type reportPayload struct {
	Text           string               `json:"text"`
	Degraded       bool                 `json:"degraded,omitempty"`
	DegradedReason string               `json:"degraded_reason,omitempty"`
	Iterations     int                  `json:"iterations"`
	Trail          []observationPayload `json:"trail"`
	GeneratedAt    time.Time            `json:"generated_at"`
}

type observationPayload struct {
	Tool    string        `json:"tool"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// serverErrorResponse mirrors the server's error body.
type serverErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func runAskCommand(_ *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	baseURL := getServerBaseURL()

	fmt.Printf("Asking: %s\n", question)
	fmt.Println("---")

	payload := submitReportRequest{Question: question, Locale: askLocale, Wait: !askNoWait}
	jsonPayload, _ := json.Marshal(payload)

	spinning := !askNoWait && isatty.IsTerminal(os.Stdout.Fd())
	done := make(chan bool)
	if spinning {
		go showSpinner("Working", done)
	} else if !askNoWait {
		fmt.Println("Working...")
	}

	// The server holds a waited submission for up to its own budget
	// before answering with a still-running status.
	client := &http.Client{Timeout: 3 * time.Minute}
	resp, err := client.Post(baseURL+"/v1/sentinel/reports", "application/json", bytes.NewBuffer(jsonPayload))
	if spinning {
		done <- true
		fmt.Print("\r                                                \r")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: sentinel server unavailable at %s\n", baseURL)
		fmt.Fprintf(os.Stderr, "Start it with: OPENAI_API_KEY=sk-... ./sentinel\n")
		fmt.Fprintf(os.Stderr, "Or set SENTINEL_SERVER_URL to override the default address.\n")
		log.Fatalf("connection failed: %v", err)
	}
	status := decodeRunStatus(resp)

	if askNoWait {
		fmt.Printf("Run submitted: %s\n", status.RunID)
		fmt.Printf("Check it with: sentinelctl status %s\n", status.RunID)
		return
	}

	status = awaitRun(baseURL, status)
	renderReport(status)
}

func runStatusCommand(_ *cobra.Command, args []string) {
	status := fetchRunStatus(getServerBaseURL(), args[0])

	fmt.Printf("Run:      %s\n", status.RunID)
	fmt.Printf("State:    %s\n", status.State)
	fmt.Printf("Question: %s\n", status.Question)
	if status.FinishedAt != nil {
		fmt.Printf("Finished: %s\n", status.FinishedAt.Format(time.RFC3339))
	}
	fmt.Println("---")

	switch status.State {
	case "RUNNING":
		fmt.Println("Still running.")
	default:
		renderReport(status)
	}
}

// awaitRun polls until the run reaches a terminal state or the --timeout
// budget runs out. Most runs finish inside the server's own wait budget,
// so this usually returns without polling at all.
func awaitRun(baseURL string, status runStatusResponse) runStatusResponse {
	deadline := time.Now().Add(askTimeout)
	for status.State == "RUNNING" {
		if time.Now().After(deadline) {
			fmt.Printf("Still running after %v. Check it with: sentinelctl status %s\n", askTimeout, status.RunID)
			os.Exit(1)
		}
		time.Sleep(2 * time.Second)
		status = fetchRunStatus(baseURL, status.RunID)
	}
	return status
}

func fetchRunStatus(baseURL, runID string) runStatusResponse {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(fmt.Sprintf("%s/v1/sentinel/reports/%s", baseURL, runID))
	if err != nil {
		log.Fatalf("failed to fetch run status: %v", err)
	}
	return decodeRunStatus(resp)
}

// decodeRunStatus reads the response, turning server error bodies into a
// fatal message with the error code when one is present.
func decodeRunStatus(resp *http.Response) runStatusResponse {
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		var se serverErrorResponse
		if json.Unmarshal(body, &se) == nil && se.Error != "" {
			log.Fatalf("Server error (HTTP %d, %s): %s", resp.StatusCode, se.Code, se.Error)
		}
		log.Fatalf("Server error (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var status runStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		log.Fatalf("failed to decode response: %v", err)
	}
	return status
}

// renderReport prints a terminal run: the Markdown report on success,
// the classified error on failure.
func renderReport(status runStatusResponse) {
	switch status.State {
	case "DONE":
		rep := status.Report
		if rep == nil {
			log.Fatalf("run %s finished without a report", status.RunID)
		}
		if rep.Degraded {
			fmt.Printf("Note: narrative synthesis degraded (%s); showing the deterministic summary.\n\n", rep.DegradedReason)
		}
		fmt.Println(rep.Text)
		if showTrail {
			printTrail(rep.Trail)
		}
		fmt.Printf("\n[%d iterations, run: %s]\n", rep.Iterations, status.RunID)
	case "FAILED":
		fmt.Fprintf(os.Stderr, "Run failed")
		if status.ErrorClass != "" {
			fmt.Fprintf(os.Stderr, " (%s)", status.ErrorClass)
		}
		fmt.Fprintf(os.Stderr, ": %s\n", status.Error)
		os.Exit(1)
	default:
		fmt.Printf("Run %s is %s.\n", status.RunID, status.State)
	}
}

func printTrail(trail []observationPayload) {
	if len(trail) == 0 {
		return
	}
	fmt.Println("\nEvidence trail:")
	for i, obs := range trail {
		outcome := "ok"
		if !obs.Success {
			outcome = "failed: " + obs.Error
		}
		fmt.Printf("%d. %s (%s) %s\n", i+1, obs.Tool, obs.Elapsed.Round(time.Millisecond), outcome)
	}
}

// showSpinner displays the animation with elapsed time while the server
// works. Only started when stdout is a terminal.
func showSpinner(msg string, done chan bool) {
	chars := []string{"▖", "▘", "▝", "▗"}
	start := time.Now()
	i := 0

	// Hide the cursor while animating.
	fmt.Print("\033[?25l")
	defer fmt.Print("\033[?25h")

	for {
		select {
		case <-done:
			return
		default:
			fmt.Printf("\r%s  %s... [%ds] \033[K", chars[i%len(chars)], msg, int(time.Since(start).Seconds()))
			i++
			time.Sleep(100 * time.Millisecond)
		}
	}
}
