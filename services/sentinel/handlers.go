// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sentinel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/agent"
)

const (
	// defaultWaitBudget bounds a wait=true submission before the handler
	// gives up and returns the still-running snapshot.
	defaultWaitBudget = 2 * time.Minute

	// healthCheckTimeout bounds the store probe of the health endpoint.
	healthCheckTimeout = 2 * time.Second

	defaultDailyWindow   = 30
	maxDailyWindow       = 365
	defaultMonthlyWindow = 12
	maxMonthlyWindow     = 60
)

// Handlers carries the HTTP handler methods for the Sentinel API.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set for a wired service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the inbound X-Request-ID header, minting
// one when absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	return id
}

// runViewResponse flattens a registry snapshot into the response DTO.
func runViewResponse(view RunView) RunStatusResponse {
	resp := RunStatusResponse{
		RunID:     view.RunID,
		State:     view.State,
		Question:  view.Question,
		Report:    view.Report,
		CreatedAt: view.CreatedAt,
	}
	if !view.FinishedAt.IsZero() {
		finished := view.FinishedAt
		resp.FinishedAt = &finished
	}
	if view.Err != nil {
		resp.Error = view.Err.Error()
		resp.ErrorClass = errorClassLabel(view.Err)
	}
	return resp
}

// errorClassLabel maps a terminal run error to its response tag. Aborts
// sit outside the error taxonomy and get their own label.
func errorClassLabel(err error) string {
	if errors.Is(err, agent.ErrAborted) {
		return "aborted"
	}
	if class := agent.ClassOf(err); class != agent.ClassNone {
		return string(class)
	}
	return ""
}

// HandleRunReport handles POST /v1/sentinel/reports.
//
// Description:
//
//	Submits a question and starts a report session on its own goroutine.
//	By default the accepted run is returned immediately with state
//	RUNNING; with wait=true the request blocks until the run finishes or
//	the wait budget elapses, whichever comes first.
//
// Request Body:
//
//	RunReportRequest (question required, locale and wait optional)
//
// Response:
//
//	200 OK: RunStatusResponse (wait=true)
//	202 Accepted: RunStatusResponse (async submission)
//	400 Bad Request: Malformed body or blank question
//	429 Too Many Requests: Active-run limit reached
//	502 Bad Gateway: Case store unreachable
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleRunReport(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRunReport")

	var req RunReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "question is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	view, err := h.svc.StartRun(c.Request.Context(), req.Question, req.Locale)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrValidation):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_REQUEST",
			})
		case errors.Is(err, ErrTooManyRuns):
			logger.Warn("run rejected at concurrency limit")
			c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error: err.Error(),
				Code:  "TOO_MANY_RUNS",
			})
		default:
			logger.Error("run submission failed", slog.String("error", err.Error()))
			c.JSON(http.StatusBadGateway, ErrorResponse{
				Error: "case store unreachable: " + err.Error(),
				Code:  "STORE_UNAVAILABLE",
			})
		}
		return
	}

	logger.Info("run submitted",
		slog.String("run_id", view.RunID),
		slog.Bool("wait", req.Wait),
	)

	if !req.Wait {
		c.JSON(http.StatusAccepted, runViewResponse(view))
		return
	}

	view, err = h.svc.WaitRun(c.Request.Context(), view.RunID, defaultWaitBudget)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "run not found",
				Code:  "RUN_NOT_FOUND",
			})
			return
		}
		// Client went away while waiting; the run keeps executing.
		logger.Debug("wait canceled by client", slog.String("error", err.Error()))
		return
	}

	c.JSON(http.StatusOK, runViewResponse(view))
}

// HandleRunStatus handles GET /v1/sentinel/reports/:id.
//
// Description:
//
//	Returns the current snapshot of a run: RUNNING, DONE with the
//	report, or FAILED with the classified error. Finished runs remain
//	available for the retention window.
//
// Path Parameters:
//
//	id: Run ID (required)
//
// Response:
//
//	200 OK: RunStatusResponse
//	400 Bad Request: Missing run ID
//	404 Not Found: Unknown or expired run ID
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleRunStatus(c *gin.Context) {
	getOrCreateRequestID(c)

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "run id is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	view, err := h.svc.RunStatus(id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "run not found",
			Code:  "RUN_NOT_FOUND",
		})
		return
	}

	c.JSON(http.StatusOK, runViewResponse(view))
}

// HandleAbortRun handles POST /v1/sentinel/reports/:id/abort.
//
// Description:
//
//	Requests termination of a running session. The loop honors the
//	request between iterations; a tool call already in flight completes
//	first, so the status may read RUNNING for one more dispatch before
//	reaching FAILED.
//
// Path Parameters:
//
//	id: Run ID (required)
//
// Response:
//
//	200 OK: {"aborted": true}
//	400 Bad Request: Missing run ID
//	404 Not Found: Unknown or expired run ID
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleAbortRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAbortRun")

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "run id is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	if err := h.svc.AbortRun(id); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "run not found",
			Code:  "RUN_NOT_FOUND",
		})
		return
	}

	logger.Info("abort requested", slog.String("run_id", id))
	c.JSON(http.StatusOK, gin.H{"aborted": true})
}

// HandleListTools handles GET /v1/sentinel/tools.
//
// Description:
//
//	Returns the tool schemas offered to the reasoning model, exactly as
//	the dispatcher declares them.
//
// Response:
//
//	200 OK: ToolsResponse
//
// Thread Safety: This method is safe for concurrent use. Read-only.
func (h *Handlers) HandleListTools(c *gin.Context) {
	getOrCreateRequestID(c)

	tools := h.svc.Tools()
	c.JSON(http.StatusOK, ToolsResponse{
		Tools: tools,
		Count: len(tools),
	})
}

// HandleHealth handles GET /v1/sentinel/health.
//
// Description:
//
//	Probes the case store with a short timeout. A reachable store
//	reports ok with the current data anchor date; an unreachable one
//	reports degraded with 503 so load balancers stop routing here.
//
// Response:
//
//	200 OK: HealthResponse (status ok)
//	503 Service Unavailable: HealthResponse (status degraded)
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	anchor, err := h.svc.cases.MostRecentDate(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:     "degraded",
			ActiveRuns: h.svc.ActiveRuns(),
		})
		return
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:             "ok",
		MostRecentDataDate: anchor,
		ActiveRuns:         h.svc.ActiveRuns(),
	})
}

// HandleDailyAggregates handles GET /v1/sentinel/aggregates/daily.
//
// Description:
//
//	Returns per-day case counts for a trailing window anchored at the
//	most recent data date. This is the dashboard's daily chart feed.
//
// Query Parameters:
//
//	days: Window length in days, default 30, maximum 365 (optional)
//
// Response:
//
//	200 OK: AggregatesResponse
//	500 Internal Server Error: Aggregate query failed
//	502 Bad Gateway: Case store unreachable
//
// Thread Safety: This method is safe for concurrent use. Read-only.
func (h *Handlers) HandleDailyAggregates(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDailyAggregates")

	days := defaultDailyWindow
	if q := c.Query("days"); q != "" {
		if parsed, err := strconv.Atoi(q); err == nil && parsed >= 1 && parsed <= maxDailyWindow {
			days = parsed
		}
	}

	ctx := c.Request.Context()
	anchor, err := h.svc.cases.MostRecentDate(ctx)
	if err != nil {
		logger.Error("anchor date unavailable", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: "case store unreachable: " + err.Error(),
			Code:  "STORE_UNAVAILABLE",
		})
		return
	}

	series, err := h.svc.cases.DailyCaseSeries(ctx, days)
	if err != nil {
		logger.Error("daily series query failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "aggregate query failed: " + err.Error(),
			Code:  "STORE_QUERY_FAILED",
		})
		return
	}

	logger.Info("daily aggregates served",
		slog.Int("days", days),
		slog.Int("buckets", len(series)),
	)

	c.JSON(http.StatusOK, AggregatesResponse{
		AnchorDate:  anchor,
		Granularity: "daily",
		Window:      days,
		Series:      series,
	})
}

// HandleMonthlyAggregates handles GET /v1/sentinel/aggregates/monthly.
//
// Description:
//
//	Returns per-month case counts for a trailing window of calendar
//	months ending at the month of the most recent data date. This is the
//	dashboard's monthly chart feed.
//
// Query Parameters:
//
//	months: Window length in months, default 12, maximum 60 (optional)
//
// Response:
//
//	200 OK: AggregatesResponse
//	500 Internal Server Error: Aggregate query failed
//	502 Bad Gateway: Case store unreachable
//
// Thread Safety: This method is safe for concurrent use. Read-only.
func (h *Handlers) HandleMonthlyAggregates(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleMonthlyAggregates")

	months := defaultMonthlyWindow
	if q := c.Query("months"); q != "" {
		if parsed, err := strconv.Atoi(q); err == nil && parsed >= 1 && parsed <= maxMonthlyWindow {
			months = parsed
		}
	}

	ctx := c.Request.Context()
	anchor, err := h.svc.cases.MostRecentDate(ctx)
	if err != nil {
		logger.Error("anchor date unavailable", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: "case store unreachable: " + err.Error(),
			Code:  "STORE_UNAVAILABLE",
		})
		return
	}

	series, err := h.svc.cases.MonthlyCaseSeries(ctx, months)
	if err != nil {
		logger.Error("monthly series query failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "aggregate query failed: " + err.Error(),
			Code:  "STORE_QUERY_FAILED",
		})
		return
	}

	logger.Info("monthly aggregates served",
		slog.Int("months", months),
		slog.Int("buckets", len(series)),
	)

	c.JSON(http.StatusOK, AggregatesResponse{
		AnchorDate:  anchor,
		Granularity: "monthly",
		Window:      months,
		Series:      series,
	})
}
