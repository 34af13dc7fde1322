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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/agent"
)

const (
	// eventsWriteTimeout bounds every frame write, pings included.
	eventsWriteTimeout = 10 * time.Second

	// eventsPongTimeout is how long a client may go silent before the
	// read side gives up. Reset on every pong.
	eventsPongTimeout = 60 * time.Second

	// eventsPingInterval keeps idle connections alive through proxies.
	eventsPingInterval = 20 * time.Second

	// eventsReadLimit caps inbound frames; clients have nothing to say.
	eventsReadLimit = 512
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleRunEvents handles GET /v1/sentinel/reports/:id/events.
//
// Description:
//
//	Upgrades to a WebSocket and streams the run's event feed as JSON
//	frames. Events already emitted are replayed first, then live events
//	follow in sequence order, so a late subscriber sees the complete
//	trace. When the run finishes the server sends a normal close frame
//	with reason "run finished".
//
// Path Parameters:
//
//	id: Run ID (required)
//
// Response:
//
//	101 Switching Protocols: Event frames until the run finishes
//	400 Bad Request: Missing run ID
//	404 Not Found: Unknown or expired run ID
//
// Thread Safety: This method is safe for concurrent use. Each
// connection gets its own subscription and goroutines.
func (h *Handlers) HandleRunEvents(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRunEvents")

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "run id is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	events, ok := h.svc.RunEvents(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "run not found",
			Code:  "RUN_NOT_FOUND",
		})
		return
	}

	conn, err := eventsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	logger.Info("event stream opened", slog.String("run_id", id))

	// Subscribe before replaying so nothing emitted in between is lost.
	// Frames arriving on both paths are deduplicated by sequence number.
	live, cancelSub := events.Subscribe()
	defer cancelSub()

	lastSeq := 0
	for _, ev := range events.Events() {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
		lastSeq = ev.Seq
	}

	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		conn.SetReadLimit(eventsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(eventsPongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventsPongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-readerGone:
			logger.Debug("event stream client disconnected", slog.String("run_id", id))
			return
		case ev, open := <-live:
			if !open {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(eventsWriteTimeout))
				logger.Info("event stream completed", slog.String("run_id", id))
				return
			}
			if ev.Seq <= lastSeq {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				logger.Debug("event write failed", slog.String("error", err.Error()))
				return
			}
			lastSeq = ev.Seq
		case <-ping.C:
			deadline := time.Now().Add(eventsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev agent.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
	return conn.WriteJSON(ev)
}
