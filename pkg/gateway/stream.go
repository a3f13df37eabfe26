package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/agent"
	"github.com/harun/nanobot/pkg/session"
)

// PathAgentStream serves one user turn as server-sent events
const PathAgentStream = "/api/agent/stream"

// handleAgentStream runs a turn and writes "connected", one event per agent
// event (named by its type), then "complete" carrying the result. A busy
// session is refused with 409 before any event is written.
func (s *Server) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authHandler.CheckSecret(r.Header.Get(SecretHeader)) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var params agent.ChatParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ctx := tracing.WithTraceID(r.Context(), tracing.NewTraceID())
	ctx = tracing.WithRunID(ctx, tracing.NewRunID())

	stream, err := s.agents.ChatStream(ctx, params)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrSessionBusy):
			status = http.StatusConflict
		case errors.Is(err, agent.ErrAgentNotFound):
			status = http.StatusNotFound
		case params.Message == "":
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(TraceHeader, tracing.GetTraceID(ctx))
	w.WriteHeader(http.StatusOK)

	logger := tracing.LoggerFromContext(ctx, s.logger)
	send := func(name string, data interface{}) {
		if err := writeSSE(w, name, data); err != nil {
			logger.Debug().Err(err).Str("event", name).Msg("Failed to write stream event")
			return
		}
		flusher.Flush()
	}

	send("connected", map[string]string{"sessionId": stream.SessionID})
	for event := range stream.Events() {
		send(string(event.Type), event)
	}

	result, err := stream.Result(ctx)
	if err != nil {
		send("error", map[string]string{"error": err.Error()})
		return
	}
	send("complete", result)
}

func writeSSE(w http.ResponseWriter, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
