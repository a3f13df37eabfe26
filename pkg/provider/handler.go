package provider

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// HealthPath reports provider liveness and its tool count
const HealthPath = "/api/nanobot/client/health"

// Response codes carried in the execute reply body
const (
	CodeSuccess  = http.StatusOK
	CodeNotFound = http.StatusNotFound
	CodeFailure  = http.StatusInternalServerError
)

// ExecuteResponse is the reply to an execute call
type ExecuteResponse struct {
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}

// Handler serves a local tool executor to the core. Tool failures are
// reported in the body with HTTP 200 so the core can tell them apart from
// transport failures.
type Handler struct {
	executor *toolexecutor.ToolExecutor
	logger   zerolog.Logger
}

// NewHandler creates the provider endpoint handler
func NewHandler(executor *toolexecutor.ToolExecutor, logger zerolog.Logger) *Handler {
	return &Handler{executor: executor, logger: logger}
}

// Routes mounts the execute and health endpoints on mux
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc(toolexecutor.ExecutePath, h.handleExecute)
	mux.HandleFunc(HealthPath, h.handleHealth)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req toolexecutor.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ExecuteResponse{Code: http.StatusBadRequest, Message: "invalid request body"})
		return
	}

	ctx := tracing.ExtractHTTP(r.Context(), r.Header)
	logger := tracing.LoggerFromContext(ctx, h.logger).With().Str("tool", req.ToolName).Logger()
	if !h.executor.HasTool(req.ToolName) {
		logger.Warn().Msg("Execute request for unknown tool")
		writeJSON(w, http.StatusOK, ExecuteResponse{Code: CodeNotFound, Message: "tool not found: " + req.ToolName})
		return
	}

	start := time.Now()
	result := h.executor.Execute(ctx, req.ToolName, req.Params)
	if !result.Success {
		logger.Error().Str("error", result.Error).Dur("duration", time.Since(start)).Msg("Tool execution failed")
		writeJSON(w, http.StatusOK, ExecuteResponse{Code: CodeFailure, Message: result.Error})
		return
	}

	logger.Info().Dur("duration", time.Since(start)).Msg("Tool execution succeeded")
	writeJSON(w, http.StatusOK, ExecuteResponse{Code: CodeSuccess, Data: result.Output, Message: "success"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "UP",
		"toolCount": h.executor.GetToolCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
