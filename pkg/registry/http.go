package registry

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harun/nanobot/internal/observability"
	"github.com/rs/zerolog/log"
)

const (
	PathRegister        = "/api/registry/register"
	PathHeartbeat       = "/api/registry/beat"
	PathInstances       = "/api/registry/instances"
	PathInstancesOnline = "/api/registry/instances/online"
)

// SecretHeader carries the core's shared secret on registry requests
const SecretHeader = "X-Nanobot-Secret"

// MaxRequestBytes bounds a registration or heartbeat body
const MaxRequestBytes = 1 << 20

// Handler exposes the registry to providers over plain HTTP
type Handler struct {
	registry  *Registry
	authorize func(secret string) bool
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithAuthorizer rejects requests whose SecretHeader fails authorize
func WithAuthorizer(authorize func(secret string) bool) HandlerOption {
	return func(h *Handler) {
		h.authorize = authorize
	}
}

// NewHandler creates the REST handler. Without an authorizer every request
// is accepted.
func NewHandler(registry *Registry, opts ...HandlerOption) *Handler {
	h := &Handler{registry: registry}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts every registry endpoint on mux
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc(PathRegister, h.guarded(h.handleRegister))
	mux.HandleFunc(PathHeartbeat, h.guarded(h.handleHeartbeat))
	mux.HandleFunc(PathInstances, h.guarded(h.handleInstances))
	mux.HandleFunc(PathInstancesOnline, h.guarded(h.handleInstancesOnline))
}

func (h *Handler) guarded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.authorize != nil && !h.authorize(r.Header.Get(SecretHeader)) {
			observability.RecordSecurityAudit(r.Context(), "registry:auth", r.RemoteAddr, "denied", map[string]interface{}{
				"path": r.URL.Path,
			})
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBytes)
		next(w, r)
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.registry.Register(req); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidProvider) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"instanceId": req.InstanceID,
	})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InstanceID == "" {
		writeError(w, http.StatusBadRequest, "instanceId is required")
		return
	}

	known := h.registry.Heartbeat(req.InstanceID)
	writeJSON(w, http.StatusOK, HeartbeatAck{Success: true, Known: known})
}

func (h *Handler) handleInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.registry.ListAll())
}

func (h *Handler) handleInstancesOnline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.registry.ListOnline())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to write registry response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
