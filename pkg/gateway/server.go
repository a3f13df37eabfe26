package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/agent"
	"github.com/harun/nanobot/pkg/registry"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// SecretHeader carries the shared secret on plain HTTP requests
const SecretHeader = registry.SecretHeader

// TraceHeader lets HTTP callers pin the trace id of a request
const TraceHeader = tracing.HeaderTraceID

// Server is the gateway: JSON-RPC over WebSocket and HTTP, the SSE agent
// stream, the registry REST surface, health and metrics.
type Server struct {
	host            string
	port            int
	tickInterval    time.Duration
	shutdownTimeout time.Duration
	rateLimit       RateLimit
	server          *http.Server
	listener        net.Listener
	upgrader        websocket.Upgrader
	clients         *ClientRegistry
	router          *RPCRouter
	authHandler     *AuthHandler
	broadcaster     *EventBroadcaster
	agents          *agent.Service
	registry        *registry.Registry
	mux             *http.ServeMux
	logger          zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	tickWG         sync.WaitGroup
}

// Config holds server configuration. Agent and Registry are optional; their
// methods and routes are only served when set.
type Config struct {
	Host            string
	Port            int
	SharedSecret    string
	RateLimit       RateLimit
	TickInterval    time.Duration
	ShutdownTimeout time.Duration
	Agent           *agent.Service
	Registry        *registry.Registry
	Logger          zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	clients := NewClientRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		host:            cfg.Host,
		port:            cfg.Port,
		tickInterval:    cfg.TickInterval,
		shutdownTimeout: cfg.ShutdownTimeout,
		rateLimit:       cfg.RateLimit,
		clients:         clients,
		router:          NewRPCRouter(),
		authHandler:     NewAuthHandler(cfg.SharedSecret),
		broadcaster:     NewEventBroadcaster(clients, cfg.Logger),
		agents:          cfg.Agent,
		registry:        cfg.Registry,
		logger:          cfg.Logger,
		ctx:             ctx,
		cancel:          cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if err := s.registerBuiltinMethods(); err != nil {
		cancel()
		return nil, err
	}
	s.mux = s.buildMux()

	return s, nil
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.agents != nil {
		mux.HandleFunc(PathAgentStream, s.handleAgentStream)
	}
	if s.registry != nil {
		registry.NewHandler(s.registry, registry.WithAuthorizer(s.authHandler.CheckSecret)).Routes(mux)
	}
	return mux
}

// Handler returns the HTTP handler serving every gateway route
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Handle mounts an extra route on the gateway mux
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Broadcaster returns the server's event broadcaster
func (s *Server) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("address", ln.Addr().String()).Msg("Starting Gateway Server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startTickEmitter()
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests, closes every client and shuts the server
// down. Requests still running after the shutdown timeout are cancelled.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")

	s.broadcaster.Broadcast(EventShutdown, map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.cancel()
	s.tickWG.Wait()

	for _, client := range s.clients.GetAll() {
		_ = client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) startTickEmitter() {
	if s.tickInterval <= 0 {
		return
	}

	s.tickWG.Add(1)
	go func() {
		defer s.tickWG.Done()

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.broadcaster.Broadcast(EventTick, map[string]interface{}{
					"status":  "alive",
					"clients": s.clients.Count(),
				})
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{
		"status":  "ok",
		"clients": s.clients.Count(),
	}
	if s.registry != nil {
		body["providers"] = s.registry.Count()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleWebSocket upgrades the connection and starts the auth handshake.
// With no shared secret the client is authenticated at once.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		_ = conn.Close()
		return
	}

	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		RateLimiter:  NewClientRateLimiter(s.rateLimit),
		State:        StateConnecting,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if s.authHandler.Enabled() {
		err = s.sendAuthChallenge(client)
	} else {
		client.Authenticated = true
		client.State = StateAuthenticated
		err = client.WriteJSON(AuthResult{Event: "auth.success", Success: true})
	}
	if err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to start handshake")
		_ = conn.Close()
		s.clients.Remove(clientID)
		return
	}

	go s.handleClient(client)
}

func (s *Server) sendAuthChallenge(client *Client) error {
	challenge, err := s.authHandler.GenerateChallenge()
	if err != nil {
		return err
	}

	client.Challenge = challenge
	client.State = StateAuthenticating

	return client.WriteJSON(AuthChallenge{
		Event:     "auth.challenge",
		Challenge: challenge,
	})
}

func (s *Server) handleClient(client *Client) {
	defer func() {
		client.State = StateDisconnected
		_ = client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		if !s.handleMessage(client, message) {
			return
		}
	}
}

// handleMessage processes one frame. It returns false when the connection
// must be dropped.
func (s *Server) handleMessage(client *Client, message []byte) bool {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		return s.handleAuthMessage(client, authResp)
	}

	if !client.Authenticated {
		s.sendError(client, "", AuthenticationRequired, "Authentication required")
		return true
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		rpcErr := toRPCError(err)
		s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		return true
	}

	if rpcErr := client.RateLimiter.Acquire(); rpcErr != nil {
		s.sendError(client, req.ID, rpcErr.Code, rpcErr.Message)
		return true
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()
		defer client.RateLimiter.Release()

		ctx := withClientID(s.ctx, client.ID)
		ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
		ctx = tracing.WithRequestID(ctx, req.ID)

		response := s.route(ctx, "ws", req)
		if err := client.WriteJSON(response); err != nil {
			s.logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Str("requestId", req.ID).
				Msg("Failed to send response")
		}
	}()
	return true
}

// route runs a request and records its outcome
func (s *Server) route(ctx context.Context, transport string, req *RPCRequest) *RPCResponse {
	start := time.Now()
	response := s.router.RouteRequest(ctx, req)

	outcome := "ok"
	if response.Error != nil {
		outcome = fmt.Sprintf("%d", response.Error.Code)
	}
	observability.RecordRPCRequest(transport, req.Method, outcome, time.Since(start))

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("transport", transport).
		Str("method", req.Method).
		Str("outcome", outcome).
		Dur("duration", time.Since(start)).
		Msg("RPC request handled")
	return response
}

// handleRPC serves single-shot JSON-RPC requests over HTTP
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authHandler.CheckSecret(r.Header.Get(SecretHeader)) {
		observability.RecordSecurityAudit(r.Context(), "rpc:auth", r.RemoteAddr, "denied", nil)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, RPCResponse{
			JSONRPC: "2.0",
			Error:   toRPCError(err),
		})
		return
	}

	traceID := r.Header.Get(TraceHeader)
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx := tracing.WithTraceID(r.Context(), traceID)
	ctx = tracing.WithRequestID(ctx, req.ID)

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	resp := s.route(ctx, "http", req)
	w.Header().Set(TraceHeader, traceID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) bool {
	result := s.authHandler.HandleAuthResponse(client, authResp.Signature)

	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return false
	}

	if result.Success {
		observability.RecordSecurityAudit(s.ctx, "ws:auth", client.ID, "granted", nil)
		s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
		return true
	}

	observability.RecordSecurityAudit(s.ctx, "ws:auth", client.ID, "denied", map[string]interface{}{
		"attempts": client.AuthAttempts,
	})

	s.logger.Warn().
		Str("clientId", client.ID).
		Str("reason", result.Message).
		Msg("Authentication failed")
	return client.AuthAttempts < MaxAuthAttempts
}

func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	response := RPCResponse{
		ID:      requestID,
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}

	if err := client.WriteJSON(response); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error response")
	}
}

// Broadcast sends an event to all authenticated clients
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// UnregisterMethod unregisters an RPC method handler
func (s *Server) UnregisterMethod(name string) {
	s.router.UnregisterMethod(name)
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
