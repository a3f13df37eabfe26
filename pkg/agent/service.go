package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/nanobot/pkg/memory"
	"github.com/harun/nanobot/pkg/session"
	"github.com/harun/nanobot/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// DefaultStreamTimeout closes an event stream whose run takes longer
const DefaultStreamTimeout = 5 * time.Minute

// CapabilitySource lists the capabilities a run may see
type CapabilitySource interface {
	Catalog(allow func(name string) bool) []toolexecutor.Capability
}

// ServiceConfig holds service dependencies
type ServiceConfig struct {
	Orchestrator  *Orchestrator
	Catalog       *Catalog
	Sessions      *session.Manager
	Memory        memory.Backend
	Guard         session.Guard
	Capabilities  CapabilitySource
	Gateways      GatewaySource
	StreamTimeout time.Duration
	EventBuffer   int
	Logger        zerolog.Logger
}

// ChatParams is one user turn
type ChatParams struct {
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Message   string `json:"message"`
}

// Service is the session-level entry point: it binds sessions to agent
// profiles and runs the orchestrator under the session guard.
type Service struct {
	orchestrator  *Orchestrator
	catalog       *Catalog
	sessions      *session.Manager
	memory        memory.Backend
	guard         session.Guard
	capabilities  CapabilitySource
	gateways      GatewaySource
	streamTimeout time.Duration
	eventBuffer   int
	logger        zerolog.Logger
}

// NewService creates a service
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("agent catalog is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Memory == nil {
		return nil, fmt.Errorf("memory backend is required")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("session guard is required")
	}
	if cfg.Capabilities == nil {
		return nil, fmt.Errorf("capability source is required")
	}
	if cfg.Gateways == nil {
		return nil, fmt.Errorf("llm gateways are required")
	}

	streamTimeout := cfg.StreamTimeout
	if streamTimeout <= 0 {
		streamTimeout = DefaultStreamTimeout
	}

	return &Service{
		orchestrator:  cfg.Orchestrator,
		catalog:       cfg.Catalog,
		sessions:      cfg.Sessions,
		memory:        cfg.Memory,
		guard:         cfg.Guard,
		capabilities:  cfg.Capabilities,
		gateways:      cfg.Gateways,
		streamTimeout: streamTimeout,
		eventBuffer:   cfg.EventBuffer,
		logger:        cfg.Logger,
	}, nil
}

// CreateSession starts a session bound to agentID, or to the default agent
// when agentID is empty.
func (s *Service) CreateSession(ctx context.Context, agentID, userID string) (*session.Session, error) {
	var (
		profile Profile
		err     error
	)
	if agentID == "" {
		profile, err = s.catalog.Default()
	} else {
		profile, err = s.catalog.Get(agentID)
	}
	if err != nil {
		return nil, err
	}

	return s.sessions.Create(ctx, profile.ID, userID)
}

// Agents lists the configured agent profiles
func (s *Service) Agents() []Profile {
	return s.catalog.List()
}

// GetSession returns a session record
func (s *Service) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

// History returns the full conversation of a session
func (s *Service) History(ctx context.Context, sessionID string) ([]memory.Message, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	store, err := s.memory.Store(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to open context store: %w", err)
	}
	return store.All(ctx)
}

// CloseSession marks the session inactive and drops its cached store and
// lock. A session with a run in flight fails with session.ErrSessionBusy.
func (s *Service) CloseSession(ctx context.Context, sessionID string) (*session.Session, error) {
	release, err := session.Acquire(ctx, s.guard, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.CloseHeldSession(ctx, sessionID)
	if err != nil {
		s.guard.Evict(sessionID)
		return nil, err
	}
	return sess, nil
}

// CloseHeldSession closes a session whose guard the caller already holds
func (s *Service) CloseHeldSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := s.sessions.Close(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.memory.Evict(sessionID)
	s.guard.Evict(sessionID)
	return sess, nil
}

// Chat runs one user turn to completion. An unknown or closed session id
// opens a session bound to the default agent. A session already running
// another turn is rejected with session.ErrSessionBusy.
func (s *Service) Chat(ctx context.Context, params ChatParams) (*ExecutionResult, error) {
	if strings.TrimSpace(params.Message) == "" {
		return nil, errors.New("message is required")
	}

	sess, profile, err := s.resolve(ctx, params.SessionID, params.UserID)
	if err != nil {
		return nil, err
	}

	return session.RunExclusive(ctx, s.guard, sess.SessionID, func(ctx context.Context) (*ExecutionResult, error) {
		return s.execute(ctx, sess, profile, params.Message, nil)
	})
}

// Stream is a run in progress. Events is closed when the run ends or the
// stream times out, whichever comes first.
type Stream struct {
	SessionID string

	events *EventEmitter
	done   chan struct{}
	result *ExecutionResult
}

// Events returns the progress events of the run
func (st *Stream) Events() <-chan Event {
	return st.events.Events()
}

// Result waits for the run to end
func (st *Stream) Result(ctx context.Context) (*ExecutionResult, error) {
	select {
	case <-st.done:
		return st.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ChatStream starts a user turn and returns its event stream. Admission is
// decided before returning: a busy session fails with session.ErrSessionBusy
// and no stream is created.
func (s *Service) ChatStream(ctx context.Context, params ChatParams) (*Stream, error) {
	if strings.TrimSpace(params.Message) == "" {
		return nil, errors.New("message is required")
	}

	sess, profile, err := s.resolve(ctx, params.SessionID, params.UserID)
	if err != nil {
		return nil, err
	}

	release, err := session.Acquire(ctx, s.guard, sess.SessionID)
	if err != nil {
		return nil, err
	}

	emitter := NewEventEmitter(sess.SessionID, s.eventBuffer)
	st := &Stream{
		SessionID: sess.SessionID,
		events:    emitter,
		done:      make(chan struct{}),
	}

	timer := time.AfterFunc(s.streamTimeout, func() {
		s.logger.Warn().Str("sessionId", sess.SessionID).Dur("timeout", s.streamTimeout).Msg("Event stream timed out")
		emitter.Close()
	})

	go func() {
		defer close(st.done)
		defer emitter.Close()
		defer timer.Stop()
		defer release()

		result, err := s.execute(ctx, sess, profile, params.Message, emitter)
		if err != nil {
			result = errorResult(sess.SessionID, err)
			emitter.Emit(Event{Type: EventError, Content: result.Content})
		}
		st.result = result
	}()

	return st, nil
}

// resolve returns the active session for sessionID, opening one bound to the
// default agent when it is unknown or closed.
func (s *Service) resolve(ctx context.Context, sessionID, userID string) (*session.Session, Profile, error) {
	if sessionID != "" {
		sess, err := s.sessions.GetActive(ctx, sessionID)
		if err == nil {
			profile, err := s.catalog.Get(sess.AgentID)
			if err != nil {
				return nil, Profile{}, err
			}
			return sess, profile, nil
		}
		if !errors.Is(err, session.ErrSessionNotFound) {
			return nil, Profile{}, err
		}
	}

	profile, err := s.catalog.Default()
	if err != nil {
		return nil, Profile{}, err
	}

	var sess *session.Session
	if sessionID == "" {
		sess, err = s.sessions.Create(ctx, profile.ID, userID)
	} else {
		sess, err = s.sessions.Open(ctx, sessionID, profile.ID, userID)
	}
	if err != nil {
		return nil, Profile{}, err
	}

	s.logger.Info().
		Str("sessionId", sess.SessionID).
		Str("agentId", profile.ID).
		Msg("Session opened for chat")
	return sess, profile, nil
}

// execute runs one turn; the caller holds the session
func (s *Service) execute(ctx context.Context, sess *session.Session, profile Profile, message string, events *EventEmitter) (*ExecutionResult, error) {
	store, err := s.memory.Store(ctx, sess.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to open context store: %w", err)
	}

	n, err := store.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read context store: %w", err)
	}

	var seed []memory.Message
	if n == 0 && profile.SystemPrompt != "" {
		seed = append(seed, memory.NewSystemMessage(profile.SystemPrompt))
	}
	seed = append(seed, memory.NewUserMessage(message))
	if err := store.AppendAll(ctx, seed); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	cfg := profile.RunConfig()
	gateway, err := s.gateways.Gateway(cfg.LLMProfile)
	if err != nil {
		result := errorResult(sess.SessionID, err)
		events.Emit(Event{Type: EventError, Content: result.Content})
		return result, nil
	}

	allow := profile.ToolPolicy().IsToolAllowed
	result := s.orchestrator.Run(ctx, RunParams{
		SessionID:     sess.SessionID,
		Store:         store,
		Gateway:       gateway,
		Capabilities:  s.capabilities.Catalog(allow),
		AllowTool:     allow,
		MaxIterations: profile.MaxIterations,
		ContextWindow: profile.ContextWindow,
		Config:        cfg,
		Events:        events,
	})

	if err := s.sessions.Touch(ctx, sess.SessionID); err != nil {
		s.logger.Warn().Err(err).Str("sessionId", sess.SessionID).Msg("Failed to touch session")
	}
	return result, nil
}

func errorResult(sessionID string, err error) *ExecutionResult {
	return &ExecutionResult{
		SessionID: sessionID,
		Content:   "Error: " + err.Error(),
		State:     StateError,
	}
}
