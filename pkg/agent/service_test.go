package agent

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/harun/nanobot/pkg/memory"
	"github.com/harun/nanobot/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticGateways hands out one gateway for every profile name
type staticGateways struct {
	gateway LLMGateway
	err     error
}

func (s staticGateways) Gateway(profile string) (LLMGateway, error) {
	return s.gateway, s.err
}

// blockingGateway holds each call until release is closed
type blockingGateway struct {
	started chan struct{}
	release chan struct{}
}

func (g *blockingGateway) Chat(ctx context.Context, req ChatRequest) (string, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	<-g.release
	return "FINAL_ANSWER: finally", nil
}

type serviceFixture struct {
	service *Service
	backend *memory.InMemoryBackend
	guard   *session.LocalGuard
}

func setupService(t *testing.T, gateway LLMGateway, profiles ...Profile) *serviceFixture {
	t.Helper()

	o, d := setupOrchestrator(t)

	catalog, err := NewCatalog(profiles...)
	require.NoError(t, err)

	mgr, err := session.NewManager(session.NewMemoryStore())
	require.NoError(t, err)

	backend := memory.NewInMemoryBackend()
	guard := session.NewLocalGuard()

	svc, err := NewService(ServiceConfig{
		Orchestrator:  o,
		Catalog:       catalog,
		Sessions:      mgr,
		Memory:        backend,
		Guard:         guard,
		Capabilities:  d,
		Gateways:      staticGateways{gateway: gateway},
		StreamTimeout: time.Second,
		Logger:        zerolog.New(io.Discard),
	})
	require.NoError(t, err)

	return &serviceFixture{service: svc, backend: backend, guard: guard}
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orchestrator is required")
}

func TestService_ChatCreatesSession(t *testing.T) {
	gateway := &scriptedGateway{replies: []string{
		`TOOL_CALL: {"name":"calculator","args":{"operation":"add","a":10,"b":5}}`,
		"FINAL_ANSWER: The result is 15.",
	}}
	f := setupService(t, gateway)
	ctx := context.Background()

	result, err := f.service.Chat(ctx, ChatParams{SessionID: "abc", Message: "What is 10 plus 5?"})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "The result is 15.", result.Content)
	assert.Equal(t, 2, result.Iterations)

	sess, err := f.service.GetSession(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, DefaultAgentID, sess.AgentID)
	assert.Equal(t, "anonymous", sess.UserID)
	assert.True(t, sess.Active)

	// system prompt seeded once, then the user's message
	require.GreaterOrEqual(t, len(result.History), 2)
	assert.Equal(t, memory.RoleSystem, result.History[0].Role)
	assert.Equal(t, memory.RoleUser, result.History[1].Role)

	_, err = f.service.Chat(ctx, ChatParams{SessionID: "abc", Message: "thanks"})
	require.NoError(t, err)

	history, err := f.service.History(ctx, "abc")
	require.NoError(t, err)
	systems := 0
	for _, m := range history {
		if m.IsSystem() {
			systems++
		}
	}
	assert.Equal(t, 1, systems)
}

func TestService_ChatWithoutSessionID(t *testing.T) {
	f := setupService(t, &scriptedGateway{replies: []string{"FINAL_ANSWER: hi"}})

	result, err := f.service.Chat(context.Background(), ChatParams{Message: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "hi", result.Content)
}

func TestService_ChatValidation(t *testing.T) {
	f := setupService(t, &scriptedGateway{replies: []string{"FINAL_ANSWER: hi"}})

	_, err := f.service.Chat(context.Background(), ChatParams{SessionID: "s1", Message: "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message is required")
}

func TestService_GatewayFailureIsErrorResult(t *testing.T) {
	o, d := setupOrchestrator(t)
	catalog, err := NewCatalog()
	require.NoError(t, err)
	mgr, err := session.NewManager(session.NewMemoryStore())
	require.NoError(t, err)

	svc, err := NewService(ServiceConfig{
		Orchestrator: o,
		Catalog:      catalog,
		Sessions:     mgr,
		Memory:       memory.NewInMemoryBackend(),
		Guard:        session.NewLocalGuard(),
		Capabilities: d,
		Gateways:     staticGateways{err: errors.New("llm profile not found: fast")},
	})
	require.NoError(t, err)

	result, err := svc.Chat(context.Background(), ChatParams{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, StateError, result.State)
	assert.Equal(t, "Error: llm profile not found: fast", result.Content)
}

func TestService_SessionBusy(t *testing.T) {
	gateway := &blockingGateway{started: make(chan struct{}, 1), release: make(chan struct{})}
	f := setupService(t, gateway)
	ctx := context.Background()

	done := make(chan *ExecutionResult, 1)
	go func() {
		result, err := f.service.Chat(ctx, ChatParams{SessionID: "s1", Message: "first"})
		assert.NoError(t, err)
		done <- result
	}()

	<-gateway.started

	_, err := f.service.Chat(ctx, ChatParams{SessionID: "s1", Message: "second"})
	assert.ErrorIs(t, err, session.ErrSessionBusy)

	_, err = f.service.ChatStream(ctx, ChatParams{SessionID: "s1", Message: "third"})
	assert.ErrorIs(t, err, session.ErrSessionBusy)

	// other sessions are unaffected
	other, err := f.service.CreateSession(ctx, "", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", other.UserID)

	close(gateway.release)
	result := <-done
	assert.Equal(t, "finally", result.Content)

	history, err := f.service.History(ctx, "s1")
	require.NoError(t, err)
	for _, m := range history {
		assert.NotEqual(t, "second", m.Content)
	}
}

func TestService_ChatStream(t *testing.T) {
	gateway := &scriptedGateway{replies: []string{
		`TOOL_CALL: {"name":"calculator","args":{"operation":"subtract","a":10,"b":4}}`,
		"FINAL_ANSWER: 6",
	}}
	f := setupService(t, gateway)
	ctx := context.Background()

	stream, err := f.service.ChatStream(ctx, ChatParams{SessionID: "s1", Message: "10-4"})
	require.NoError(t, err)
	assert.Equal(t, "s1", stream.SessionID)

	var types []EventType
	for ev := range stream.Events() {
		types = append(types, ev.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, EventDone, types[len(types)-1])
	assert.Contains(t, types, EventToolResult)

	result, err := stream.Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "6", result.Content)

	// the session is free again once the stream ends
	_, err = f.service.Chat(ctx, ChatParams{SessionID: "s1", Message: "again"})
	assert.NoError(t, err)
}

func TestService_ChatStreamTimeout(t *testing.T) {
	gateway := &blockingGateway{started: make(chan struct{}, 1), release: make(chan struct{})}
	f := setupService(t, gateway)
	f.service.streamTimeout = 50 * time.Millisecond
	ctx := context.Background()

	stream, err := f.service.ChatStream(ctx, ChatParams{SessionID: "s1", Message: "slow"})
	require.NoError(t, err)

	select {
	case _, ok := <-drain(stream.Events()):
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed on timeout")
	}

	close(gateway.release)
	result, err := stream.Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, "finally", result.Content)
}

// drain discards events and reports the close
func drain(events <-chan Event) <-chan struct{} {
	closed := make(chan struct{})
	go func() {
		for range events {
		}
		close(closed)
	}()
	return closed
}

func TestService_CloseSession(t *testing.T) {
	f := setupService(t, &scriptedGateway{replies: []string{"FINAL_ANSWER: hi"}})
	ctx := context.Background()

	sess, err := f.service.CreateSession(ctx, DefaultAgentID, "alice")
	require.NoError(t, err)

	_, err = f.service.Chat(ctx, ChatParams{SessionID: sess.SessionID, Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.guard.Len())

	closed, err := f.service.CloseSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.False(t, closed.Active)
	assert.Equal(t, 0, f.guard.Len())

	// the cached store was evicted, so the in-memory history starts over
	history, err := f.service.History(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = f.service.CloseSession(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestService_CreateSessionUnknownAgent(t *testing.T) {
	f := setupService(t, &scriptedGateway{replies: []string{"FINAL_ANSWER: hi"}})

	_, err := f.service.CreateSession(context.Background(), "ghost", "alice")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestService_ProfileToolFilter(t *testing.T) {
	gateway := &scriptedGateway{replies: []string{"FINAL_ANSWER: ok"}}
	f := setupService(t, gateway, Profile{
		ID:      "math-tutor",
		Tools:   []string{"calculator"},
		Enabled: true,
	})
	ctx := context.Background()

	sess, err := f.service.CreateSession(ctx, "math-tutor", "")
	require.NoError(t, err)

	_, err = f.service.Chat(ctx, ChatParams{SessionID: sess.SessionID, Message: "hi"})
	require.NoError(t, err)

	require.Equal(t, 1, gateway.calls())
	caps := gateway.requests[0].Capabilities
	require.Len(t, caps, 1)
	assert.Equal(t, "calculator", caps[0].Name)
}

func TestCatalog(t *testing.T) {
	t.Run("defaults to the general assistant", func(t *testing.T) {
		c, err := NewCatalog()
		require.NoError(t, err)

		p, err := c.Default()
		require.NoError(t, err)
		assert.Equal(t, DefaultAgentID, p.ID)
		assert.Equal(t, DefaultMaxIterations, p.MaxIterations)
	})

	t.Run("falls back to first enabled profile", func(t *testing.T) {
		c, err := NewCatalog(
			Profile{ID: "off", Enabled: false},
			Profile{ID: "writer", Enabled: true},
			Profile{ID: "coder", Enabled: true},
		)
		require.NoError(t, err)

		p, err := c.Default()
		require.NoError(t, err)
		assert.Equal(t, "writer", p.ID)
		assert.Equal(t, memory.DefaultContextWindow, p.ContextWindow)
	})

	t.Run("disabled profiles are not found", func(t *testing.T) {
		c, err := NewCatalog(Profile{ID: "off", Enabled: false})
		require.NoError(t, err)

		_, err = c.Get("off")
		assert.ErrorIs(t, err, ErrAgentNotFound)
		_, err = c.Default()
		assert.ErrorIs(t, err, ErrAgentNotFound)
		assert.Len(t, c.List(), 1)
	})

	t.Run("rejects profile without id", func(t *testing.T) {
		_, err := NewCatalog(Profile{Name: "nameless"})
		require.Error(t, err)
	})
}

func TestGatewayFactory(t *testing.T) {
	t.Run("requires profiles", func(t *testing.T) {
		_, err := NewGatewayFactory(nil, "")
		require.Error(t, err)
	})

	t.Run("unknown default", func(t *testing.T) {
		_, err := NewGatewayFactory([]LLMProfile{{ID: "a", Provider: "openai"}}, "b")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "default llm profile not found")
	})

	t.Run("resolves and caches", func(t *testing.T) {
		f, err := NewGatewayFactory([]LLMProfile{
			{ID: "gpt", Provider: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"},
			{ID: "claude", Provider: "anthropic", APIKey: "sk-ant-test", Model: "claude-3-5-haiku-latest"},
			{ID: "ds", Provider: "deepseek", APIKey: "sk-test", Model: "deepseek-chat"},
		}, "claude")
		require.NoError(t, err)
		assert.Equal(t, []string{"claude", "ds", "gpt"}, f.Profiles())

		def, err := f.Gateway("")
		require.NoError(t, err)
		assert.IsType(t, &AnthropicGateway{}, def)

		gpt, err := f.Gateway("gpt")
		require.NoError(t, err)
		again, err := f.Gateway("gpt")
		require.NoError(t, err)
		assert.Same(t, gpt, again)

		ds, err := f.Gateway("ds")
		require.NoError(t, err)
		require.IsType(t, &OpenAIGateway{}, ds)
		assert.Equal(t, deepSeekBaseURL, ds.(*OpenAIGateway).profile.BaseURL)

		_, err = f.Gateway("missing")
		assert.Error(t, err)
	})

	t.Run("profile without provider", func(t *testing.T) {
		_, err := NewGateway(LLMProfile{ID: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has no provider")
	})
}

func TestConversation(t *testing.T) {
	call := memory.NewToolCall("calculator", map[string]interface{}{"a": 1})
	req := ChatRequest{
		SystemPrompt: "catalog",
		Messages: []memory.Message{
			memory.NewSystemMessage("persona"),
			memory.NewUserMessage("hi"),
			memory.NewAssistantMessage("TOOL_CALL: ...", call),
			memory.NewToolMessage(call.ID, "calculator", "2.00"),
			memory.NewUserMessage("and?"),
		},
	}

	system, turns := conversation(req)
	assert.Equal(t, "persona\n\ncatalog", system)
	require.Len(t, turns, 3)
	assert.Equal(t, memory.RoleUser, turns[0].role)
	assert.Equal(t, memory.RoleAssistant, turns[1].role)
	assert.Equal(t, memory.RoleUser, turns[2].role)
	assert.Equal(t, "Observation from calculator: 2.00\n\nand?", turns[2].content)
}

func TestService_ProfileDeniedToolNotRun(t *testing.T) {
	gateway := &scriptedGateway{replies: []string{
		`TOOL_CALL: {"name":"calculator","args":{"operation":"add","a":10,"b":5}}`,
		"FINAL_ANSWER: cannot compute",
	}}
	f := setupService(t, gateway, Profile{
		ID:          "no-math",
		DeniedTools: []string{"calculator"},
		Enabled:     true,
	})
	ctx := context.Background()

	sess, err := f.service.CreateSession(ctx, "no-math", "")
	require.NoError(t, err)

	result, err := f.service.Chat(ctx, ChatParams{SessionID: sess.SessionID, Message: "10+5"})
	require.NoError(t, err)
	assert.Equal(t, "cannot compute", result.Content)

	for _, c := range gateway.requests[0].Capabilities {
		assert.NotEqual(t, "calculator", c.Name)
	}

	history, err := f.service.History(ctx, sess.SessionID)
	require.NoError(t, err)

	var observations []string
	for _, m := range history {
		if m.Role == memory.RoleTool {
			observations = append(observations, m.Content)
		}
	}
	assert.Equal(t, []string{"Error: tool not found: calculator"}, observations)
}

func TestService_CloseSessionDuringRun(t *testing.T) {
	gateway := &blockingGateway{started: make(chan struct{}, 1), release: make(chan struct{})}
	f := setupService(t, gateway)
	ctx := context.Background()

	done := make(chan *ExecutionResult, 1)
	go func() {
		result, err := f.service.Chat(ctx, ChatParams{SessionID: "s1", Message: "first"})
		assert.NoError(t, err)
		done <- result
	}()

	<-gateway.started

	_, err := f.service.CloseSession(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrSessionBusy)

	// the lock survived the rejected close, so a second run is still refused
	_, err = f.service.Chat(ctx, ChatParams{SessionID: "s1", Message: "second"})
	assert.ErrorIs(t, err, session.ErrSessionBusy)

	sess, err := f.service.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sess.Active)

	close(gateway.release)
	result := <-done
	assert.Equal(t, "finally", result.Content)

	closed, err := f.service.CloseSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, closed.Active)
	assert.Equal(t, 0, f.guard.Len())
}
