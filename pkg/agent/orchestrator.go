package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/memory"
	"github.com/harun/nanobot/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ToolInvoker runs capabilities on behalf of the loop
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]interface{}) toolexecutor.Observation
}

// OrchestratorConfig holds orchestrator dependencies
type OrchestratorConfig struct {
	Tools  ToolInvoker
	Logger zerolog.Logger
}

// Orchestrator drives the reasoning loop: ask the model, act on its markers,
// feed observations back, until a final answer or the iteration limit.
type Orchestrator struct {
	tools  ToolInvoker
	logger zerolog.Logger
}

// RunParams is the input of one run. Store must already hold the user's
// message; the caller owns the session lock.
type RunParams struct {
	SessionID     string
	Store         memory.Store
	Gateway       LLMGateway
	Capabilities  []toolexecutor.Capability
	// AllowTool gates tool calls; nil allows every tool
	AllowTool     func(name string) bool
	MaxIterations int
	ContextWindow int
	Config        RunConfig
	Events        *EventEmitter
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool invoker is required")
	}

	return &Orchestrator{
		tools:  cfg.Tools,
		logger: cfg.Logger,
	}, nil
}

// Run executes the loop. It always returns a result; LLM and store failures
// end the run in StateError with their message as content.
func (o *Orchestrator) Run(ctx context.Context, p RunParams) *ExecutionResult {
	start := time.Now()

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithSessionKey(ctx, p.SessionID)
	ctx, span := tracing.StartSpan(ctx, "nanobot.agent", "agent.run",
		attribute.String("session_id", p.SessionID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, o.logger).With().Str("sessionId", p.SessionID).Logger()

	maxIterations := p.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	run := &loop{
		orchestrator: o,
		params:       p,
		logger:       logger,
		result:       &ExecutionResult{SessionID: p.SessionID},
	}

	result := run.execute(ctx, maxIterations)

	span.SetAttributes(
		attribute.String("state", string(result.State)),
		attribute.Int("iterations", result.Iterations),
	)
	if result.State == StateError {
		span.SetStatus(codes.Error, result.Content)
	}
	observability.RecordAgentRun(string(result.State), result.Iterations, time.Since(start))

	logger.Info().
		Str("state", string(result.State)).
		Int("iterations", result.Iterations).
		Dur("duration", time.Since(start)).
		Msg("Agent run finished")

	return result
}

// loop is the state of one run
type loop struct {
	orchestrator *Orchestrator
	params       RunParams
	logger       zerolog.Logger
	result       *ExecutionResult
}

func (l *loop) execute(ctx context.Context, maxIterations int) *ExecutionResult {
	p := l.params
	if p.Store == nil {
		return l.fail(ctx, errors.New("context store is required"))
	}
	if p.Gateway == nil {
		return l.fail(ctx, errors.New("llm gateway is required"))
	}

	systemPrompt := BuildSystemPrompt(p.Capabilities)

	for i := 1; i <= maxIterations; i++ {
		l.result.Iterations = i
		iterLogger := l.logger.With().Int("iteration", i).Logger()

		window, err := p.Store.WorkingContext(ctx, p.ContextWindow)
		if err != nil {
			return l.fail(ctx, fmt.Errorf("failed to load context: %w", err))
		}

		reply, err := l.chat(ctx, ChatRequest{
			Model:        p.Config.Model,
			SystemPrompt: systemPrompt,
			Messages:     window,
			Capabilities: p.Capabilities,
			Temperature:  p.Config.Temperature,
			MaxTokens:    p.Config.MaxTokens,
		})
		if err != nil {
			iterLogger.Error().Err(err).Msg("LLM call failed")
			return l.fail(ctx, err)
		}

		p.Events.Emit(Event{Type: EventThinking, Iteration: i, Content: reply})

		parsed := ParseReply(reply)

		var calls []memory.ToolCall
		if parsed.Kind == ReplyToolCall {
			calls = append(calls, memory.NewToolCall(parsed.ToolName, parsed.Args))
		}

		if err := p.Store.Append(ctx, memory.NewAssistantMessage(reply, calls...)); err != nil {
			return l.fail(ctx, fmt.Errorf("failed to save reply: %w", err))
		}

		switch parsed.Kind {
		case ReplyFinalAnswer:
			p.Events.Emit(Event{Type: EventFinalAnswer, Iteration: i, Content: parsed.Answer})
			return l.complete(ctx, parsed.Answer)

		case ReplyToolCall:
			call := calls[0]
			p.Events.Emit(Event{Type: EventToolCall, Iteration: i, ToolName: call.Name, ToolArgs: call.Arguments})

			var obs toolexecutor.Observation
			if p.AllowTool != nil && !p.AllowTool(call.Name) {
				iterLogger.Warn().Str("tool", call.Name).Msg("Tool call rejected by agent policy")
				obs = toolexecutor.NotFound(call.Name)
			} else {
				obs = l.orchestrator.tools.Invoke(ctx, call.Name, call.Arguments)
			}

			success := obs.Success
			p.Events.Emit(Event{Type: EventToolResult, Iteration: i, ToolName: call.Name, ToolResult: obs.Content, Success: &success})

			if err := p.Store.Append(ctx, memory.NewToolMessage(call.ID, call.Name, obs.Content)); err != nil {
				return l.fail(ctx, fmt.Errorf("failed to save observation: %w", err))
			}

		default:
			if parsed.Err != nil {
				iterLogger.Warn().Err(parsed.Err).Msg("Malformed tool call, treating reply as a thought")
			}
		}
	}

	l.logger.Warn().Int("maxIterations", maxIterations).Msg("Reached maximum iterations")
	return l.complete(ctx, MaxIterationsMessage)
}

func (l *loop) chat(ctx context.Context, req ChatRequest) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "nanobot.agent", "llm.chat",
		attribute.String("model", req.Model),
		attribute.Int("messages", len(req.Messages)),
	)
	defer span.End()

	start := time.Now()
	reply, err := l.params.Gateway.Chat(ctx, req)
	observability.RecordLLMCall(l.params.Config.LLMProfile, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return reply, err
}

func (l *loop) complete(ctx context.Context, content string) *ExecutionResult {
	l.result.State = StateCompleted
	l.result.Content = content
	l.result.History = l.history(ctx)
	l.params.Events.Emit(Event{Type: EventDone, Iteration: l.result.Iterations, Content: content})
	return l.result
}

func (l *loop) fail(ctx context.Context, err error) *ExecutionResult {
	l.result.State = StateError
	l.result.Content = "Error: " + err.Error()
	l.result.History = l.history(ctx)
	l.params.Events.Emit(Event{Type: EventError, Iteration: l.result.Iterations, Content: l.result.Content})
	return l.result
}

func (l *loop) history(ctx context.Context) []memory.Message {
	if l.params.Store == nil {
		return nil
	}
	msgs, err := l.params.Store.All(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Failed to read history")
		return nil
	}
	return msgs
}
