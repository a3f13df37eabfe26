package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/agent"
	"github.com/harun/nanobot/pkg/registry"
)

// EventAgent is the event name of streamed agent progress
const EventAgent = "agent.event"

func (s *Server) registerBuiltinMethods() error {
	methods := map[string]RequestHandler{
		"gateway.status": s.handleGatewayStatus,
	}

	if s.agents != nil {
		methods["agent.chat"] = s.handleAgentChat
		methods["agent.stream"] = s.handleAgentStreamRPC
		methods["agent.list"] = s.handleAgentList
		methods["session.create"] = s.handleSessionCreate
		methods["session.get"] = s.handleSessionGet
		methods["session.close"] = s.handleSessionClose
		methods["session.history"] = s.handleSessionHistory
	}

	if s.registry != nil {
		for name, handler := range registry.GatewayMethods(s.registry) {
			methods[name] = handler
		}
	}

	return s.router.RegisterMethods(methods)
}

func (s *Server) handleGatewayStatus(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"clients": s.clients.GetConnectedClients(),
		"methods": s.router.GetMethods(),
	}, nil
}

// handleAgentChat runs one user turn and answers with the execution result
func (s *Server) handleAgentChat(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	chat, err := chatParams(params)
	if err != nil {
		return nil, err
	}

	ctx = tracing.WithSessionKey(ctx, chat.SessionID)
	ctx = tracing.WithRunID(ctx, tracing.NewRunID())

	return s.agents.Chat(ctx, chat)
}

// handleAgentStreamRPC runs one user turn, pushing each agent event to the
// calling client before answering with the execution result. It needs a
// WebSocket connection to push to.
func (s *Server) handleAgentStreamRPC(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	clientID := ClientIDFromContext(ctx)
	if clientID == "" {
		return nil, &RPCError{Code: InvalidRequest, Message: "agent.stream requires a WebSocket connection"}
	}

	chat, err := chatParams(params)
	if err != nil {
		return nil, err
	}

	ctx = tracing.WithRunID(ctx, tracing.NewRunID())
	stream, err := s.agents.ChatStream(ctx, chat)
	if err != nil {
		return nil, err
	}

	requestID := tracing.GetRequestID(ctx)
	traceID := tracing.GetTraceID(ctx)
	for event := range stream.Events() {
		err := s.broadcaster.SendTo(clientID, EventMessage{
			Event:     EventAgent,
			Data:      event,
			RequestID: requestID,
			SessionID: stream.SessionID,
			TraceID:   traceID,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("clientId", clientID).Msg("Failed to forward agent event")
		}
	}

	return stream.Result(ctx)
}

func (s *Server) handleAgentList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	agents := s.agents.Agents()
	return map[string]interface{}{
		"agents": agents,
		"count":  len(agents),
	}, nil
}

func (s *Server) handleSessionCreate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	agentID, _ := params["agentId"].(string)
	userID, _ := params["userId"].(string)
	return s.agents.CreateSession(ctx, strings.TrimSpace(agentID), userID)
}

func (s *Server) handleSessionGet(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "sessionId")
	if err != nil {
		return nil, err
	}
	return s.agents.GetSession(ctx, sessionID)
}

func (s *Server) handleSessionClose(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "sessionId")
	if err != nil {
		return nil, err
	}
	return s.agents.CloseSession(ctx, sessionID)
}

func (s *Server) handleSessionHistory(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "sessionId")
	if err != nil {
		return nil, err
	}

	messages, err := s.agents.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"sessionId": sessionID,
		"messages":  messages,
		"count":     len(messages),
	}, nil
}

func chatParams(params map[string]interface{}) (agent.ChatParams, error) {
	message, err := requiredString(params, "message")
	if err != nil {
		return agent.ChatParams{}, err
	}

	sessionID, _ := params["sessionId"].(string)
	userID, _ := params["userId"].(string)
	return agent.ChatParams{
		SessionID: strings.TrimSpace(sessionID),
		UserID:    userID,
		Message:   message,
	}, nil
}

func requiredString(params map[string]interface{}, key string) (string, error) {
	value, ok := params[key].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s parameter is required and must be a string", errInvalidParams, key)
	}
	return value, nil
}
