package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	FinalAnswerMarker = "FINAL_ANSWER:"
	ToolCallMarker    = "TOOL_CALL:"
)

// ReplyKind classifies a model reply
type ReplyKind int

const (
	ReplyThought ReplyKind = iota
	ReplyToolCall
	ReplyFinalAnswer
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyToolCall:
		return "tool_call"
	case ReplyFinalAnswer:
		return "final_answer"
	default:
		return "thought"
	}
}

// Reply is a parsed model reply. Err is set when a TOOL_CALL marker was
// present but its payload could not be used; the reply then counts as a
// thought.
type Reply struct {
	Kind     ReplyKind
	Answer   string
	ToolName string
	Args     map[string]interface{}
	Err      error
}

type toolCallPayload struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ParseReply interprets the control markers of a model reply. A final answer
// takes precedence over a tool call when both markers are present.
func ParseReply(text string) Reply {
	if idx := strings.Index(text, FinalAnswerMarker); idx >= 0 {
		return Reply{
			Kind:   ReplyFinalAnswer,
			Answer: strings.TrimSpace(text[idx+len(FinalAnswerMarker):]),
		}
	}

	idx := strings.Index(text, ToolCallMarker)
	if idx < 0 {
		return Reply{Kind: ReplyThought}
	}

	payload, err := parseToolCall(text[idx+len(ToolCallMarker):])
	if err != nil {
		return Reply{Kind: ReplyThought, Err: err}
	}

	return Reply{
		Kind:     ReplyToolCall,
		ToolName: payload.Name,
		Args:     payload.Args,
	}
}

// parseToolCall decodes the first JSON object in s; anything after it is ignored
func parseToolCall(s string) (*toolCallPayload, error) {
	start := strings.Index(s, "{")
	if start < 0 {
		return nil, errors.New("tool call payload is not a JSON object")
	}

	var payload toolCallPayload
	if err := json.NewDecoder(strings.NewReader(s[start:])).Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid tool call payload: %w", err)
	}

	payload.Name = strings.TrimSpace(payload.Name)
	if payload.Name == "" {
		return nil, errors.New("tool call payload has no name")
	}
	if payload.Args == nil {
		payload.Args = map[string]interface{}{}
	}
	return &payload, nil
}
