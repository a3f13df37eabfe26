package memory

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Role tags the variant a Message carries
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model's request to invoke a capability
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Message is one conversation entry. ToolCalls is set only on assistant
// messages; ToolCallID and ToolName only on tool messages. Sequence is
// assigned by the Store on append.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolName   string     `json:"toolName,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	Sequence   int64      `json:"sequence"`
}

// NewSystemMessage creates a system message
func NewSystemMessage(content string) Message {
	return newMessage(RoleSystem, content)
}

// NewUserMessage creates a user message
func NewUserMessage(content string) Message {
	return newMessage(RoleUser, content)
}

// NewAssistantMessage creates an assistant message with optional tool calls
func NewAssistantMessage(content string, calls ...ToolCall) Message {
	m := newMessage(RoleAssistant, content)
	if len(calls) > 0 {
		m.ToolCalls = calls
	}
	return m
}

// NewToolMessage creates the observation for a tool call
func NewToolMessage(toolCallID, toolName, result string) Message {
	m := newMessage(RoleTool, result)
	m.ToolCallID = toolCallID
	m.ToolName = toolName
	return m
}

// NewToolCall creates a tool call with a fresh id
func NewToolCall(name string, args map[string]interface{}) ToolCall {
	if args == nil {
		args = map[string]interface{}{}
	}
	return ToolCall{
		ID:        "call_" + NewID(),
		Name:      name,
		Arguments: args,
	}
}

// NewID returns a url-safe random id
func NewID() string {
	return gonanoid.Must()
}

func newMessage(role Role, content string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// IsSystem reports whether m is a system message
func (m Message) IsSystem() bool {
	return m.Role == RoleSystem
}
