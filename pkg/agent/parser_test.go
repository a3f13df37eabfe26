package agent

import (
	"strings"
	"testing"

	"github.com/harun/nanobot/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		kind     ReplyKind
		answer   string
		tool     string
		args     map[string]interface{}
		hasError bool
	}{
		{
			name:   "final answer",
			text:   "FINAL_ANSWER: The result is 15.",
			kind:   ReplyFinalAnswer,
			answer: "The result is 15.",
		},
		{
			name:   "final answer after reasoning",
			text:   "I know this one.\nFINAL_ANSWER:   Paris  \n",
			kind:   ReplyFinalAnswer,
			answer: "Paris",
		},
		{
			name: "tool call",
			text: `TOOL_CALL: {"name":"calculator","args":{"operation":"add","a":10,"b":5}}`,
			kind: ReplyToolCall,
			tool: "calculator",
			args: map[string]interface{}{"operation": "add", "a": float64(10), "b": float64(5)},
		},
		{
			name: "tool call with trailing text",
			text: "Let me check.\nTOOL_CALL: {\"name\": \"get_weather\", \"args\": {\"city\": \"Berlin\"}} and then I'll answer",
			kind: ReplyToolCall,
			tool: "get_weather",
			args: map[string]interface{}{"city": "Berlin"},
		},
		{
			name: "tool call without args",
			text: `TOOL_CALL: {"name":"get_current_time"}`,
			kind: ReplyToolCall,
			tool: "get_current_time",
			args: map[string]interface{}{},
		},
		{
			name:   "final answer wins over tool call",
			text:   "TOOL_CALL: {\"name\":\"calculator\",\"args\":{}}\nFINAL_ANSWER: done",
			kind:   ReplyFinalAnswer,
			answer: "done",
		},
		{
			name: "plain thought",
			text: "I need to think about this.",
			kind: ReplyThought,
		},
		{
			name:     "malformed json",
			text:     `TOOL_CALL: {"name": "calculator", "args": `,
			kind:     ReplyThought,
			hasError: true,
		},
		{
			name:     "missing name",
			text:     `TOOL_CALL: {"args": {"a": 1}}`,
			kind:     ReplyThought,
			hasError: true,
		},
		{
			name:     "no object after marker",
			text:     "TOOL_CALL: calculator please",
			kind:     ReplyThought,
			hasError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := ParseReply(tt.text)

			assert.Equal(t, tt.kind, reply.Kind)
			assert.Equal(t, tt.answer, reply.Answer)
			assert.Equal(t, tt.tool, reply.ToolName)
			if tt.args != nil {
				assert.Equal(t, tt.args, reply.Args)
			}
			if tt.hasError {
				assert.Error(t, reply.Err)
			} else {
				assert.NoError(t, reply.Err)
			}
		})
	}
}

func TestReplyKind_String(t *testing.T) {
	assert.Equal(t, "thought", ReplyThought.String())
	assert.Equal(t, "tool_call", ReplyToolCall.String())
	assert.Equal(t, "final_answer", ReplyFinalAnswer.String())
}

func TestBuildSystemPrompt(t *testing.T) {
	t.Run("lists capabilities", func(t *testing.T) {
		prompt := BuildSystemPrompt([]toolexecutor.Capability{
			{Name: "calculator", Description: "Basic arithmetic", ParameterSchema: `{"type":"object"}`},
			{Name: "get_weather", Description: "Weather by city"},
		})

		assert.Contains(t, prompt, "Tool name: calculator")
		assert.Contains(t, prompt, "Description: Basic arithmetic")
		assert.Contains(t, prompt, `Parameters: {"type":"object"}`)
		assert.Contains(t, prompt, "Tool name: get_weather")
		assert.Contains(t, prompt, ToolCallMarker)
		assert.Contains(t, prompt, FinalAnswerMarker)
	})

	t.Run("without capabilities only final answers are offered", func(t *testing.T) {
		prompt := BuildSystemPrompt(nil)

		assert.Contains(t, prompt, "No tools are available")
		assert.Contains(t, prompt, FinalAnswerMarker)
		assert.False(t, strings.Contains(prompt, "To use a tool"))
	})
}
