package agent

import (
	"strings"

	"github.com/harun/nanobot/pkg/toolexecutor"
)

// BuildSystemPrompt renders the capability catalog and the marker rules the
// loop understands.
func BuildSystemPrompt(capabilities []toolexecutor.Capability) string {
	var b strings.Builder

	if len(capabilities) == 0 {
		b.WriteString("No tools are available right now. Answer from your own knowledge.\n\n")
	} else {
		b.WriteString("You can use the following tools:\n\n")
		for _, c := range capabilities {
			b.WriteString("- Tool name: ")
			b.WriteString(c.Name)
			b.WriteString("\n  Description: ")
			b.WriteString(c.Description)
			if c.ParameterSchema != "" {
				b.WriteString("\n  Parameters: ")
				b.WriteString(c.ParameterSchema)
			}
			b.WriteString("\n\n")
		}
	}

	b.WriteString("Rules:\n")
	b.WriteString("1. Analyse the user's request carefully.\n")
	if len(capabilities) > 0 {
		b.WriteString("2. To use a tool, reply with exactly one line in this format:\n")
		b.WriteString("   " + ToolCallMarker + ` {"name": "<tool name>", "args": {<arguments>}}` + "\n")
		b.WriteString("3. Tool results come back as observations. When you can answer, reply:\n")
	} else {
		b.WriteString("2. When you can answer, reply:\n")
	}
	b.WriteString("   " + FinalAnswerMarker + " <your answer>\n")
	b.WriteString("Output a single " + ToolCallMarker + " or " + FinalAnswerMarker + " per reply, never both.")

	return b.String()
}
