package memory

// DefaultContextWindow is the working-context cap used when none is configured
const DefaultContextWindow = 100

// Window selects the working context from a full history. If the history fits
// within limit it is returned unchanged. Otherwise every system message is kept,
// followed by the most recent limit-|system| other messages, in original order.
// A non-positive limit falls back to DefaultContextWindow.
func Window(messages []Message, limit int) []Message {
	if limit <= 0 {
		limit = DefaultContextWindow
	}
	if len(messages) <= limit {
		out := make([]Message, len(messages))
		copy(out, messages)
		return out
	}

	var system, rest []Message
	for _, m := range messages {
		if m.IsSystem() {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	out := make([]Message, 0, limit)
	out = append(out, system...)

	remaining := limit - len(system)
	if remaining > 0 {
		start := len(rest) - remaining
		if start < 0 {
			start = 0
		}
		out = append(out, rest[start:]...)
	}
	return out
}

// Recent returns the last n messages
func Recent(messages []Message, n int) []Message {
	if n <= 0 {
		return []Message{}
	}
	if len(messages) <= n {
		out := make([]Message, len(messages))
		copy(out, messages)
		return out
	}
	out := make([]Message, n)
	copy(out, messages[len(messages)-n:])
	return out
}
