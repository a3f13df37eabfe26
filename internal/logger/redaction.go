package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor masks credentials before log lines reach a sink
type Redactor struct {
	rules []rule
}

// NewRedactor creates a redactor for LLM api keys, bearer tokens, the
// gateway shared secret and database or redis passwords.
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			// OpenAI, DeepSeek and Anthropic keys
			{regexp.MustCompile(`sk-(ant-)?[a-zA-Z0-9_-]{20,}`), redacted},
			{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`), "Bearer " + redacted},
			{regexp.MustCompile(`(?i)(x-nanobot-secret["\s:=]+)[^\s",]+`), "${1}" + redacted},
			{regexp.MustCompile(`(?i)((?:api_key|apikey|secret|password)["\s:=]+)[^\s",]+`), "${1}" + redacted},
			// user:pass@tcp(host) mysql DSNs and redis://:pass@host urls
			{regexp.MustCompile(`([a-zA-Z0-9_.-]*):[^@\s/:"]+@(tcp|unix)\(`), "${1}:" + redacted + "@${2}("},
			{regexp.MustCompile(`(rediss?://[^:@\s/"]*):[^@\s/"]+@`), "${1}:" + redacted + "@"},
		},
	}
}

// AddPattern masks every match of pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{pattern: re, replacement: redacted})
	return nil
}

func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.pattern.ReplaceAllString(s, rl.replacement)
	}
	return s
}

// Wrap returns a writer that redacts everything written through it
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so zerolog does not treat a shorter
// redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
