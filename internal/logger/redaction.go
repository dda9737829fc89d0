package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Redactor masks credentials in log output.
type Redactor struct {
	rules []rule
}

// NewRedactor creates a redactor for the credential formats the providers use.
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			// Anthropic first so the longer prefix wins.
			{regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{16,}`), redacted},
			// OpenAI and OpenRouter.
			{regexp.MustCompile(`sk-(?:or-|proj-)?[A-Za-z0-9_-]{16,}`), redacted},
			// Google.
			{regexp.MustCompile(`AIza[0-9A-Za-z_-]{30,}`), redacted},
			{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`), redacted},
			{regexp.MustCompile(`(?i)(x-api-key|x-goog-api-key)(["\s:=]+)[^\s",]+`), "${1}${2}" + redacted},
			{regexp.MustCompile(`([?&]key=)[^&\s"]+`), "${1}" + redacted},
		},
	}
}

// AddPattern adds a pattern whose matches are replaced entirely.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{re, redacted})
	return nil
}

// Redact replaces every credential in s.
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	return s
}

// Wrap returns a writer that redacts before writing to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since redaction changes the payload length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
