package llm

import (
	"bufio"
	"context"
	"io"
	"iter"
	"strings"
)

const (
	scanInitialBuffer = 64 * 1024
	scanMaxBuffer     = 4 * 1024 * 1024
)

// sseEvent is one dispatched server-sent event.
type sseEvent struct {
	Name string
	Data string
}

// readSSE yields events from a text/event-stream body. Comment lines are
// skipped and multi-line data fields are joined with newlines.
func readSSE(ctx context.Context, r io.Reader) iter.Seq2[sseEvent, error] {
	return func(yield func(sseEvent, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, scanInitialBuffer), scanMaxBuffer)

		var name string
		var data strings.Builder
		flush := func() bool {
			if data.Len() == 0 {
				name = ""
				return true
			}
			ev := sseEvent{Name: name, Data: data.String()}
			name = ""
			data.Reset()
			return yield(ev, nil)
		}

		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				yield(sseEvent{}, err)
				return
			}
			line := scanner.Text()
			switch {
			case line == "":
				if !flush() {
					return
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(line[len("event:"):])
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimSpace(line[len("data:"):]))
			}
		}
		if err := scanner.Err(); err != nil {
			yield(sseEvent{}, err)
			return
		}
		flush()
	}
}

// readNDJSON yields non-empty lines of a newline-delimited JSON body.
func readNDJSON(ctx context.Context, r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, scanInitialBuffer), scanMaxBuffer)
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !yield(line, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", err)
		}
	}
}
