package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/harun/coda/pkg/agent"
	"github.com/harun/coda/pkg/llm"
)

const (
	prompt          = "> "
	maxArgsPreview  = 120
	maxErrorPreview = 200
)

var errQuit = errors.New("quit")

const replHelp = `Commands:
  /clear                     start over, keeping the system prompt
  /model <provider> [model]  switch model for the next message
  /session                   show the current session id
  /help                      show this help
  /exit                      leave`

// runREPL reads messages until /exit or end of input.
func (a *app) runREPL(ctx context.Context) error {
	meta := a.loop.Store().Metadata()
	fmt.Fprintf(a.out, "coda %s (%s %s), session %s\n", version, meta.Provider, meta.Model, meta.SessionID)
	fmt.Fprintln(a.out, "Type /help for commands. Ctrl+C interrupts a reply.")

	for {
		fmt.Fprint(a.out, prompt)
		line, err := a.in.ReadLine(ctx)
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			switch {
			case errors.Is(err, io.EOF):
				fmt.Fprintln(a.out)
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if err := a.command(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(a.out, "error: %v\n", err)
			}
			continue
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		a.turn(turnCtx, line)
		stop()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (a *app) command(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return errQuit
	case "/help":
		fmt.Fprintln(a.out, replHelp)
	case "/clear":
		if a.loop.Busy() {
			return agent.ErrChatInProgress
		}
		a.loop.Store().Clear()
		a.save(ctx)
		fmt.Fprintln(a.out, "Conversation cleared.")
	case "/model":
		if len(fields) < 2 || len(fields) > 3 {
			return fmt.Errorf("usage: /model <provider> [model]")
		}
		model := ""
		if len(fields) == 3 {
			model = fields[2]
		}
		if err := a.switchModel(fields[1], model); err != nil {
			return err
		}
		meta := a.loop.Store().Metadata()
		fmt.Fprintf(a.out, "Now using %s %s.\n", meta.Provider, meta.Model)
	case "/session":
		fmt.Fprintln(a.out, a.loop.Store().Metadata().SessionID)
	default:
		return fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return nil
}

// turn sends one message, renders its events and saves the session.
// It returns the terminal event.
func (a *app) turn(ctx context.Context, message string) agent.Event {
	var last agent.Event
	for ev := range a.policy.Chat(ctx, message) {
		a.render(ev)
		last = ev
	}
	a.save(context.WithoutCancel(ctx))
	return last
}

func (a *app) render(ev agent.Event) {
	switch ev.Type {
	case agent.EventContent:
		fmt.Fprint(a.out, ev.Content)
	case agent.EventToolCall:
		fmt.Fprintf(a.out, "\n[%s] %s\n", ev.Call.Name, preview(string(ev.Call.Arguments), maxArgsPreview))
	case agent.EventToolResult:
		if ev.Result.Success {
			fmt.Fprintln(a.out, "  ok")
		} else {
			fmt.Fprintf(a.out, "  failed: %s\n", preview(ev.Result.Error, maxErrorPreview))
		}
	case agent.EventError:
		fmt.Fprintf(a.out, "\nerror: %s\n", describeError(ev.Err))
	case agent.EventMaxIterations:
		fmt.Fprintf(a.out, "\n[stopped after %d tool rounds; send a message to keep going]\n", ev.Iterations)
	case agent.EventDone:
		fmt.Fprintln(a.out)
	}
}

func describeError(err error) string {
	var perr *agent.ProviderError
	switch {
	case err == nil:
		return "unknown error"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	case errors.As(err, &perr):
		return fmt.Sprintf("%s: %s", perr.Provider, perr.Message)
	case errors.Is(err, llm.ErrStreamInFlight):
		return "a reply is already streaming"
	}
	return err.Error()
}

func preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
