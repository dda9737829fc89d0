package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// CLIApprovalHandler asks for approval on a terminal with a y/N/always prompt.
type CLIApprovalHandler struct {
	mu     sync.Mutex
	input  *LineReader
	writer io.Writer
}

// NewCLIApprovalHandler creates a CLI handler reading answers from input,
// which should be the same LineReader the REPL reads from.
func NewCLIApprovalHandler(input *LineReader, writer io.Writer) *CLIApprovalHandler {
	return &CLIApprovalHandler{
		input:  input,
		writer: writer,
	}
}

// RequestApproval implements ApprovalHandler.
func (c *CLIApprovalHandler) RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.displayApprovalRequest(req)

	line, err := c.input.ReadLine(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			fmt.Fprintln(c.writer, "\nApproval request timed out.")
			return ApprovalResponse{Approved: false, Reason: "timeout"}, ctxErr
		}
		fmt.Fprintln(c.writer, "\nApproval request cancelled.")
		return ApprovalResponse{Approved: false, Reason: "cancelled"}, ctxErr
	}
	return c.parseAnswer(req, line, err)
}

func (c *CLIApprovalHandler) displayApprovalRequest(req ApprovalRequest) {
	fmt.Fprintln(c.writer)
	fmt.Fprintln(c.writer, "Command requires approval:")
	fmt.Fprintf(c.writer, "  command: %s\n", req.Command)
	if req.Reason != "" {
		fmt.Fprintf(c.writer, "  reason:  %s\n", req.Reason)
	}
	if req.Cwd != "" {
		fmt.Fprintf(c.writer, "  cwd:     %s\n", req.Cwd)
	}
	fmt.Fprint(c.writer, "Run it? [y/N/always]: ")
}

func (c *CLIApprovalHandler) parseAnswer(req ApprovalRequest, line string, err error) (ApprovalResponse, error) {
	if err != nil && !errors.Is(err, io.EOF) {
		return ApprovalResponse{}, fmt.Errorf("failed to read input: %w", err)
	}
	if err != nil && line == "" {
		return ApprovalResponse{Approved: false, Reason: "no input provided"}, nil
	}

	input := strings.ToLower(strings.TrimSpace(line))
	switch input {
	case "y", "yes":
		log.Info().Str("command", req.Command).Msg("Command approved via CLI")
		return ApprovalResponse{Approved: true, Reason: "approved by user"}, nil
	case "a", "always":
		fmt.Fprintln(c.writer, "Added to allowlist.")
		log.Info().Str("command", req.Command).Msg("Command always-approved via CLI")
		return ApprovalResponse{Approved: true, Always: true, Reason: "always approved by user"}, nil
	case "n", "no", "":
		return ApprovalResponse{Approved: false, Reason: "denied by user"}, nil
	default:
		fmt.Fprintf(c.writer, "Unrecognized answer %q, not running.\n", input)
		log.Warn().Str("command", req.Command).Str("input", input).Msg("Invalid input for approval")
		return ApprovalResponse{Approved: false, Reason: fmt.Sprintf("invalid input: %s", input)}, nil
	}
}
