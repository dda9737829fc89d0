package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/harun/coda/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
)

var sensitiveEnvSuffixes = []string{"_API_KEY", "_SECRET", "_TOKEN", "_PASSWORD", "_SECRET_KEY"}

func runCommandTool(ws *Workspace, opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: "run_command",
		Description: "Run a shell command with `sh -c` in the workspace root. Returns combined output and the exit code. " +
			"Commands that are not known to be read-only need the user's approval.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "command", Type: "string", Description: "The command line to run.", Required: true},
			{Name: "timeout_seconds", Type: "integer", Description: "Override the command timeout in seconds."},
		},
		Classify: opts.Classifier.ClassifyParam("command"),
		Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			command, _ := stringArg(params, "command")
			if strings.TrimSpace(command) == "" {
				return nil, errors.New("command must not be empty")
			}

			timeout := opts.CommandTimeout
			if secs, err := intArg(params, "timeout_seconds", 0); err != nil {
				return nil, err
			} else if secs > 0 {
				timeout = min(time.Duration(secs)*time.Second, maxCommandTimeout)
			}

			return runShell(ctx, ws.Root(), command, timeout, opts.MaxOutputBytes)
		},
	}
}

func runShell(ctx context.Context, dir, command string, timeout time.Duration, maxOutput int) (map[string]interface{}, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = filteredEnv()
	cmd.WaitDelay = 2 * time.Second

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	text, truncated := capOutput(output.String(), maxOutput)
	fields := map[string]interface{}{
		"command":     command,
		"output":      text,
		"exit_code":   0,
		"duration_ms": duration.Milliseconds(),
	}
	if truncated {
		fields["truncated"] = true
	}

	log.Debug().Str("command", command).Dur("duration", duration).Err(err).Msg("Command finished")

	if err == nil {
		return fields, nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		fields["exit_code"] = -1
		fields["timed_out"] = true
		return fields, fmt.Errorf("command timed out after %v", timeout)
	}
	if ctx.Err() != nil {
		fields["exit_code"] = -1
		return fields, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		fields["exit_code"] = exitErr.ExitCode()
		return fields, fmt.Errorf("command exited with status %d", exitErr.ExitCode())
	}
	return fields, fmt.Errorf("run command: %w", err)
}

// capOutput keeps the head and tail of long output.
func capOutput(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	half := max / 2
	head := strings.ToValidUTF8(s[:half], "")
	tail := strings.ToValidUTF8(s[len(s)-half:], "")
	return fmt.Sprintf("%s\n... [%d bytes omitted] ...\n%s", head, len(s)-2*half, tail), true
}

func filteredEnv() []string {
	var env []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || isSensitiveEnv(name) {
			continue
		}
		env = append(env, kv)
	}
	return env
}

func isSensitiveEnv(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}
