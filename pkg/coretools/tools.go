package coretools

import (
	"fmt"
	"time"

	"github.com/harun/coda/pkg/toolexecutor"
)

const (
	defaultCommandTimeout = 2 * time.Minute
	maxCommandTimeout     = 10 * time.Minute
	defaultMaxReadBytes   = 1 << 20
	defaultMaxOutputBytes = 30000
	defaultReadLineLimit  = 2000
	defaultMaxResults     = 100
)

// Options tunes the built-in tools.
type Options struct {
	Classifier     *toolexecutor.CommandClassifier
	CommandTimeout time.Duration
	MaxReadBytes   int64
	MaxOutputBytes int
}

func (o Options) withDefaults() Options {
	if o.Classifier == nil {
		o.Classifier = toolexecutor.NewCommandClassifier()
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = defaultCommandTimeout
	}
	if o.MaxReadBytes <= 0 {
		o.MaxReadBytes = defaultMaxReadBytes
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = defaultMaxOutputBytes
	}
	return o
}

// Tools builds the definitions bound to a workspace.
func Tools(ws *Workspace, opts Options) []toolexecutor.ToolDefinition {
	opts = opts.withDefaults()
	return []toolexecutor.ToolDefinition{
		listDirectoryTool(ws),
		readFileTool(ws, opts),
		writeFileTool(ws),
		editFileTool(ws, opts),
		applyPatchTool(ws),
		searchFilesTool(ws, opts),
		runCommandTool(ws, opts),
	}
}

// Register adds every built-in tool to the executor.
func Register(te *toolexecutor.ToolExecutor, ws *Workspace, opts Options) error {
	for _, def := range Tools(ws, opts) {
		if err := te.RegisterTool(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	return nil
}
