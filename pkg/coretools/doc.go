// Package coretools provides the built-in file and shell tools the CLI
// registers into a toolexecutor.ToolExecutor.
//
// Every path argument is resolved against a Workspace root and rejected if it
// escapes that root, including through symlinks. run_command runs through
// `sh -c` in the workspace and is gated by a CommandClassifier.
package coretools
