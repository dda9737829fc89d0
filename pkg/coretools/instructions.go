package coretools

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// InstructionFiles are read from the workspace root, in order, and appended
// to the system prompt.
var InstructionFiles = []string{"AGENTS.md", "CODA.md"}

const maxInstructionBytes = 64 * 1024

// LoadInstructions returns the project instruction files found in the
// workspace root, each under a header naming the file. Missing files are
// skipped; oversized files are rejected.
func LoadInstructions(ws *Workspace) (string, error) {
	var sections []string
	for _, name := range InstructionFiles {
		path, err := ws.Resolve(name)
		if err != nil {
			return "", err
		}

		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", name, err)
		}
		if info.IsDir() {
			continue
		}
		if info.Size() > maxInstructionBytes {
			return "", fmt.Errorf("%s is %d bytes, over the %d byte limit", name, info.Size(), maxInstructionBytes)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			sections = append(sections, fmt.Sprintf("# Project instructions (%s)\n\n%s", name, text))
		}
	}
	return strings.Join(sections, "\n\n"), nil
}
