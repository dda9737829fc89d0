package coretools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/harun/coda/pkg/toolexecutor"
)

const devNull = "/dev/null"

type hunkLine struct {
	kind byte
	text string
}

type hunk struct {
	start int
	lines []hunkLine
}

type filePatch struct {
	oldPath string
	newPath string
	hunks   []hunk
}

func (p filePatch) path() string {
	if p.newPath == devNull {
		return p.oldPath
	}
	return p.newPath
}

type patchResult struct {
	Path    string `json:"path"`
	Action  string `json:"action"`
	Hunks   int    `json:"hunks"`
	content []string
	target  string
}

func applyPatchTool(ws *Workspace) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: "apply_patch",
		Description: "Apply a unified diff to files in the workspace. Every hunk must match before any file is written. " +
			"Use /dev/null as the old path to create a file and as the new path to delete one.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "patch", Type: "string", Description: "Unified diff text with ---/+++ headers and @@ hunks.", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			text, _ := stringArg(params, "patch")
			if strings.TrimSpace(text) == "" {
				return nil, errors.New("patch is empty")
			}

			patches, err := parseUnifiedDiff(text)
			if err != nil {
				return nil, err
			}
			if len(patches) == 0 {
				return nil, errors.New("patch contains no file headers")
			}

			results := make([]patchResult, 0, len(patches))
			for _, p := range patches {
				r, err := planPatch(ws, p)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", p.path(), err)
				}
				results = append(results, r)
			}

			files := make([]interface{}, 0, len(results))
			for _, r := range results {
				if err := commitPatch(r); err != nil {
					return nil, fmt.Errorf("%s: %w", r.Path, err)
				}
				files = append(files, map[string]interface{}{
					"path":   r.Path,
					"action": r.Action,
					"hunks":  r.Hunks,
				})
			}

			return map[string]interface{}{"files": files}, nil
		},
	}
}

func parseUnifiedDiff(text string) ([]filePatch, error) {
	var patches []filePatch
	var current *filePatch
	var currentHunk *hunk
	oldPath := ""

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, "\r")
		switch {
		case strings.HasPrefix(line, "--- "):
			oldPath = diffPath(line[4:])
			currentHunk = nil
			continue
		case strings.HasPrefix(line, "+++ "):
			patches = append(patches, filePatch{oldPath: oldPath, newPath: diffPath(line[4:])})
			current = &patches[len(patches)-1]
			currentHunk = nil
			oldPath = ""
			continue
		case strings.HasPrefix(line, "@@"):
			if current == nil {
				return nil, errors.New("hunk before file header")
			}
			start, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			current.hunks = append(current.hunks, hunk{start: start})
			currentHunk = &current.hunks[len(current.hunks)-1]
			continue
		}

		if currentHunk == nil || line == "" {
			continue
		}
		switch line[0] {
		case ' ', '+', '-':
			currentHunk.lines = append(currentHunk.lines, hunkLine{kind: line[0], text: line[1:]})
		}
	}
	return patches, nil
}

func diffPath(field string) string {
	// Drop a trailing timestamp separated by a tab.
	if i := strings.IndexByte(field, '\t'); i >= 0 {
		field = field[:i]
	}
	field = strings.TrimSpace(field)
	if field == devNull {
		return field
	}
	if strings.HasPrefix(field, "a/") || strings.HasPrefix(field, "b/") {
		field = field[2:]
	}
	return field
}

// parseHunkHeader returns the 1-based old start line of "@@ -l,s +l,s @@".
func parseHunkHeader(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 || !strings.HasPrefix(fields[1], "-") {
		return 0, fmt.Errorf("invalid hunk header: %s", line)
	}
	start, _, _ := strings.Cut(strings.TrimPrefix(fields[1], "-"), ",")
	n, err := strconv.Atoi(start)
	if err != nil {
		return 0, fmt.Errorf("invalid hunk header: %s", line)
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}

func planPatch(ws *Workspace, p filePatch) (patchResult, error) {
	target, err := ws.Resolve(p.path())
	if err != nil {
		return patchResult{}, err
	}
	r := patchResult{Path: ws.Rel(target), target: target, Hunks: len(p.hunks)}

	data, err := os.ReadFile(target)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return r, err
	}

	switch {
	case p.newPath == devNull:
		if !exists {
			return r, errors.New("file to delete does not exist")
		}
		r.Action = "deleted"
		return r, nil
	case p.oldPath == devNull:
		if exists {
			return r, errors.New("file to create already exists")
		}
		r.Action = "created"
	default:
		if !exists {
			return r, errors.New("file does not exist")
		}
		r.Action = "modified"
	}

	lines, err := applyHunks(splitLines(string(data)), p.hunks)
	if err != nil {
		return r, err
	}
	r.content = lines
	return r, nil
}

func commitPatch(r patchResult) error {
	if r.Action == "deleted" {
		return os.Remove(r.target)
	}
	if err := os.MkdirAll(filepath.Dir(r.target), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	content := strings.Join(r.content, "\n")
	if content != "" {
		content += "\n"
	}
	return writeFileAtomic(r.target, []byte(content))
}

func applyHunks(orig []string, hunks []hunk) ([]string, error) {
	out := make([]string, 0, len(orig))
	idx := 0

	for n, h := range hunks {
		target := h.start - 1
		if target < idx {
			return nil, fmt.Errorf("hunk %d overlaps the previous hunk", n+1)
		}
		if target > len(orig) {
			target = len(orig)
		}
		out = append(out, orig[idx:target]...)
		idx = target

		for _, ln := range h.lines {
			switch ln.kind {
			case ' ', '-':
				if idx >= len(orig) || orig[idx] != ln.text {
					return nil, fmt.Errorf("hunk %d does not match at line %d", n+1, idx+1)
				}
				if ln.kind == ' ' {
					out = append(out, orig[idx])
				}
				idx++
			case '+':
				out = append(out, ln.text)
			}
		}
	}

	return append(out, orig[idx:]...), nil
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
