package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/harun/coda/pkg/toolexecutor"
)

func listDirectoryTool(ws *Workspace) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "list_directory",
		Description: "List the entries of a directory in the workspace. Directories are suffixed with '/'.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Directory relative to the workspace root. Default: the root."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			raw, _ := stringArg(params, "path")
			dir, err := ws.Resolve(raw)
			if err != nil {
				return nil, err
			}

			dirEntries, err := os.ReadDir(dir)
			if err != nil {
				return nil, fmt.Errorf("read directory: %w", err)
			}

			entries := make([]interface{}, 0, len(dirEntries))
			for _, entry := range dirEntries {
				item := map[string]interface{}{"name": entry.Name(), "type": "file"}
				if entry.IsDir() {
					item["name"] = entry.Name() + "/"
					item["type"] = "directory"
				} else if info, err := entry.Info(); err == nil {
					item["size"] = info.Size()
				}
				entries = append(entries, item)
			}

			return map[string]interface{}{
				"path":    ws.Rel(dir),
				"entries": entries,
				"count":   len(entries),
			}, nil
		},
	}
}

func readFileTool(ws *Workspace, opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "read_file",
		Description: "Read a text file from the workspace. Supports a 1-based line offset and a line limit.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace root.", Required: true},
			{Name: "offset", Type: "integer", Description: "1-based line to start from. Default: 1."},
			{Name: "limit", Type: "integer", Description: "Maximum number of lines. Default: 2000."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			raw, _ := stringArg(params, "path")
			path, err := ws.Resolve(raw)
			if err != nil {
				return nil, err
			}
			offset, err := intArg(params, "offset", 1)
			if err != nil {
				return nil, err
			}
			limit, err := intArg(params, "limit", defaultReadLineLimit)
			if err != nil {
				return nil, err
			}
			if offset < 1 {
				offset = 1
			}
			if limit < 1 {
				limit = defaultReadLineLimit
			}

			data, err := readBounded(path, opts.MaxReadBytes)
			if err != nil {
				return nil, err
			}
			if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
				return nil, fmt.Errorf("%s looks like a binary file", ws.Rel(path))
			}

			lines := strings.SplitAfter(string(data), "\n")
			if len(lines) > 0 && lines[len(lines)-1] == "" {
				lines = lines[:len(lines)-1]
			}
			total := len(lines)
			start := min(offset-1, total)
			end := min(start+limit, total)

			return map[string]interface{}{
				"path":        ws.Rel(path),
				"content":     strings.Join(lines[start:end], ""),
				"start_line":  start + 1,
				"end_line":    end,
				"total_lines": total,
			}, nil
		},
	}
}

func writeFileTool(ws *Workspace) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed. Overwrites existing files.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace root.", Required: true},
			{Name: "content", Type: "string", Description: "The full file content.", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			raw, _ := stringArg(params, "path")
			path, err := ws.Resolve(raw)
			if err != nil {
				return nil, err
			}
			content, _ := stringArg(params, "content")

			_, statErr := os.Stat(path)
			created := errors.Is(statErr, fs.ErrNotExist)

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create parent directories: %w", err)
			}
			if err := writeFileAtomic(path, []byte(content)); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":    ws.Rel(path),
				"bytes":   len(content),
				"created": created,
			}, nil
		},
	}
}

func editFileTool(ws *Workspace, opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "edit_file",
		Description: "Replace an exact string in a file. old_string must be unique unless replace_all is true.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace root.", Required: true},
			{Name: "old_string", Type: "string", Description: "Exact text to find.", Required: true},
			{Name: "new_string", Type: "string", Description: "Replacement text.", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence. Default: false."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			raw, _ := stringArg(params, "path")
			path, err := ws.Resolve(raw)
			if err != nil {
				return nil, err
			}
			oldString, _ := stringArg(params, "old_string")
			newString, _ := stringArg(params, "new_string")
			replaceAll := boolArg(params, "replace_all")

			if oldString == "" {
				return nil, errors.New("old_string must not be empty")
			}
			if oldString == newString {
				return nil, errors.New("old_string and new_string are identical")
			}

			data, err := readBounded(path, opts.MaxReadBytes)
			if err != nil {
				return nil, err
			}
			content := string(data)

			count := strings.Count(content, oldString)
			switch {
			case count == 0:
				return nil, fmt.Errorf("old_string not found in %s", ws.Rel(path))
			case count > 1 && !replaceAll:
				return nil, fmt.Errorf("old_string found %d times in %s; add context to make it unique or set replace_all", count, ws.Rel(path))
			}

			replacements := 1
			if replaceAll {
				content = strings.ReplaceAll(content, oldString, newString)
				replacements = count
			} else {
				content = strings.Replace(content, oldString, newString, 1)
			}

			if err := writeFileAtomic(path, []byte(content)); err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"path":         ws.Rel(path),
				"replacements": replacements,
			}, nil
		},
	}
}

func readBounded(path string, max int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filepath.Base(path))
	}
	if info.Size() > max {
		return nil, fmt.Errorf("file is %d bytes, larger than the %d byte limit", info.Size(), max)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// writeFileAtomic keeps the existing mode when the file already exists.
func writeFileAtomic(path string, data []byte) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
