package coretools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/harun/coda/pkg/toolexecutor"
)

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
}

const maxMatchLineLength = 300

func searchFilesTool(ws *Workspace, opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "search_files",
		Description: "Search file contents with a regular expression. Returns matching lines with paths and line numbers.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "pattern", Type: "string", Description: "Regular expression (Go RE2 syntax).", Required: true},
			{Name: "path", Type: "string", Description: "Directory or file to search. Default: the workspace root."},
			{Name: "glob", Type: "string", Description: "Only search files whose name matches this glob, e.g. \"*.go\"."},
			{Name: "case_insensitive", Type: "boolean", Description: "Case-insensitive match. Default: false."},
			{Name: "max_results", Type: "integer", Description: "Maximum number of matches. Default: 100."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			pattern, _ := stringArg(params, "pattern")
			if boolArg(params, "case_insensitive") {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern: %w", err)
			}

			raw, _ := stringArg(params, "path")
			root, err := ws.Resolve(raw)
			if err != nil {
				return nil, err
			}
			glob, _ := stringArg(params, "glob")
			if glob != "" {
				if _, err := filepath.Match(glob, ""); err != nil {
					return nil, fmt.Errorf("invalid glob: %w", err)
				}
			}
			maxResults, err := intArg(params, "max_results", defaultMaxResults)
			if err != nil {
				return nil, err
			}
			if maxResults < 1 {
				maxResults = defaultMaxResults
			}

			s := &searcher{ws: ws, re: re, glob: glob, max: maxResults, maxBytes: opts.MaxReadBytes}
			if err := s.walk(ctx, root); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"pattern":   params["pattern"],
				"matches":   s.matches,
				"count":     len(s.matches),
				"truncated": s.truncated,
			}, nil
		},
	}
}

type searcher struct {
	ws        *Workspace
	re        *regexp.Regexp
	glob      string
	max       int
	maxBytes  int64
	matches   []interface{}
	truncated bool
}

var errSearchDone = errors.New("search result limit reached")

func (s *searcher) walk(ctx context.Context, root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && (skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if s.glob != "" {
			if ok, _ := filepath.Match(s.glob, d.Name()); !ok {
				return nil
			}
		}
		return s.searchFile(path)
	})
	if errors.Is(err, errSearchDone) {
		return nil
	}
	return err
}

func (s *searcher) searchFile(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() > s.maxBytes {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil || bytes.IndexByte(data, 0) >= 0 {
		return nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), len(data)+1)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !s.re.MatchString(text) {
			continue
		}
		if len(s.matches) >= s.max {
			s.truncated = true
			return errSearchDone
		}
		if len(text) > maxMatchLineLength {
			text = strings.ToValidUTF8(text[:maxMatchLineLength], "") + "..."
		}
		s.matches = append(s.matches, map[string]interface{}{
			"path": s.ws.Rel(path),
			"line": line,
			"text": text,
		})
	}
	return nil
}
