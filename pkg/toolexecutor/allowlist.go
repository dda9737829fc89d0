package toolexecutor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AllowlistEntry is one "always allow" rule.
//
// Command matches the first word of a command line. With Args set, the
// following words must start with Args. Pattern is a glob over the whole line.
type AllowlistEntry struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	AddedAt string   `json:"added_at"`
}

// AllowlistManager persists commands the user chose to always allow.
type AllowlistManager struct {
	filePath string
	entries  []AllowlistEntry
	mu       sync.RWMutex
}

// DefaultAllowlistPath returns ~/.coda/allowlist.json.
func DefaultAllowlistPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".coda", "allowlist.json"), nil
}

// NewAllowlistManager creates an allowlist backed by filePath, loading it if present.
func NewAllowlistManager(filePath string) (*AllowlistManager, error) {
	if filePath == "" {
		p, err := DefaultAllowlistPath()
		if err != nil {
			return nil, err
		}
		filePath = p
	}

	am := &AllowlistManager{filePath: filePath}
	if err := am.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load allowlist: %w", err)
		}
		log.Debug().Str("path", filePath).Msg("Allowlist file does not exist, will create on first save")
	}
	return am, nil
}

// Path returns the backing file.
func (am *AllowlistManager) Path() string {
	return am.filePath
}

// Load reads the allowlist from disk.
func (am *AllowlistManager) Load() error {
	data, err := os.ReadFile(am.filePath)
	if err != nil {
		return err
	}

	var entries []AllowlistEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse allowlist: %w", err)
	}

	am.mu.Lock()
	am.entries = entries
	am.mu.Unlock()

	log.Debug().Str("path", am.filePath).Int("count", len(entries)).Msg("Allowlist loaded")
	return nil
}

// Save writes the allowlist atomically.
func (am *AllowlistManager) Save() error {
	am.mu.RLock()
	data, err := json.MarshalIndent(am.entries, "", "  ")
	count := len(am.entries)
	am.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal allowlist: %w", err)
	}

	dir := filepath.Dir(am.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".allowlist-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write allowlist: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write allowlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write allowlist: %w", err)
	}
	if err := os.Rename(tmp.Name(), am.filePath); err != nil {
		return fmt.Errorf("failed to write allowlist: %w", err)
	}

	log.Debug().Str("path", am.filePath).Int("count", count).Msg("Allowlist saved")
	return nil
}

// Add appends an entry unless an identical one exists.
func (am *AllowlistManager) Add(entry AllowlistEntry) error {
	if entry.Command == "" && entry.Pattern == "" {
		return fmt.Errorf("either command or pattern must be specified")
	}
	if entry.Pattern != "" {
		if _, err := filepath.Match(entry.Pattern, ""); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", entry.Pattern, err)
		}
	}
	if entry.AddedAt == "" {
		entry.AddedAt = time.Now().UTC().Format(time.RFC3339)
	}

	am.mu.Lock()
	defer am.mu.Unlock()

	for _, existing := range am.entries {
		if sameEntry(existing, entry) {
			return nil
		}
	}
	am.entries = append(am.entries, entry)

	log.Info().Str("command", entry.Command).Strs("args", entry.Args).Str("pattern", entry.Pattern).Msg("Added to allowlist")
	return nil
}

// AllowCommandLine adds the exact command line and saves.
func (am *AllowlistManager) AllowCommandLine(line, reason string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return fmt.Errorf("empty command")
	}
	if err := am.Add(AllowlistEntry{Command: fields[0], Args: fields[1:], Reason: reason}); err != nil {
		return err
	}
	return am.Save()
}

// Remove deletes the entry for command and args.
func (am *AllowlistManager) Remove(command string, args []string) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	target := AllowlistEntry{Command: command, Args: args}
	kept := am.entries[:0]
	found := false
	for _, entry := range am.entries {
		if entry.Pattern == "" && sameEntry(entry, target) {
			found = true
			continue
		}
		kept = append(kept, entry)
	}
	if !found {
		return fmt.Errorf("entry not found in allowlist")
	}
	am.entries = kept
	return nil
}

// IsAllowed reports whether a command line matches any entry.
func (am *AllowlistManager) IsAllowed(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	normalized := strings.Join(fields, " ")

	am.mu.RLock()
	defer am.mu.RUnlock()

	for _, entry := range am.entries {
		if entry.Command != "" && entry.Command == fields[0] && hasPrefixArgs(fields[1:], entry.Args) {
			return true
		}
		if entry.Pattern != "" && matchGlob(entry.Pattern, normalized) {
			return true
		}
	}
	return false
}

// List returns a copy of the entries.
func (am *AllowlistManager) List() []AllowlistEntry {
	am.mu.RLock()
	defer am.mu.RUnlock()

	entries := make([]AllowlistEntry, len(am.entries))
	copy(entries, am.entries)
	return entries
}

// Clear removes all entries.
func (am *AllowlistManager) Clear() {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.entries = nil
}

// Count returns the number of entries.
func (am *AllowlistManager) Count() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return len(am.entries)
}

func sameEntry(a, b AllowlistEntry) bool {
	return a.Command == b.Command &&
		a.Pattern == b.Pattern &&
		strings.Join(a.Args, " ") == strings.Join(b.Args, " ")
}

func hasPrefixArgs(args, prefix []string) bool {
	if len(prefix) > len(args) {
		return false
	}
	for i, p := range prefix {
		if args[i] != p {
			return false
		}
	}
	return true
}

// matchGlob matches with filepath.Match semantics; "*" matches anything.
func matchGlob(pattern, str string) bool {
	if pattern == "*" {
		return true
	}
	matched, err := filepath.Match(pattern, str)
	if err != nil {
		log.Warn().Err(err).Str("pattern", pattern).Msg("Invalid glob pattern")
		return false
	}
	return matched
}
