package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/coda/internal/observability"
	"github.com/harun/coda/internal/tracing"
	"github.com/harun/coda/pkg/conversation"
	"github.com/harun/coda/pkg/llm"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	tracerName    = "coda.session"
	fileExt       = ".json"
	previewLength = 60
)

var (
	// ErrNotFound is returned when no file exists for a session id.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidKey is returned for ids that are empty or not path-safe.
	ErrInvalidKey = errors.New("invalid session id")
	// ErrCorrupt is returned when a session file cannot be decoded or fails validation.
	ErrCorrupt = errors.New("corrupt session file")
)

// Document is the on-disk form of a session.
type Document struct {
	Metadata conversation.Metadata `json:"metadata"`
	Messages []llm.Message         `json:"messages"`
}

// Snapshot converts the document for conversation.Store.Restore.
func (d *Document) Snapshot() conversation.Snapshot {
	return conversation.Snapshot{Metadata: d.Metadata, Messages: d.Messages}
}

// Summary describes a stored session without its messages.
type Summary struct {
	ID       string
	Metadata conversation.Metadata
	Messages int
	ModTime  time.Time
	// Preview is the start of the first user message.
	Preview string
}

// Manager stores sessions under a directory as <id>.json.
type Manager struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a Manager rooted at dir, defaulting to ~/.coda/sessions.
func New(dir string) (*Manager, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".coda", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	log.Debug().Str("dir", dir).Msg("Session manager initialized")
	return &Manager{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the sessions directory.
func (m *Manager) Dir() string {
	return m.dir
}

func validateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.Contains(id, ".."):
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidKey)
	case strings.ContainsAny(id, "/\\"):
		return fmt.Errorf("%w: cannot contain path separators", ErrInvalidKey)
	case strings.Contains(id, "\x00"):
		return fmt.Errorf("%w: cannot contain null bytes", ErrInvalidKey)
	}
	return nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+fileExt)
}

func (m *Manager) writeLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if lock, ok := m.writeLocks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.writeLocks[id] = lock
	return lock
}

// Save writes the store's current snapshot.
func (m *Manager) Save(ctx context.Context, store *conversation.Store) error {
	return m.SaveSnapshot(ctx, store.Snapshot())
}

// SaveSnapshot validates snap, stamps LastUpdated and writes it atomically.
func (m *Manager) SaveSnapshot(ctx context.Context, snap conversation.Snapshot) (err error) {
	id := snap.Metadata.SessionID
	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.save",
		attribute.String("session_id", id),
		attribute.Int("messages", len(snap.Messages)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err = validateID(id); err != nil {
		return err
	}
	if err = conversation.Validate(snap.Messages); err != nil {
		return fmt.Errorf("refusing to save session %s: %w", id, err)
	}

	snap.Metadata.LastUpdated = time.Now().UTC()
	data, err := json.Marshal(Document{Metadata: snap.Metadata, Messages: snap.Messages})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	lock := m.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err = writeAtomic(m.path(id), data); err != nil {
		return err
	}

	logger.Debug().Int("messages", len(snap.Messages)).Msg("Session saved")
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename session file: %w", err)
	}
	return nil
}

// Load reads and validates a session document.
func (m *Manager) Load(ctx context.Context, id string) (doc *Document, err error) {
	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.load", attribute.String("session_id", id))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err = validateID(id); err != nil {
		return nil, err
	}

	doc, err = readDocument(m.path(id))
	if err != nil {
		return nil, err
	}
	if doc.Metadata.SessionID == "" {
		doc.Metadata.SessionID = id
	}

	logger.Debug().Int("messages", len(doc.Messages)).Msg("Session loaded")
	return doc, nil
}

func readDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(doc.Messages) == 0 || doc.Messages[0].Role != llm.RoleSystem {
		return nil, fmt.Errorf("%w: log must start with a system message", ErrCorrupt)
	}
	if err := conversation.Validate(doc.Messages); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return &doc, nil
}

// List returns summaries of all readable sessions, most recently updated first.
// Unreadable files are skipped with a warning.
func (m *Manager) List() ([]Summary, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var out []Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)

		doc, err := readDocument(filepath.Join(m.dir, name))
		if err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Skipping unreadable session")
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, summarize(id, doc, info.ModTime()))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return lastUpdated(out[i]).After(lastUpdated(out[j]))
	})
	observability.SetStoredSessions(len(out))
	return out, nil
}

func summarize(id string, doc *Document, modTime time.Time) Summary {
	s := Summary{ID: id, Metadata: doc.Metadata, Messages: len(doc.Messages), ModTime: modTime}
	for _, msg := range doc.Messages {
		if msg.Role == llm.RoleUser && msg.Content != nil {
			s.Preview = preview(*msg.Content)
			break
		}
	}
	return s
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength]) + "..."
}

func lastUpdated(s Summary) time.Time {
	if !s.Metadata.LastUpdated.IsZero() {
		return s.Metadata.LastUpdated
	}
	return s.ModTime
}

// Latest returns the most recently updated session.
func (m *Manager) Latest(ctx context.Context) (*Document, error) {
	sessions, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, ErrNotFound
	}
	return m.Load(ctx, sessions[0].ID)
}

// Delete removes a session file.
func (m *Manager) Delete(ctx context.Context, id string) (err error) {
	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.delete", attribute.String("session_id", id))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err = validateID(id); err != nil {
		return err
	}

	lock := m.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err = os.Remove(m.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}

	m.locksMu.Lock()
	delete(m.writeLocks, id)
	m.locksMu.Unlock()

	tracing.LoggerFromContext(ctx, log.Logger).Info().Msg("Session deleted")
	return nil
}

// Prune deletes sessions last updated before now minus olderThan and
// returns their ids.
func (m *Manager) Prune(ctx context.Context, olderThan time.Duration) ([]string, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("prune age must be positive, got %v", olderThan)
	}

	sessions, err := m.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-olderThan)
	var removed []string
	for _, s := range sessions {
		if !lastUpdated(s).Before(cutoff) {
			continue
		}
		if err := m.Delete(ctx, s.ID); err != nil && !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to prune session")
			continue
		}
		removed = append(removed, s.ID)
	}

	if len(removed) > 0 {
		log.Info().Int("count", len(removed)).Dur("older_than", olderThan).Msg("Pruned old sessions")
	}
	return removed, nil
}
