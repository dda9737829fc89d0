package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/coda/internal/config"
	"github.com/harun/coda/pkg/agent"
	"github.com/harun/coda/pkg/conversation"
	"github.com/harun/coda/pkg/llm"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter replays one scripted turn per Stream call and repeats the
// last turn once the script runs out.
type fakeAdapter struct {
	name  string
	model string

	mu    sync.Mutex
	turns [][]llm.StreamEvent
	calls int
	seen  [][]llm.Message
}

func (f *fakeAdapter) Name() string  { return f.name }
func (f *fakeAdapter) Model() string { return f.model }

func (f *fakeAdapter) Stream(ctx context.Context, messages []llm.Message, opts llm.StreamOptions) iter.Seq2[llm.StreamEvent, error] {
	return func(yield func(llm.StreamEvent, error) bool) {
		f.mu.Lock()
		i := min(f.calls, len(f.turns)-1)
		f.calls++
		f.seen = append(f.seen, messages)
		events := f.turns[i]
		f.mu.Unlock()

		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func reply(text string) []llm.StreamEvent {
	return []llm.StreamEvent{llm.ContentEvent(text), llm.UsageEvent(10, 5), llm.DoneEvent()}
}

func runCommandCall(id, command string) []llm.StreamEvent {
	args, _ := json.Marshal(map[string]string{"command": command})
	return []llm.StreamEvent{
		llm.ToolCallsEvent([]llm.ToolCallRef{{ID: id, Name: "run_command", Arguments: args}}),
		llm.DoneEvent(),
	}
}

type harness struct {
	cfg      *config.Config
	registry *llm.Registry
	adapters map[string]*fakeAdapter
	workDir  string
}

func newHarness(t *testing.T, turns ...[]llm.StreamEvent) *harness {
	t.Helper()
	dataDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Provider = "fake"
	cfg.DataDir = dataDir
	cfg.Approvals.AllowlistPath = filepath.Join(dataDir, "allowlist.json")

	h := &harness{
		cfg:      cfg,
		registry: llm.NewRegistry(),
		adapters: map[string]*fakeAdapter{},
		workDir:  t.TempDir(),
	}
	h.add("fake", "fake-1", turns...)
	return h
}

func (h *harness) add(name, defaultModel string, turns ...[]llm.StreamEvent) *fakeAdapter {
	f := &fakeAdapter{name: name, model: defaultModel, turns: turns}
	h.adapters[name] = f
	h.registry.Register(name, func(cfg llm.Config) (llm.Adapter, error) {
		if cfg.Model != "" {
			f.model = cfg.Model
		}
		return f, nil
	})
	return f
}

func (h *harness) app(t *testing.T, opts chatOptions, input string) (*app, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	a, err := newApp(context.Background(), h.cfg, opts, appDeps{
		Registry: h.registry,
		WorkDir:  h.workDir,
		In:       strings.NewReader(input),
		Out:      out,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return a, out
}

func TestApp_OneShot(t *testing.T) {
	t.Run("should print the reply and save the session", func(t *testing.T) {
		h := newHarness(t, reply("Hello there."))
		a, out := h.app(t, chatOptions{}, "")

		require.NoError(t, a.oneShot(context.Background(), "hi"))
		assert.Contains(t, out.String(), "Hello there.")

		id := a.loop.Store().Metadata().SessionID
		assert.FileExists(t, filepath.Join(h.cfg.SessionsDir(), id+".json"))

		doc, err := a.sessions.Load(context.Background(), id)
		require.NoError(t, err)
		require.Len(t, doc.Messages, 3)
		assert.Equal(t, "fake", doc.Metadata.Provider)
		assert.Equal(t, "fake-1", doc.Metadata.Model)
	})

	t.Run("should run an approved command", func(t *testing.T) {
		h := newHarness(t, runCommandCall("call_1", "touch approved.txt"), reply("Created it."))
		a, out := h.app(t, chatOptions{}, "y\n")

		require.NoError(t, a.oneShot(context.Background(), "make a file"))

		assert.Contains(t, out.String(), "Command requires approval:")
		assert.Contains(t, out.String(), "touch approved.txt")
		assert.Contains(t, out.String(), "Created it.")
		assert.FileExists(t, filepath.Join(h.workDir, "approved.txt"))
	})

	t.Run("should report a rejected command back to the model", func(t *testing.T) {
		h := newHarness(t, runCommandCall("call_1", "touch denied.txt"), reply("Understood."))
		a, out := h.app(t, chatOptions{}, "n\n")

		require.NoError(t, a.oneShot(context.Background(), "make a file"))

		assert.Contains(t, out.String(), "failed: Command was rejected by user")
		assert.NoFileExists(t, filepath.Join(h.workDir, "denied.txt"))

		msgs := a.loop.Store().Messages()
		var toolMsg *llm.Message
		for i := range msgs {
			if msgs[i].Role == llm.RoleTool {
				toolMsg = &msgs[i]
			}
		}
		require.NotNil(t, toolMsg)
		assert.Contains(t, toolMsg.Text(), "Command was rejected by user")
	})

	t.Run("should skip the prompt with --yes", func(t *testing.T) {
		h := newHarness(t, runCommandCall("call_1", "touch auto.txt"), reply("Done."))
		a, out := h.app(t, chatOptions{AutoApprove: true}, "")

		require.NoError(t, a.oneShot(context.Background(), "make a file"))

		assert.NotContains(t, out.String(), "Command requires approval:")
		assert.FileExists(t, filepath.Join(h.workDir, "auto.txt"))
	})

	t.Run("should return provider errors", func(t *testing.T) {
		h := newHarness(t, []llm.StreamEvent{llm.ErrorEvent("rate limited")})
		a, out := h.app(t, chatOptions{}, "")

		err := a.oneShot(context.Background(), "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limited")
		assert.Contains(t, out.String(), "error: fake: rate limited")
	})
}

func TestApp_Resume(t *testing.T) {
	h := newHarness(t, reply("First answer."))
	first, _ := h.app(t, chatOptions{}, "")
	require.NoError(t, first.oneShot(context.Background(), "first question"))
	id := first.loop.Store().Metadata().SessionID

	t.Run("should resume the latest session", func(t *testing.T) {
		a, _ := h.app(t, chatOptions{Resume: resumeLatest}, "")
		assert.Equal(t, id, a.loop.Store().Metadata().SessionID)
		assert.Equal(t, 3, a.loop.Store().Len())
	})

	t.Run("should resume by id", func(t *testing.T) {
		a, _ := h.app(t, chatOptions{Resume: id}, "")
		assert.Equal(t, id, a.loop.Store().Metadata().SessionID)
	})

	t.Run("should fail for an unknown id", func(t *testing.T) {
		_, err := newApp(context.Background(), h.cfg, chatOptions{Resume: "missing"}, appDeps{
			Registry: h.registry,
			WorkDir:  h.workDir,
			In:       strings.NewReader(""),
			Out:      &bytes.Buffer{},
			Logger:   zerolog.Nop(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no session to resume")
	})
}

func TestApp_REPL(t *testing.T) {
	t.Run("should handle commands and messages", func(t *testing.T) {
		h := newHarness(t, reply("Hi!"))
		h.add("other", "other-1", reply("From the other model."))
		input := strings.Join([]string{
			"/help",
			"/session",
			"hello",
			"/model other other-2",
			"again",
			"/bogus",
			"/exit",
			"ignored",
		}, "\n") + "\n"
		a, out := h.app(t, chatOptions{}, input)

		require.NoError(t, a.runREPL(context.Background()))

		text := out.String()
		assert.Contains(t, text, "/model <provider> [model]")
		assert.Contains(t, text, a.loop.Store().Metadata().SessionID)
		assert.Contains(t, text, "Hi!")
		assert.Contains(t, text, "Now using other other-2.")
		assert.Contains(t, text, "From the other model.")
		assert.Contains(t, text, "unknown command /bogus")
		assert.Equal(t, 1, h.adapters["other"].calls)

		// The new model saw the whole conversation.
		seen := h.adapters["other"].seen[0]
		assert.Equal(t, "hello", seen[1].Text())
		assert.Equal(t, "again", seen[len(seen)-1].Text())
	})

	t.Run("should clear the conversation", func(t *testing.T) {
		h := newHarness(t, reply("Hi!"))
		a, out := h.app(t, chatOptions{}, "hello\n/clear\n")

		require.NoError(t, a.runREPL(context.Background()))

		assert.Contains(t, out.String(), "Conversation cleared.")
		assert.Equal(t, 1, a.loop.Store().Len())
	})

	t.Run("should reject a bad /model", func(t *testing.T) {
		h := newHarness(t, reply("Hi!"))
		a, out := h.app(t, chatOptions{}, "/model\n/model nowhere\n")

		require.NoError(t, a.runREPL(context.Background()))

		assert.Contains(t, out.String(), "usage: /model")
		assert.Contains(t, out.String(), "error:")
		assert.Equal(t, "fake", a.loop.Store().Metadata().Provider)
	})
}

func TestSessionsCommands(t *testing.T) {
	dataDir := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "coda.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"data_dir": "`+dataDir+`"}`), 0600))
	t.Cleanup(func() { cfgFile = "" })

	h := newHarness(t, reply("Saved."))
	h.cfg.DataDir = dataDir
	a, _ := h.app(t, chatOptions{}, "")
	require.NoError(t, a.oneShot(context.Background(), "remember this"))
	id := a.loop.Store().Metadata().SessionID

	run := func(args ...string) (string, error) {
		cmd := GetRootCmd()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetArgs(append(args, "--config", configPath))
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run("sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "remember this")
	assert.Contains(t, out, "fake/fake-1")

	out, err = run("sessions", "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted "+id)

	out, err = run("sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved sessions.")

	_, err = run("sessions", "delete", id)
	assert.Error(t, err)
}

func TestApp_ProjectInstructions(t *testing.T) {
	h := newHarness(t, reply("ok"))
	require.NoError(t, os.WriteFile(filepath.Join(h.workDir, "AGENTS.md"), []byte("Always run gofmt."), 0o644))

	a, _ := h.app(t, chatOptions{}, "")

	system := a.loop.Store().Messages()[0]
	assert.Equal(t, llm.RoleSystem, system.Role)
	assert.True(t, strings.HasPrefix(system.Text(), config.DefaultSystemPrompt))
	assert.Contains(t, system.Text(), "Always run gofmt.")
}

// lockedBuffer is a bytes.Buffer safe to read while a turn writes to it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestApp_InterruptedApprovalKeepsNextLine(t *testing.T) {
	h := newHarness(t, runCommandCall("call_1", "touch later.txt"), reply("Stopped."))
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	out := &lockedBuffer{}
	a, err := newApp(context.Background(), h.cfg, chatOptions{}, appDeps{
		Registry: h.registry,
		WorkDir:  h.workDir,
		In:       pr,
		Out:      out,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	turnCtx, cancel := context.WithCancel(context.Background())
	done := make(chan agent.Event, 1)
	go func() { done <- a.turn(turnCtx, "make a file") }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[y/N/always]")
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not return after cancellation")
	}
	assert.NoFileExists(t, filepath.Join(h.workDir, "later.txt"))
	require.NoError(t, conversation.Validate(a.loop.Store().Messages()))

	go func() { _, _ = io.WriteString(pw, "/session\n/exit\n") }()
	require.NoError(t, a.runREPL(context.Background()))
	// Once in the banner and once for /session.
	id := a.loop.Store().Metadata().SessionID
	assert.Equal(t, 2, strings.Count(out.String(), id+"\n"))
}
