package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/harun/coda/internal/config"
	"github.com/harun/coda/pkg/agent"
	"github.com/harun/coda/pkg/conversation"
	"github.com/harun/coda/pkg/coretools"
	"github.com/harun/coda/pkg/llm"
	"github.com/harun/coda/pkg/session"
	"github.com/harun/coda/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// resumeLatest selects the most recently updated session.
const resumeLatest = "latest"

type chatOptions struct {
	Provider    string
	Model       string
	Resume      string
	Prompt      string
	AutoApprove bool
	MetricsAddr string
}

// appDeps are the pieces tests replace.
type appDeps struct {
	Registry *llm.Registry
	WorkDir  string
	In       io.Reader
	Out      io.Writer
	Logger   zerolog.Logger
}

// app is one chat session wired end to end.
type app struct {
	cfg       *config.Config
	sessions  *session.Manager
	switcher  *llm.Switcher
	tools     *toolexecutor.ToolExecutor
	approvals *toolexecutor.ApprovalManager
	loop      *agent.Loop
	policy    *agent.ContinuePolicy
	in        *toolexecutor.LineReader
	out       io.Writer
	logger    zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, opts chatOptions, deps appDeps) (*app, error) {
	if opts.Provider != "" {
		cfg.Provider = opts.Provider
	}
	if opts.Model != "" {
		cfg.Model = opts.Model
	}
	if opts.AutoApprove {
		cfg.Agent.AutoApprove = true
	}
	if deps.Registry == nil {
		deps.Registry = llm.DefaultRegistry()
	}
	if deps.In == nil {
		deps.In = os.Stdin
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		deps.WorkDir = wd
	}

	a := &app{
		cfg:      cfg,
		in:       toolexecutor.NewLineReader(deps.In),
		out:      deps.Out,
		logger:   deps.Logger,
	}

	sessions, err := session.New(cfg.SessionsDir())
	if err != nil {
		return nil, err
	}
	a.sessions = sessions

	ws, err := coretools.NewWorkspace(deps.WorkDir)
	if err != nil {
		return nil, err
	}

	allowlist, err := toolexecutor.NewAllowlistManager(cfg.Approvals.AllowlistPath)
	if err != nil {
		return nil, err
	}
	classifier := toolexecutor.NewCommandClassifier(toolexecutor.WithAllowlist(allowlist))

	a.tools = toolexecutor.New()
	if err := coretools.Register(a.tools, ws, coretools.Options{
		Classifier:     classifier,
		CommandTimeout: cfg.Agent.ToolTimeout,
	}); err != nil {
		return nil, err
	}

	a.approvals = toolexecutor.NewApprovalManager(toolexecutor.NewCLIApprovalHandler(a.in, a.out))
	a.approvals.SetAllowlist(allowlist)
	if cfg.Approvals.Timeout > 0 {
		a.approvals.SetDefaultTimeout(cfg.Approvals.Timeout)
	}

	a.switcher = llm.NewSwitcher(deps.Registry, func(provider string) llm.Config {
		settings := cfg.ProviderSettings(provider)
		return llm.Config{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
			Logger:  a.logger,
		}
	})
	adapter, err := a.switcher.Current(cfg.Provider, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s adapter: %w", cfg.Provider, err)
	}

	store, err := a.openStore(ctx, opts.Resume, ws)
	if err != nil {
		return nil, err
	}

	a.loop, err = agent.New(adapter, store, a.tools, agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
		AutoApprove:   cfg.Agent.AutoApprove,
		Confirm:       a.approvals.ConfirmFunc(),
		ToolTimeout:   cfg.Agent.ToolTimeout,
		WorkingDir:    ws.Root(),
		Logger:        a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.policy = agent.NewContinuePolicy(a.loop, cfg.Agent.MaxContinues)
	return a, nil
}

func (a *app) openStore(ctx context.Context, resume string, ws *coretools.Workspace) (*conversation.Store, error) {
	opts := []conversation.Option{
		conversation.WithLimits(a.cfg.Context),
		conversation.WithLogger(a.logger),
	}
	store := conversation.New(a.systemPrompt(ws), conversation.Metadata{WorkingDirectory: ws.Root()}, opts...)
	if resume == "" {
		return store, nil
	}

	var doc *session.Document
	var err error
	if resume == resumeLatest {
		doc, err = a.sessions.Latest(ctx)
	} else {
		doc, err = a.sessions.Load(ctx, resume)
	}
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("no session to resume (%s)", resume)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resume session: %w", err)
	}

	if err := store.Restore(doc.Snapshot()); err != nil {
		return nil, fmt.Errorf("failed to resume session: %w", err)
	}
	a.logger.Info().Str("session_id", doc.Metadata.SessionID).Int("messages", len(doc.Messages)).Msg("Session resumed")
	return store, nil
}

// systemPrompt is the configured prompt plus any project instruction files.
func (a *app) systemPrompt(ws *coretools.Workspace) string {
	prompt := a.cfg.SystemPrompt()
	extra, err := coretools.LoadInstructions(ws)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Ignoring project instructions")
		return prompt
	}
	if extra == "" {
		return prompt
	}
	return prompt + "\n\n" + extra
}

// save persists the conversation, reporting but not failing on errors.
func (a *app) save(ctx context.Context) {
	if err := a.sessions.Save(ctx, a.loop.Store()); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to save session")
		fmt.Fprintf(a.out, "warning: session not saved: %v\n", err)
	}
}

// switchModel rebinds the loop to provider/model; the stored log is untouched.
func (a *app) switchModel(provider, model string) error {
	adapter, err := a.switcher.Current(provider, model)
	if err != nil {
		return err
	}
	if err := a.loop.SetAdapter(adapter); err != nil {
		return err
	}
	return nil
}
