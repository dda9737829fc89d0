package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/coda/internal/config"
	"github.com/harun/coda/internal/logger"
	"github.com/harun/coda/internal/observability"
	"github.com/harun/coda/internal/tracing"
	"github.com/harun/coda/pkg/agent"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var chatOpts chatOptions

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat in the current directory",
	Long: `Start an interactive chat. The assistant can list, read, search and edit
files under the current directory and run shell commands there. Commands
that may change anything are shown first and run only after you approve.

With --prompt the message is sent once and coda exits after the reply.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	f := chatCmd.Flags()
	f.StringVarP(&chatOpts.Prompt, "prompt", "p", "", "send one message and exit")
	f.StringVar(&chatOpts.Provider, "provider", "", "provider (anthropic, openai, openrouter, gemini, ollama)")
	f.StringVarP(&chatOpts.Model, "model", "m", "", "model name (default depends on the provider)")
	f.StringVarP(&chatOpts.Resume, "resume", "r", "", "resume a session by id, or the latest when given without a value")
	f.Lookup("resume").NoOptDefVal = resumeLatest
	f.BoolVarP(&chatOpts.AutoApprove, "yes", "y", false, "run commands without asking")
	f.StringVar(&chatOpts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")

	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if chatOpts.Provider != "" {
		cfg.Provider = chatOpts.Provider
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logs, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Redaction: cfg.Logging.Redaction,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		Backups:   cfg.Logging.Backups,
	})
	if err != nil {
		return err
	}
	defer logs.Close()

	spanLogger := logs.Zerolog()
	if err := tracing.Setup(tracing.Options{
		ServiceName:    "coda",
		ServiceVersion: GetVersion(),
		SpanLogger:     &spanLogger,
	}); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}
	defer func() { _ = tracing.ShutdownWithTimeout() }()

	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		log.Warn().Err(err).Msg("Audit log disabled")
	}
	if chatOpts.MetricsAddr != "" {
		serveMetrics(chatOpts.MetricsAddr)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg, chatOpts, appDeps{
		In:     cmd.InOrStdin(),
		Out:    cmd.OutOrStdout(),
		Logger: logs.Zerolog(),
	})
	if err != nil {
		return err
	}

	if chatOpts.Prompt != "" {
		return a.oneShot(ctx, chatOpts.Prompt)
	}
	return a.runREPL(ctx)
}

func (a *app) oneShot(ctx context.Context, message string) error {
	ev := a.turn(ctx, message)
	switch ev.Type {
	case agent.EventError:
		return errors.New(describeError(ev.Err))
	case agent.EventMaxIterations:
		return fmt.Errorf("stopped after %d tool rounds", ev.Iterations)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = strings.ToLower(logLevel)
	}
	return cfg, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	fmt.Fprintf(os.Stderr, "metrics on http://%s/metrics\n", addr)
}
