package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/harun/coda/pkg/session"
	"github.com/spf13/cobra"
)

var pruneOlderThan time.Duration

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and delete saved chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openSessions()
		if err != nil {
			return err
		}
		summaries, err := mgr.List()
		if err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), summaries)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete saved sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openSessions()
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := mgr.Delete(commandContext(cmd), id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		}
		return nil
	},
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sessions not updated within --older-than",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openSessions()
		if err != nil {
			return err
		}
		removed, err := mgr.Prune(commandContext(cmd), pruneOlderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d session(s)\n", len(removed))
		return nil
	},
}

func init() {
	sessionsPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "age threshold")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd, sessionsPruneCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openSessions() (*session.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return session.New(cfg.SessionsDir())
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printSessions(w io.Writer, summaries []session.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No saved sessions.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tMODEL\tMESSAGES\tFIRST MESSAGE")
	for _, s := range summaries {
		updated := s.Metadata.LastUpdated
		if updated.IsZero() {
			updated = s.ModTime
		}
		model := s.Metadata.Provider
		if s.Metadata.Model != "" {
			model += "/" + s.Metadata.Model
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			s.ID, updated.Local().Format("2006-01-02 15:04"), model, s.Messages, s.Preview)
	}
	tw.Flush()
}
