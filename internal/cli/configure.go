package cli

import (
	"fmt"

	"github.com/harun/coda/internal/config"
	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up coda.
The wizard asks for a provider, its API key or endpoint, a model and a log
level, then writes the config file. Existing values are kept on empty answers.`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	current, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to read current configuration: %w", err)
	}

	cfg, err := config.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout()).Run(current)
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errs[0])
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(out, "Start chatting with: coda chat")
	return nil
}
