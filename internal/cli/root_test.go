package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("prints the version", func(t *testing.T) {
		cmd := GetRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"--version"})
		t.Cleanup(func() { resetRoot(cmd) })

		require.NoError(t, cmd.Execute())
		assert.Equal(t, "coda version "+GetVersion()+"\n", out.String())
	})

	t.Run("lists subcommands in help", func(t *testing.T) {
		cmd := GetRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"--help"})
		t.Cleanup(func() { resetRoot(cmd) })

		require.NoError(t, cmd.Execute())
		for _, name := range []string{"chat", "sessions", "configure"} {
			assert.Contains(t, out.String(), name)
		}
	})
}

// resetRoot clears output and the parsed --help/--version values, which
// persist on the shared root command between executions.
func resetRoot(cmd *cobra.Command) {
	cmd.SetOut(nil)
	for _, name := range []string{"help", "version"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = f.Value.Set("false")
			f.Changed = false
		}
	}
}

func TestCommandTree(t *testing.T) {
	tests := []struct {
		path  []string
		flags []string
	}{
		{path: []string{"chat"}, flags: []string{"prompt", "provider", "model", "resume", "yes", "metrics-addr"}},
		{path: []string{"sessions", "list"}},
		{path: []string{"sessions", "delete"}},
		{path: []string{"sessions", "prune"}, flags: []string{"older-than"}},
		{path: []string{"configure"}},
	}

	for _, tt := range tests {
		cmd, rest, err := GetRootCmd().Find(tt.path)
		require.NoError(t, err, tt.path)
		require.Empty(t, rest, tt.path)
		assert.Equal(t, tt.path[len(tt.path)-1], cmd.Name())

		for _, flag := range tt.flags {
			assert.NotNil(t, cmd.Flags().Lookup(flag), "%v --%s", tt.path, flag)
		}
		assert.NotNil(t, cmd.InheritedFlags().Lookup("config"), tt.path)
		assert.NotNil(t, cmd.InheritedFlags().Lookup("log-level"), tt.path)
	}
}

func TestResumeDefaultsToLatest(t *testing.T) {
	cmd, _, err := GetRootCmd().Find([]string{"chat"})
	require.NoError(t, err)

	resume := cmd.Flags().Lookup("resume")
	require.NotNil(t, resume)
	assert.Equal(t, "latest", resume.NoOptDefVal)
	assert.Equal(t, "r", resume.Shorthand)
}
