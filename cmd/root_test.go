package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subcommands(c *cobra.Command) map[string]*cobra.Command {
	out := make(map[string]*cobra.Command)
	for _, sc := range c.Commands() {
		out[sc.Name()] = sc
	}
	return out
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := subcommands(rootCmd)
	for _, name := range []string{"discover", "opportunities", "funnel", "analytics", "serve", "temporal"} {
		assert.Contains(t, names, name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "grant-funnel", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("profile"))
}

func TestFunnelCommand_Subcommands(t *testing.T) {
	names := subcommands(funnelCmd)
	for _, name := range []string{"promote", "demote", "set-stage", "assess"} {
		require.Contains(t, names, name)
	}
	assert.NotNil(t, names["demote"].Flags().Lookup("reason"))
	assert.NotNil(t, names["set-stage"].Flags().Lookup("actor"))
	assert.NotNil(t, names["assess"].Flags().Lookup("rating"))
}

func TestOpportunitiesCommand_Subcommands(t *testing.T) {
	names := subcommands(opportunitiesCmd)
	require.Contains(t, names, "list")
	require.Contains(t, names, "show")
	assert.NotNil(t, names["list"].Flags().Lookup("stage"))
	assert.Contains(t, opportunitiesCmd.Aliases, "opps")
}

func TestTemporalCommand_Subcommands(t *testing.T) {
	names := subcommands(temporalCmd)
	require.Contains(t, names, "worker")
	require.Contains(t, names, "start")
	assert.NotNil(t, names["start"].Flags().Lookup("wait"))
	assert.NotNil(t, names["start"].Flags().Lookup("sources"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestProfileFlagRequired(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("profile", "", "")
	_, err := profileFlag(cmd)
	require.Error(t, err)

	require.NoError(t, cmd.Flags().Set("profile", "readers"))
	p, err := profileFlag(cmd)
	require.NoError(t, err)
	assert.Equal(t, "readers", p)
}
