package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/pipeline"
)

func TestApplyRunFlags_OnlyChangedFlagsOverride(t *testing.T) {
	cmd := &cobra.Command{}
	addRunFlags(cmd)
	base := pipeline.OptionsFromConfig(config.CascadeConfig{Enrich: true, CostBudgetUSD: 0.05}, "readers")

	opts := base
	applyRunFlags(cmd, &opts)
	assert.Equal(t, base, opts)

	require.NoError(t, cmd.Flags().Set("sources", "propublica,irs_bmf"))
	require.NoError(t, cmd.Flags().Set("lenient", "true"))
	require.NoError(t, cmd.Flags().Set("no-enrich", "true"))
	require.NoError(t, cmd.Flags().Set("budget", "0.25"))
	applyRunFlags(cmd, &opts)

	assert.Equal(t, []string{"propublica", "irs_bmf"}, opts.Sources)
	assert.True(t, opts.Lenient)
	assert.False(t, opts.Enrich)
	assert.InDelta(t, 0.25, opts.BudgetUSD, 1e-9)
	assert.Equal(t, "readers", opts.ProfileID)
}
