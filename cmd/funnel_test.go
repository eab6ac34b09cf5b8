package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/funnel"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/pipeline"
	"github.com/sells-group/grant-funnel/internal/store"
)

var t0 = time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

func fileConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{Store: config.StoreConfig{Driver: "file", DataDir: t.TempDir()}}
}

func seed(t *testing.T, st store.Store, id string, stage model.Stage) {
	t.Helper()
	amount := int64(25000)
	c := model.CandidateRecord{
		OpportunityID:    id,
		OrganizationName: "Org " + id,
		SourceType:       model.SourceFoundation,
		DiscoverySource:  "propublica",
		FundingAmount:    &amount,
	}
	opp := model.NewOpportunity("readers", id, c, stage, model.DecisionDiscovery, "discovered", funnel.ActorSystem, t0)
	opp.Scoring = &model.ScoringResult{OverallScore: 0.72, ConfidenceLevel: 0.8, ScorerVersion: "cascade-v1"}
	require.NoError(t, st.Upsert(context.Background(), "readers", opp))
}

func TestInitAppFunnelMode(t *testing.T) {
	env, err := initApp(context.Background(), fileConfig(t), "funnel")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Store)
	assert.NotNil(t, env.Machine)
	assert.Nil(t, env.Pipeline)
	assert.IsType(t, &store.Retrying{}, env.Store)
}

func TestInitAppRejectsUnknownDriver(t *testing.T) {
	c := fileConfig(t)
	c.Store.Driver = "mongo"
	_, err := initApp(context.Background(), c, "funnel")
	require.Error(t, err)
}

func TestChangeStage(t *testing.T) {
	ctx := context.Background()
	env, err := initApp(ctx, fileConfig(t), "funnel")
	require.NoError(t, err)
	defer env.Close()
	seed(t, env.Store, "opp-1", model.StageProspects)

	from, opp, err := changeStage(ctx, env.Store, env.Machine, actionPromote, "readers", "opp-1", "", funnel.Change{Actor: "dana"})
	require.NoError(t, err)
	assert.Equal(t, model.StageProspects, from)
	assert.Equal(t, model.StageQualifiedProspects, opp.CurrentStage)

	_, opp, err = changeStage(ctx, env.Store, env.Machine, actionSetStage, "readers", "opp-1", "TARGETS", funnel.Change{Actor: "dana", Reason: "board pick"})
	require.NoError(t, err)
	assert.Equal(t, model.StageTargets, opp.CurrentStage)

	_, _, err = changeStage(ctx, env.Store, env.Machine, actionDemote, "readers", "opp-1", "", funnel.Change{Actor: "dana"})
	require.ErrorIs(t, err, funnel.ErrReasonRequired)

	_, _, err = changeStage(ctx, env.Store, env.Machine, actionSetStage, "readers", "opp-1", "shortlist", funnel.Change{Reason: "x"})
	require.Error(t, err)

	_, _, err = changeStage(ctx, env.Store, env.Machine, actionPromote, "readers", "missing", "", funnel.Change{})
	require.ErrorIs(t, err, store.ErrNotFound)

	stored, err := env.Store.Get(ctx, "readers", "opp-1")
	require.NoError(t, err)
	assert.Equal(t, model.StageTargets, stored.CurrentStage)
	assert.Len(t, stored.PromotionHistory, 3)
}

func TestPrintChange(t *testing.T) {
	var buf bytes.Buffer
	opp := &model.Opportunity{OpportunityID: "opp-1", CurrentStage: model.StageCandidates}
	printChange(&buf, model.StageQualifiedProspects, opp)
	printChange(&buf, model.StageCandidates, opp)
	assert.Equal(t, "opp-1: qualified_prospects -> candidates\nopp-1 already at candidates\n", buf.String())
}

func TestListAndShowOpportunities(t *testing.T) {
	ctx := context.Background()
	env, err := initApp(ctx, fileConfig(t), "funnel")
	require.NoError(t, err)
	defer env.Close()
	seed(t, env.Store, "opp-1", model.StageProspects)
	seed(t, env.Store, "opp-2", model.StageCandidates)

	var buf bytes.Buffer
	require.NoError(t, listOpportunities(ctx, env.Store, &buf, "readers", "", false))
	out := buf.String()
	assert.Contains(t, out, "Org opp-1")
	assert.Contains(t, out, "candidates")
	assert.Contains(t, out, "$25000")
	assert.Contains(t, strings.ToLower(out), "2 opportunities")

	buf.Reset()
	require.NoError(t, listOpportunities(ctx, env.Store, &buf, "readers", "candidates", true))
	var opps []model.Opportunity
	require.NoError(t, json.Unmarshal(buf.Bytes(), &opps))
	require.Len(t, opps, 1)
	assert.Equal(t, "opp-2", opps[0].OpportunityID)

	require.Error(t, listOpportunities(ctx, env.Store, &buf, "readers", "shortlist", false))

	buf.Reset()
	require.NoError(t, showOpportunity(ctx, env.Store, &buf, "readers", "opp-1", false))
	out = buf.String()
	assert.Contains(t, strings.ToLower(out), "promotion history")
	assert.Contains(t, out, "discovery")
	assert.Contains(t, out, "0.72")

	require.ErrorIs(t, showOpportunity(ctx, env.Store, &buf, "readers", "missing", false), store.ErrNotFound)
}

func TestRenderAnalytics(t *testing.T) {
	var buf bytes.Buffer
	renderAnalytics(&buf, &model.Analytics{
		ProfileID:          "readers",
		TotalOpportunities: 3,
		StageDistribution:  map[model.Stage]int{model.StageProspects: 2, model.StageTargets: 1},
		ScoredCount:        3,
		AverageScore:       0.61,
	})
	out := buf.String()
	assert.Contains(t, strings.ToLower(out), "funnel analytics: readers")
	assert.Contains(t, out, "qualified_prospects")
	assert.Contains(t, out, "0.61")
}

func TestRenderReport(t *testing.T) {
	var buf bytes.Buffer
	renderReport(&buf, &pipeline.Report{
		RunID:      "run-1",
		ProfileID:  "readers",
		StartedAt:  t0,
		FinishedAt: t0.Add(1500 * time.Millisecond),
		Outcomes: []pipeline.Outcome{
			{Name: "Alpha Fund", Source: "propublica", Status: pipeline.StatusProcessed, Stage: model.StageCandidates, Score: 0.81},
			{Name: "Literacy For All", Source: "irs_bmf", Status: pipeline.StatusFastTrack, Stage: model.StageCandidates},
		},
		Summary: pipeline.Summary{Discovered: 2, Processed: 1, FastTracked: 1, CostUSD: 0.0123},
		Aborted: "funnel: invariant violated",
	})
	out := buf.String()
	assert.Contains(t, out, "Alpha Fund")
	assert.Contains(t, out, "fast_track")
	assert.Contains(t, out, "0.81")
	assert.Contains(t, out, "0.0123")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "invariant violated")
}
