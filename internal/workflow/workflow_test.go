package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/grant-funnel/internal/funnel"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/pipeline"
	"github.com/sells-group/grant-funnel/internal/profile"
	"github.com/sells-group/grant-funnel/internal/store"
)

const profileID = "readers"

func seededStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"opp-1", "opp-2"} {
		c := model.CandidateRecord{OpportunityID: id, OrganizationName: id, SourceType: model.SourceFoundation, DiscoverySource: "propublica"}
		opp := model.NewOpportunity(profileID, id, c, model.StageProspects, model.DecisionDiscovery, "discovered", funnel.ActorSystem, now)
		require.NoError(t, st.Upsert(context.Background(), profileID, opp))
	}
	return st
}

func execute(t *testing.T, runner *scriptedRunner) (*testsuite.TestWorkflowEnvironment, store.Store) {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	st := seededStore(t)
	env.RegisterActivity(&Activities{Runner: runner, Store: st})
	env.ExecuteWorkflow(DiscoveryWorkflow, DiscoveryInput{Options: pipeline.RunOptions{ProfileID: profileID, Enrich: true}})
	require.True(t, env.IsWorkflowCompleted())
	return env, st
}

func TestDiscoveryWorkflow(t *testing.T) {
	runner := &scriptedRunner{}
	env, _ := execute(t, runner)
	require.NoError(t, env.GetWorkflowError())

	var res DiscoveryResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, "run-readers", res.RunID)
	assert.Equal(t, 2, res.Summary.Processed)
	require.NotNil(t, res.Analytics)
	assert.Equal(t, 2, res.Analytics.TotalOpportunities)

	require.Equal(t, 1, runner.count())
	assert.True(t, runner.calls[0].Enrich)
}

func TestDiscoveryWorkflowRetriesTransientFailure(t *testing.T) {
	runner := &scriptedRunner{errs: []error{errors.New("propublica: connection reset")}}
	env, _ := execute(t, runner)
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, 2, runner.count())
}

func TestDiscoveryWorkflowStopsOnInvariantViolation(t *testing.T) {
	inv := &funnel.InvariantError{OpportunityID: "opp-1", Err: errors.New("history does not match stage")}
	runner := &scriptedRunner{errs: []error{inv, inv, inv}}
	env, _ := execute(t, runner)

	err := env.GetWorkflowError()
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ErrTypeInvariant, appErr.Type())
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, 1, runner.count())
}

func TestDiscoveryWorkflowStopsOnUnknownProfile(t *testing.T) {
	runner := &scriptedRunner{errs: []error{eris.Wrap(profile.ErrNotFound, "pipeline: load profile ghost")}}
	env, _ := execute(t, runner)

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, env.GetWorkflowError(), &appErr)
	assert.Equal(t, ErrTypeUnknownProfile, appErr.Type())
	assert.Equal(t, 1, runner.count())
}

func TestLoggerAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogger(zap.New(core))

	l.Info("worker started", "task_queue", "grant-discovery")
	l.Error("activity failed", "attempt", 2)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "worker started", entries[0].Message)
	assert.Equal(t, "grant-discovery", entries[0].ContextMap()["task_queue"])
	assert.Equal(t, "temporal", entries[0].ContextMap()["component"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
