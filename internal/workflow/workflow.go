// Package workflow runs discovery as a durable Temporal workflow so that
// scheduled runs survive worker restarts and transient outages.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	sdkworkflow "go.temporal.io/sdk/workflow"

	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/pipeline"
)

// DiscoveryInput is the workflow argument.
type DiscoveryInput struct {
	Options pipeline.RunOptions `json:"options"`
}

// DiscoveryResult is the workflow result.
type DiscoveryResult struct {
	RunID     string           `json:"run_id"`
	Summary   pipeline.Summary `json:"summary"`
	Aborted   string           `json:"aborted,omitempty"`
	Analytics *model.Analytics `json:"analytics,omitempty"`
}

// Timeouts and retry bounds for the discovery activities.
const (
	DiscoveryTimeout = 30 * time.Minute
	AnalyticsTimeout = 2 * time.Minute
)

func discoveryRetry() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        30 * time.Second,
		BackoffCoefficient:     2,
		MaximumInterval:        10 * time.Minute,
		MaximumAttempts:        3,
		NonRetryableErrorTypes: []string{ErrTypeInvariant, ErrTypeUnknownProfile},
	}
}

// DiscoveryWorkflow runs discovery for one profile and then refreshes its
// analytics.
func DiscoveryWorkflow(ctx sdkworkflow.Context, in DiscoveryInput) (*DiscoveryResult, error) {
	log := sdkworkflow.GetLogger(ctx)
	var a *Activities

	runCtx := sdkworkflow.WithActivityOptions(ctx, sdkworkflow.ActivityOptions{
		StartToCloseTimeout: DiscoveryTimeout,
		RetryPolicy:         discoveryRetry(),
	})
	var res DiscoveryResult
	if err := sdkworkflow.ExecuteActivity(runCtx, a.RunDiscovery, in).Get(ctx, &res); err != nil {
		log.Error("discovery activity failed", "profile_id", in.Options.ProfileID, "error", err)
		return nil, err
	}

	refreshCtx := sdkworkflow.WithActivityOptions(ctx, sdkworkflow.ActivityOptions{
		StartToCloseTimeout: AnalyticsTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 5,
		},
	})
	var an model.Analytics
	if err := sdkworkflow.ExecuteActivity(refreshCtx, a.RefreshAnalytics, in.Options.ProfileID).Get(ctx, &an); err != nil {
		log.Error("analytics refresh failed", "profile_id", in.Options.ProfileID, "error", err)
		return nil, err
	}
	res.Analytics = &an

	log.Info("discovery workflow complete", "profile_id", in.Options.ProfileID, "run_id", res.RunID)
	return &res, nil
}
