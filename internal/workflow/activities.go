package workflow

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/funnel"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/pipeline"
	"github.com/sells-group/grant-funnel/internal/profile"
	"github.com/sells-group/grant-funnel/internal/store"
)

// Application error types that Temporal must not retry.
const (
	ErrTypeInvariant      = "InvariantViolation"
	ErrTypeUnknownProfile = "UnknownProfile"
)

// Runner executes one discovery run.
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (*pipeline.Report, error)
}

// Activities holds the activity implementations. Register a pointer so
// activity names match the method names.
type Activities struct {
	Runner Runner
	Store  store.Store
}

// RunDiscovery runs the discovery pipeline once.
func (a *Activities) RunDiscovery(ctx context.Context, in DiscoveryInput) (*DiscoveryResult, error) {
	info := activity.GetInfo(ctx)
	log := zap.L().With(
		zap.String("profile_id", in.Options.ProfileID),
		zap.String("workflow_id", info.WorkflowExecution.ID),
		zap.Int32("attempt", info.Attempt),
	)
	log.Info("workflow: discovery activity started")

	rep, err := a.Runner.Run(ctx, in.Options)
	if err != nil {
		var inv *funnel.InvariantError
		switch {
		case errors.As(err, &inv):
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvariant, err, resultFrom(rep))
		case errors.Is(err, profile.ErrNotFound):
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeUnknownProfile, err)
		}
		return nil, eris.Wrap(err, "workflow: run discovery")
	}

	res := resultFrom(rep)
	log.Info("workflow: discovery activity complete",
		zap.String("run_id", res.RunID),
		zap.Int("processed", res.Summary.Processed),
	)
	return res, nil
}

// RefreshAnalytics recomputes the profile's funnel analytics.
func (a *Activities) RefreshAnalytics(ctx context.Context, profileID string) (*model.Analytics, error) {
	an, err := a.Store.RefreshAnalytics(ctx, profileID)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: refresh analytics %s", profileID)
	}
	return an, nil
}

func resultFrom(rep *pipeline.Report) *DiscoveryResult {
	if rep == nil {
		return nil
	}
	return &DiscoveryResult{
		RunID:   rep.RunID,
		Summary: rep.Summary,
		Aborted: rep.Aborted,
	}
}
