package store

import (
	"context"
	"errors"

	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/resilience"
)

// Retrying wraps a Store and retries writes with bounded backoff. Writes
// that still fail are returned as *PersistenceError. Reads pass through.
type Retrying struct {
	Store
	cfg resilience.RetryConfig
}

// NewRetrying decorates s with the given retry policy.
func NewRetrying(s Store, cfg resilience.RetryConfig) *Retrying {
	cfg.ShouldRetry = retryableWrite
	return &Retrying{Store: s, cfg: cfg}
}

// Unwrap returns the decorated store.
func (r *Retrying) Unwrap() Store { return r.Store }

func retryableWrite(err error) bool {
	return !errors.Is(err, ErrInvalid) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (r *Retrying) policy(op string) resilience.RetryConfig {
	cfg := r.cfg
	cfg.OnRetry = resilience.RetryLogger("store", op)
	return cfg
}

func (r *Retrying) Upsert(ctx context.Context, profileID string, opp *model.Opportunity) error {
	err := resilience.Do(ctx, r.policy("upsert"), func(ctx context.Context) error {
		return r.Store.Upsert(ctx, profileID, opp)
	})
	return persistenceError("upsert", err)
}

func (r *Retrying) RefreshAnalytics(ctx context.Context, profileID string) (*model.Analytics, error) {
	a, err := resilience.DoVal(ctx, r.policy("refresh_analytics"), func(ctx context.Context) (*model.Analytics, error) {
		return r.Store.RefreshAnalytics(ctx, profileID)
	})
	if err != nil {
		return nil, persistenceError("refresh_analytics", err)
	}
	return a, nil
}

func persistenceError(op string, err error) error {
	if err == nil || errors.Is(err, ErrInvalid) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
