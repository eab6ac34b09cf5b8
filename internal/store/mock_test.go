package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sells-group/grant-funnel/internal/model"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleOpportunity(profileID, id string, stage model.Stage, discovered time.Time) *model.Opportunity {
	c := model.CandidateRecord{
		OpportunityID:    "src-" + id,
		OrganizationName: "Foundation " + id,
		SourceType:       model.SourceFoundation,
		DiscoverySource:  "propublica",
	}
	return model.NewOpportunity(profileID, id, c, stage, model.DecisionDiscovery, "discovered", "system", discovered)
}

// flakyStore fails the first failures writes with err.
type flakyStore struct {
	Store
	mu       sync.Mutex
	failures int
	err      error
	upserts  int
	refresh  int
}

func (f *flakyStore) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *flakyStore) Upsert(ctx context.Context, profileID string, opp *model.Opportunity) error {
	f.mu.Lock()
	f.upserts++
	f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.Upsert(ctx, profileID, opp)
}

func (f *flakyStore) RefreshAnalytics(ctx context.Context, profileID string) (*model.Analytics, error) {
	f.mu.Lock()
	f.refresh++
	f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Store.RefreshAnalytics(ctx, profileID)
}

var errDiskFull = errors.New("disk full")
