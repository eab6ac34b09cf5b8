package funnel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sells-group/grant-funnel/internal/events"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/store"
)

// memStore is an in-memory store.Store with write failure injection.
type memStore struct {
	mu       sync.Mutex
	opps     map[string]*model.Opportunity
	failNext int
	upserts  int
}

func newMemStore() *memStore {
	return &memStore{opps: make(map[string]*model.Opportunity)}
}

var errWrite = errors.New("write failed")

func (s *memStore) Get(_ context.Context, profileID, id string) (*model.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opps[profileID+"/"+id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *memStore) Upsert(_ context.Context, profileID string, opp *model.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failNext > 0 {
		s.failNext--
		return &store.PersistenceError{Op: "upsert", Err: errWrite}
	}
	s.opps[profileID+"/"+opp.OpportunityID] = opp.Clone()
	return nil
}

func (s *memStore) List(_ context.Context, profileID string, stage model.Stage) ([]model.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Opportunity
	for _, o := range s.opps {
		if o.ProfileID == profileID && (stage == "" || o.CurrentStage == stage) {
			out = append(out, *o.Clone())
		}
	}
	return out, nil
}

func (s *memStore) RefreshAnalytics(ctx context.Context, profileID string) (*model.Analytics, error) {
	opps, _ := s.List(ctx, profileID, "")
	a := model.ComputeAnalytics(profileID, opps, time.Now())
	return &a, nil
}

func (s *memStore) GetAnalytics(context.Context, string) (*model.Analytics, error) {
	return nil, store.ErrNotFound
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *recordingNotifier) NotifyTarget(_ context.Context, profileID string, opp *model.Opportunity) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, profileID+"/"+opp.OpportunityID)
	return n.err
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.TransitionEvent) error {
	return errors.New("nats: no servers available")
}

// fakeClock advances one minute per call.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}
