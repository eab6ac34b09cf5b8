package pipeline

import (
	"context"
	"encoding/json"
	"iter"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grant-funnel/internal/completion"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/profile"
	"github.com/sells-group/grant-funnel/internal/store"
)

// fakeProfiles serves profiles from a map.
type fakeProfiles map[string]*model.OrganizationProfile

func (f fakeProfiles) Get(_ context.Context, id string) (*model.OrganizationProfile, error) {
	p, ok := f[id]
	if !ok {
		return nil, eris.Wrapf(profile.ErrNotFound, "profile %s", id)
	}
	return p, nil
}

func (f fakeProfiles) List(context.Context) ([]string, error) {
	var out []string
	for id := range f {
		out = append(out, id)
	}
	return out, nil
}

// staticSource yields fixed records.
type staticSource struct {
	name  string
	items []model.CandidateRecord
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Discover(context.Context) iter.Seq2[model.CandidateRecord, error] {
	return func(yield func(model.CandidateRecord, error) bool) {
		for _, c := range s.items {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// batchItem is the part of a cascade prompt item the fake reads.
type batchItem struct {
	ID   string `json:"opportunity_id"`
	Name string `json:"name"`
}

// fakeCompletion answers each stage with a per-candidate handler keyed by
// candidate name. A nil reply omits the candidate from the response; a
// stage without handlers times out.
type fakeCompletion struct {
	mu       sync.Mutex
	handlers map[string]func(name string) map[string]any
	calls    map[string]int
}

func newFakeCompletion() *fakeCompletion {
	return &fakeCompletion{
		handlers: make(map[string]func(string) map[string]any),
		calls:    make(map[string]int),
	}
}

func (f *fakeCompletion) on(stage string, h func(name string) map[string]any) *fakeCompletion {
	f.handlers[stage] = h
	return f
}

func (f *fakeCompletion) Complete(_ context.Context, req completion.Request) (*completion.Response, error) {
	f.mu.Lock()
	f.calls[req.Stage]++
	h := f.handlers[req.Stage]
	f.mu.Unlock()

	if h == nil {
		return nil, completion.Fail(req.Stage, completion.KindTimeout, context.DeadlineExceeded)
	}
	var items []batchItem
	if err := json.Unmarshal([]byte(strings.TrimPrefix(req.Prompt, "Candidates:\n")), &items); err != nil {
		return nil, completion.Fail(req.Stage, completion.KindMalformed, err)
	}
	analyses := make([]map[string]any, 0, len(items))
	for _, it := range items {
		reply := h(it.Name)
		if reply == nil {
			continue
		}
		reply["opportunity_id"] = it.ID
		analyses = append(analyses, reply)
	}
	b, err := json.Marshal(map[string]any{"analyses": analyses})
	if err != nil {
		return nil, err
	}
	return &completion.Response{Content: string(b), Model: req.Model, CostUSD: 0.002}, nil
}

func (f *fakeCompletion) count(stage string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage]
}

// corruptingStore returns every stored opportunity with a current stage
// that no longer matches its history.
type corruptingStore struct {
	store.Store
}

func (s corruptingStore) Get(ctx context.Context, profileID, id string) (*model.Opportunity, error) {
	o, err := s.Store.Get(ctx, profileID, id)
	if err != nil {
		return nil, err
	}
	o.CurrentStage = model.StageOpportunities
	return o, nil
}
