package cascade

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/sells-group/grant-funnel/internal/completion"
	"github.com/sells-group/grant-funnel/internal/model"
)

// fakeService answers completion requests with a per-stage handler that
// receives the candidate ids of the batch.
type fakeService struct {
	mu       sync.Mutex
	handlers map[string]func(ids []string) (string, error)
	requests []completion.Request
}

func newFakeService() *fakeService {
	return &fakeService{handlers: make(map[string]func([]string) (string, error))}
}

func (f *fakeService) on(stage string, h func(ids []string) (string, error)) *fakeService {
	f.handlers[stage] = h
	return f
}

func (f *fakeService) Complete(_ context.Context, req completion.Request) (*completion.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	h := f.handlers[req.Stage]
	f.mu.Unlock()

	if h == nil {
		return nil, completion.Fail(req.Stage, completion.KindTransport, nil)
	}
	content, err := h(batchIDs(req.Prompt))
	if err != nil {
		return nil, err
	}
	return &completion.Response{Content: content, Model: req.Model, CostUSD: 0.01}, nil
}

func (f *fakeService) calls(stage string) []completion.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []completion.Request
	for _, r := range f.requests {
		if r.Stage == stage {
			out = append(out, r)
		}
	}
	return out
}

func batchIDs(prompt string) []string {
	var items []struct {
		ID string `json:"opportunity_id"`
	}
	_ = json.Unmarshal([]byte(strings.TrimPrefix(prompt, "Candidates:\n")), &items)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func analysesJSON(items []map[string]any) string {
	b, _ := json.Marshal(map[string]any{"analyses": items})
	return string(b)
}

// fakeEnricher returns canned intelligence per URL.
type fakeEnricher struct {
	mu    sync.Mutex
	byURL map[string]*model.WebIntelligence
	calls []string
}

func (e *fakeEnricher) Enrich(_ context.Context, url string) (*model.WebIntelligence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, url)
	if w, ok := e.byURL[url]; ok {
		return w, nil
	}
	return nil, context.DeadlineExceeded
}

func testProfile() *model.OrganizationProfile {
	return &model.OrganizationProfile{
		ID:                  "readers",
		Name:                "Readers United",
		Mission:             "Improve childhood literacy in rural Virginia",
		FocusAreas:          []string{"literacy", "education"},
		GeographicScope:     []string{"VA"},
		StrategicPriorities: []string{"expand summer reading"},
	}
}

func inputs(ids ...string) []Input {
	out := make([]Input, len(ids))
	for i, id := range ids {
		out[i] = Input{ID: id, Candidate: model.CandidateRecord{
			OpportunityID:    id,
			OrganizationName: "Funder " + id,
			SourceType:       model.SourceFoundation,
			DiscoverySource:  "propublica",
		}}
	}
	return out
}
