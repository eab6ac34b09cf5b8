package completion

import (
	"context"
	"sync"

	"github.com/sells-group/grant-funnel/pkg/anthropic"
)

// fakeClient replays scripted responses in order. The last entry repeats.
type fakeClient struct {
	mu     sync.Mutex
	steps  []fakeStep
	calls  int
	lastRq anthropic.MessageRequest
}

type fakeStep struct {
	resp  *anthropic.MessageResponse
	err   error
	block bool
}

func (f *fakeClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	step := f.steps[i]
	f.calls++
	f.lastRq = req
	f.mu.Unlock()

	if step.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return step.resp, step.err
}

func (f *fakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:   "claude-haiku-4-5-20251001",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}
}
