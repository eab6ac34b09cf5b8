package api

import (
	"context"
	"sync"

	"github.com/sells-group/grant-funnel/internal/pipeline"
)

// fakeRunner records runs and blocks each one until release is closed.
type fakeRunner struct {
	mu      sync.Mutex
	opts    []pipeline.RunOptions
	started chan struct{}
	release chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan struct{}, 4), release: make(chan struct{})}
}

func (f *fakeRunner) Run(ctx context.Context, opts pipeline.RunOptions) (*pipeline.Report, error) {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	f.started <- struct{}{}
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &pipeline.Report{RunID: "run-1", ProfileID: opts.ProfileID}, nil
}

func (f *fakeRunner) calls() []pipeline.RunOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.RunOptions(nil), f.opts...)
}
