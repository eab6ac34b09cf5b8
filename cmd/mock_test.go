package main

import (
	"context"
	"sync"

	"github.com/sells-group/grant-funnel/internal/pipeline"
)

// countingRunner records the profiles it was asked to run.
type countingRunner struct {
	mu       sync.Mutex
	profiles []string
}

func (r *countingRunner) Run(_ context.Context, opts pipeline.RunOptions) (*pipeline.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = append(r.profiles, opts.ProfileID)
	return &pipeline.Report{RunID: "run-" + opts.ProfileID, ProfileID: opts.ProfileID}, nil
}
