package workflow

import (
	"context"
	"sync"

	"github.com/sells-group/grant-funnel/internal/pipeline"
)

// scriptedRunner returns the scripted errors in order, then succeeds.
type scriptedRunner struct {
	mu    sync.Mutex
	errs  []error
	calls []pipeline.RunOptions
}

func (r *scriptedRunner) Run(_ context.Context, opts pipeline.RunOptions) (*pipeline.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, opts)
	rep := &pipeline.Report{RunID: "run-" + opts.ProfileID, ProfileID: opts.ProfileID}
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return rep, err
	}
	rep.Summary = pipeline.Summary{Discovered: 3, Processed: 2, FastTracked: 1}
	return rep, nil
}

func (r *scriptedRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
