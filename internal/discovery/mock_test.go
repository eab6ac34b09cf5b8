package discovery

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/sells-group/grant-funnel/internal/fetcher"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/resilience"
)

// staticSource yields fixed records and errors in order.
type staticSource struct {
	name  string
	items []model.CandidateRecord
	errs  []error
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Discover(_ context.Context) iter.Seq2[model.CandidateRecord, error] {
	return func(yield func(model.CandidateRecord, error) bool) {
		for _, err := range s.errs {
			if !yield(model.CandidateRecord{}, err) {
				return
			}
		}
		for _, c := range s.items {
			if !yield(c, nil) {
				return
			}
		}
	}
}

var errRowBroken = errors.New("row broken")

func testFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		DefaultRate: 1000,
		Timeout:     5 * time.Second,
		Retry:       resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
	})
}
