package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/grant-funnel/internal/discovery"
	"github.com/sells-group/grant-funnel/internal/model"
)

// Status is the outcome of one candidate in a run.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusFallback  Status = "fallback"
	StatusRejected  Status = "rejected"
	StatusDuplicate Status = "duplicate"
	StatusFastTrack Status = "fast_track"
	StatusDiscarded Status = "discarded"
)

// Outcome is what happened to one candidate.
type Outcome struct {
	OpportunityID string      `json:"opportunity_id,omitempty"`
	Name          string      `json:"name"`
	Source        string      `json:"source"`
	Status        Status      `json:"status"`
	Stage         model.Stage `json:"stage,omitempty"`
	Score         float64     `json:"score,omitempty"`
	Detail        string      `json:"detail,omitempty"`
}

// PhaseResult records the timing of one pipeline phase.
type PhaseResult struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
	Items      int    `json:"items"`
	Error      string `json:"error,omitempty"`
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	Discovered     int     `json:"discovered"`
	Processed      int     `json:"processed"`
	Fallback       int     `json:"fallback"`
	Rejected       int     `json:"rejected"`
	Duplicates     int     `json:"duplicates"`
	FastTracked    int     `json:"fast_tracked"`
	Discarded      int     `json:"discarded"`
	AutoPromotions int     `json:"auto_promotions"`
	CostUSD        float64 `json:"cost_usd"`
}

// Report is the result of one discovery run.
type Report struct {
	RunID      string                  `json:"run_id"`
	ProfileID  string                  `json:"profile_id"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Sources    []discovery.SourceStats `json:"sources"`
	Phases     []PhaseResult           `json:"phases"`
	Outcomes   []Outcome               `json:"outcomes"`
	Summary    Summary                 `json:"summary"`
	Analytics  *model.Analytics        `json:"analytics,omitempty"`
	Aborted    string                  `json:"aborted,omitempty"`
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case StatusProcessed:
		r.Summary.Processed++
	case StatusFallback:
		r.Summary.Fallback++
	case StatusRejected:
		r.Summary.Rejected++
	case StatusDuplicate:
		r.Summary.Duplicates++
	case StatusFastTrack:
		r.Summary.FastTracked++
	case StatusDiscarded:
		r.Summary.Discarded++
	}
}

// Count returns the number of outcomes with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// FormatReport renders a run report as plain text.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Discovery run %s (profile %s)\n", r.RunID, r.ProfileID)
	fmt.Fprintf(&b, "Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Aborted != "" {
		fmt.Fprintf(&b, "ABORTED: %s\n", r.Aborted)
	}

	b.WriteString("\n## Sources\n")
	for _, s := range r.Sources {
		fmt.Fprintf(&b, "- %s: %d candidates, %d duplicates, %d errors\n", s.Source, s.Candidates, s.Duplicates, s.Errors)
	}

	b.WriteString("\n## Phases\n")
	for _, p := range r.Phases {
		fmt.Fprintf(&b, "- %s: %d items (%dms)\n", p.Name, p.Items, p.DurationMs)
		if p.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", p.Error)
		}
	}

	s := r.Summary
	b.WriteString("\n## Summary\n")
	fmt.Fprintf(&b, "- Discovered: %d\n", s.Discovered)
	fmt.Fprintf(&b, "- Processed: %d (fallback %d)\n", s.Processed, s.Fallback)
	fmt.Fprintf(&b, "- Fast-tracked: %d\n", s.FastTracked)
	fmt.Fprintf(&b, "- Duplicates: %d, discarded: %d, rejected: %d\n", s.Duplicates, s.Discarded, s.Rejected)
	fmt.Fprintf(&b, "- Auto-promotions: %d\n", s.AutoPromotions)
	fmt.Fprintf(&b, "- Estimated cost: $%.4f\n", s.CostUSD)
	return b.String()
}
