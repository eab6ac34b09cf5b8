package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/pipeline"
)

const timeLayout = "2006-01-02 15:04"

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func scoreCell(o *model.Opportunity) string {
	if o.Scoring == nil {
		return "-"
	}
	s := fmt.Sprintf("%.2f", o.Scoring.OverallScore)
	if o.Scoring.AutoPromotionEligible {
		s += " *"
	}
	return s
}

func fundingCell(amount *int64) string {
	if amount == nil {
		return "-"
	}
	return fmt.Sprintf("$%d", *amount)
}

// renderOpportunities prints one row per opportunity.
func renderOpportunities(w io.Writer, opps []model.Opportunity) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Organization", "Stage", "Score", "Source", "Funding", "Deadline", "Updated"})
	for i := range opps {
		o := &opps[i]
		t.AppendRow(table.Row{
			o.OpportunityID,
			text.Trim(o.OrganizationName, 40),
			o.CurrentStage,
			scoreCell(o),
			o.DiscoverySource,
			fundingCell(o.FundingAmount),
			o.ApplicationDeadline,
			o.LastUpdated.Format(timeLayout),
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d opportunities", len(opps))})
	t.Render()
}

// renderOpportunity prints the record, its scoring and its history.
func renderOpportunity(w io.Writer, o *model.Opportunity) {
	t := newTable(w)
	t.SetTitle(o.OrganizationName)
	t.AppendRows([]table.Row{
		{"ID", o.OpportunityID},
		{"Profile", o.ProfileID},
		{"Stage", o.CurrentStage},
		{"Source", fmt.Sprintf("%s (%s)", o.DiscoverySource, o.SourceType)},
		{"EIN", o.EIN},
		{"Funding", fundingCell(o.FundingAmount)},
		{"Deadline", o.ApplicationDeadline},
		{"Website", o.WebsiteURL},
		{"Discovered", o.DiscoveredAt.Format(timeLayout)},
	})
	if s := o.Scoring; s != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"Score", fmt.Sprintf("%.2f (confidence %.2f)", s.OverallScore, s.ConfidenceLevel)},
			{"Auto-promotion eligible", s.AutoPromotionEligible},
			{"Promotion recommended", s.PromotionRecommended},
			{"Flags", strings.Join(s.Flags, ", ")},
			{"Scorer", s.ScorerVersion},
		})
	}
	if a := o.UserAssessment; a != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"Rating", a.Rating},
			{"Priority", a.Priority},
			{"Notes", a.Notes},
			{"Assessed by", a.AssessedBy},
		})
	}
	t.Render()

	h := newTable(w)
	h.SetTitle("Promotion history")
	h.AppendHeader(table.Row{"When", "From", "To", "Decision", "Actor", "Reason"})
	for _, e := range o.PromotionHistory {
		from := string(e.FromStage)
		if from == "" {
			from = "-"
		}
		h.AppendRow(table.Row{e.Timestamp.Format(timeLayout), from, e.ToStage, e.DecisionType, e.Actor, text.Trim(e.Reason, 60)})
	}
	h.Render()
}

// renderAnalytics prints the stage distribution and conversion rates.
func renderAnalytics(w io.Writer, a *model.Analytics) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("Funnel analytics: %s", a.ProfileID))
	t.AppendHeader(table.Row{"Stage", "Count"})
	for _, s := range model.Stages() {
		t.AppendRow(table.Row{s, a.StageDistribution[s]})
	}
	t.AppendFooter(table.Row{"Total", a.TotalOpportunities})
	t.Render()

	s := newTable(w)
	s.AppendRows([]table.Row{
		{"Scored", a.ScoredCount},
		{"Average score", fmt.Sprintf("%.2f", a.AverageScore)},
		{"Auto-promotion eligible", a.AutoPromotionEligible},
		{"Promotion recommended", a.PromotionRecommended},
		{"Auto-promotions", a.AutoPromotions},
	})
	s.Render()
}

// renderReport prints the per-source counts, outcomes and run summary.
func renderReport(w io.Writer, r *pipeline.Report) {
	src := newTable(w)
	src.SetTitle("Sources")
	src.AppendHeader(table.Row{"Source", "Candidates", "Duplicates", "Errors"})
	for _, s := range r.Sources {
		src.AppendRow(table.Row{s.Source, s.Candidates, s.Duplicates, s.Errors})
	}
	src.Render()

	out := newTable(w)
	out.SetTitle("Outcomes")
	out.AppendHeader(table.Row{"Organization", "Source", "Status", "Stage", "Score", "Detail"})
	for _, o := range r.Outcomes {
		score := "-"
		if o.Score > 0 {
			score = fmt.Sprintf("%.2f", o.Score)
		}
		out.AppendRow(table.Row{text.Trim(o.Name, 40), o.Source, o.Status, o.Stage, score, text.Trim(o.Detail, 50)})
	}
	out.Render()

	s := r.Summary
	sum := newTable(w)
	sum.SetTitle("Summary")
	sum.AppendRows([]table.Row{
		{"Discovered", s.Discovered},
		{"Processed", s.Processed},
		{"Fallback", s.Fallback},
		{"Fast-tracked", s.FastTracked},
		{"Duplicates", s.Duplicates},
		{"Discarded", s.Discarded},
		{"Rejected", s.Rejected},
		{"Auto-promotions", s.AutoPromotions},
		{"Cost (USD)", fmt.Sprintf("%.4f", s.CostUSD)},
		{"Duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()},
	})
	if r.Aborted != "" {
		sum.AppendRow(table.Row{"Aborted", r.Aborted})
	}
	sum.Render()
}
