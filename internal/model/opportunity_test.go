package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestOpportunity() *Opportunity {
	amount := int64(50000)
	return NewOpportunity("p1", "opp-1", CandidateRecord{
		OpportunityID:    "src-1",
		OrganizationName: "Gates Foundation",
		EIN:              "12-3456789",
		SourceType:       SourceFoundation,
		DiscoverySource:  "propublica",
		FundingAmount:    &amount,
	}, StageProspects, DecisionDiscovery, "discovered", "system", testNow)
}

func TestNewOpportunity(t *testing.T) {
	t.Parallel()

	o := newTestOpportunity()
	assert.Equal(t, StageProspects, o.CurrentStage)
	require.Len(t, o.StageHistory, 1)
	assert.True(t, o.StageHistory[0].Open())
	require.Len(t, o.PromotionHistory, 1)
	assert.Equal(t, DecisionDiscovery, o.PromotionHistory[0].DecisionType)
	assert.Equal(t, Stage(""), o.PromotionHistory[0].FromStage)
	assert.Equal(t, "src-1", o.SourceRecordID)
	assert.NoError(t, o.CheckInvariants())
	assert.Zero(t, o.CurrentScore())
}

func TestCheckInvariants(t *testing.T) {
	t.Parallel()

	exited := testNow.Add(time.Hour)

	tests := []struct {
		name   string
		mutate func(o *Opportunity)
	}{
		{"stage mismatch", func(o *Opportunity) { o.CurrentStage = StageTargets }},
		{"no open entry", func(o *Opportunity) { o.StageHistory[0].ExitedAt = &exited }},
		{"empty history", func(o *Opportunity) { o.StageHistory = nil }},
		{"invalid stage", func(o *Opportunity) { o.CurrentStage = "applied" }},
		{"two open entries", func(o *Opportunity) {
			o.StageHistory = append(o.StageHistory, StageTransition{Stage: StageProspects, EnteredAt: exited})
		}},
		{"out of order", func(o *Opportunity) {
			o.StageHistory[0].ExitedAt = &exited
			o.StageHistory = append(o.StageHistory, StageTransition{Stage: StageProspects, EnteredAt: testNow.Add(-time.Hour)})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := newTestOpportunity()
			tt.mutate(o)
			assert.Error(t, o.CheckInvariants())
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	t.Parallel()

	o := newTestOpportunity()
	o.Scoring = &ScoringResult{OverallScore: 0.7, DimensionScores: map[string]float64{"mission": 0.8}, Flags: []string{"x"}}
	o.UserAssessment = &UserAssessment{Rating: 4, Tags: []string{"education"}}
	o.WebIntelligence = &WebIntelligence{URL: "https://example.org", Deadlines: []string{"2026-05-01"}}

	c := o.Clone()
	require.Equal(t, o, c)

	*c.FundingAmount = 1
	c.Scoring.DimensionScores["mission"] = 0.1
	c.Scoring.Flags[0] = "y"
	c.StageHistory[0].Stage = StageTargets
	c.PromotionHistory[0].Reason = "changed"
	c.UserAssessment.Tags[0] = "health"
	c.WebIntelligence.Deadlines[0] = "never"

	assert.Equal(t, int64(50000), *o.FundingAmount)
	assert.InDelta(t, 0.8, o.Scoring.DimensionScores["mission"], 0.0001)
	assert.Equal(t, "x", o.Scoring.Flags[0])
	assert.Equal(t, StageProspects, o.StageHistory[0].Stage)
	assert.Equal(t, "discovered", o.PromotionHistory[0].Reason)
	assert.Equal(t, "education", o.UserAssessment.Tags[0])
	assert.Equal(t, "2026-05-01", o.WebIntelligence.Deadlines[0])
	assert.InDelta(t, 0.7, o.CurrentScore(), 0.0001)
}

func TestComputeAnalytics(t *testing.T) {
	t.Parallel()

	dur := 12.0
	a := *newTestOpportunity()
	a.Scoring = &ScoringResult{OverallScore: 0.9, AutoPromotionEligible: true, PromotionRecommended: true}
	a.CurrentStage = StageQualifiedProspects
	exit := testNow.Add(12 * time.Hour)
	a.StageHistory = []StageTransition{
		{Stage: StageProspects, EnteredAt: testNow, ExitedAt: &exit, DurationHours: &dur},
		{Stage: StageQualifiedProspects, EnteredAt: exit},
	}
	a.PromotionHistory = append(a.PromotionHistory, PromotionEvent{DecisionType: DecisionAutoPromotion})

	b := *newTestOpportunity()
	b.Scoring = &ScoringResult{OverallScore: 0.5}
	b.PromotionHistory = []PromotionEvent{{DecisionType: DecisionFastTrack}}

	c := *newTestOpportunity()

	opps := []Opportunity{a, b, c}
	got := ComputeAnalytics("p1", opps, testNow)

	assert.Equal(t, 3, got.TotalOpportunities)
	assert.Equal(t, 2, got.StageDistribution[StageProspects])
	assert.Equal(t, 1, got.StageDistribution[StageQualifiedProspects])
	assert.Equal(t, 0, got.StageDistribution[StageOpportunities])
	assert.Equal(t, 2, got.ScoredCount)
	assert.InDelta(t, 0.7, got.AverageScore, 0.0001)
	assert.Equal(t, 1, got.AutoPromotionEligible)
	assert.Equal(t, 1, got.PromotionRecommended)
	assert.Equal(t, 1, got.AutoPromotions)
	assert.Equal(t, 1, got.FastTracks)
	assert.InDelta(t, 12.0, got.AverageHoursInStage[StageProspects], 0.0001)

	assert.Equal(t, got, ComputeAnalytics("p1", opps, testNow))
}

func TestComputeAnalytics_Empty(t *testing.T) {
	t.Parallel()

	got := ComputeAnalytics("p1", nil, testNow)
	assert.Zero(t, got.TotalOpportunities)
	assert.Zero(t, got.AverageScore)
	assert.Len(t, got.StageDistribution, 5)
	assert.Nil(t, got.AverageHoursInStage)
}

func TestProfileSummary(t *testing.T) {
	t.Parallel()

	p := OrganizationProfile{
		Name:            "Readers United",
		Mission:         "Adult literacy",
		FocusAreas:      []string{"literacy", "education"},
		GeographicScope: []string{"VA", "MD"},
	}
	s := p.Summary()
	assert.Contains(t, s, "Organization: Readers United")
	assert.Contains(t, s, "Focus areas: literacy, education")
	assert.Contains(t, s, "Geography: VA, MD")
	assert.NotContains(t, s, "NTEE")
}
