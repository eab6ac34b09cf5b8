package model

import (
	"maps"
	"slices"
	"time"

	"github.com/rotisserie/eris"
)

// StageTransition is one entry in an opportunity's stage history.
type StageTransition struct {
	Stage         Stage      `json:"stage"`
	EnteredAt     time.Time  `json:"entered_at"`
	ExitedAt      *time.Time `json:"exited_at,omitempty"`
	DurationHours *float64   `json:"duration_hours,omitempty"`
}

// Open reports whether the transition has not been exited yet.
func (t StageTransition) Open() bool {
	return t.ExitedAt == nil
}

// PromotionEvent records a stage change. Promotion history is append-only.
type PromotionEvent struct {
	FromStage        Stage        `json:"from_stage,omitempty"`
	ToStage          Stage        `json:"to_stage"`
	DecisionType     DecisionType `json:"decision_type"`
	ScoreAtPromotion float64      `json:"score_at_promotion"`
	Reason           string       `json:"reason"`
	Timestamp        time.Time    `json:"timestamp"`
	Actor            string       `json:"actor"`
}

// UserAssessment is a human override attached to an opportunity.
type UserAssessment struct {
	Rating     int       `json:"rating,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	AssessedBy string    `json:"assessed_by,omitempty"`
	AssessedAt time.Time `json:"assessed_at"`
}

// Opportunity is the durable record tracked through the funnel. It belongs
// to exactly one organization profile.
type Opportunity struct {
	OpportunityID       string     `json:"opportunity_id"`
	ProfileID           string     `json:"profile_id"`
	OrganizationName    string     `json:"organization_name"`
	EIN                 string     `json:"ein,omitempty"`
	SourceType          SourceType `json:"source_type,omitempty"`
	DiscoverySource     string     `json:"discovery_source,omitempty"`
	SourceRecordID      string     `json:"source_record_id,omitempty"`
	Description         string     `json:"description,omitempty"`
	FundingAmount       *int64     `json:"funding_amount,omitempty"`
	ApplicationDeadline string     `json:"application_deadline,omitempty"`
	WebsiteURL          string     `json:"website_url,omitempty"`

	CurrentStage     Stage             `json:"current_stage"`
	Scoring          *ScoringResult    `json:"scoring,omitempty"`
	StageHistory     []StageTransition `json:"stage_history"`
	PromotionHistory []PromotionEvent  `json:"promotion_history"`
	UserAssessment   *UserAssessment   `json:"user_assessment,omitempty"`
	WebIntelligence  *WebIntelligence  `json:"web_intelligence,omitempty"`

	DiscoveredAt time.Time `json:"discovered_at"`
	LastUpdated  time.Time `json:"last_updated"`
}

// CurrentScore returns the overall score of the latest scoring result, or
// 0 when the opportunity has not been scored.
func (o *Opportunity) CurrentScore() float64 {
	if o.Scoring == nil {
		return 0
	}
	return o.Scoring.OverallScore
}

// OpenTransitionIndex returns the index of the open stage history entry,
// or -1 if there is none.
func (o *Opportunity) OpenTransitionIndex() int {
	for i := len(o.StageHistory) - 1; i >= 0; i-- {
		if o.StageHistory[i].Open() {
			return i
		}
	}
	return -1
}

// CheckInvariants verifies the stage history shape: the current stage
// matches the last entry, exactly one entry is open and it is the last,
// and entry timestamps never go backwards.
func (o *Opportunity) CheckInvariants() error {
	if !o.CurrentStage.Valid() {
		return eris.Errorf("model: opportunity %s has invalid stage %q", o.OpportunityID, o.CurrentStage)
	}
	if len(o.StageHistory) == 0 {
		return eris.Errorf("model: opportunity %s has empty stage history", o.OpportunityID)
	}
	last := o.StageHistory[len(o.StageHistory)-1]
	if last.Stage != o.CurrentStage {
		return eris.Errorf("model: opportunity %s current stage %s does not match history %s",
			o.OpportunityID, o.CurrentStage, last.Stage)
	}
	open := 0
	for i, t := range o.StageHistory {
		if t.Open() {
			open++
			if i != len(o.StageHistory)-1 {
				return eris.Errorf("model: opportunity %s has open history entry at %d", o.OpportunityID, i)
			}
		}
		if i > 0 && t.EnteredAt.Before(o.StageHistory[i-1].EnteredAt) {
			return eris.Errorf("model: opportunity %s history out of order at %d", o.OpportunityID, i)
		}
	}
	if open != 1 {
		return eris.Errorf("model: opportunity %s has %d open history entries", o.OpportunityID, open)
	}
	return nil
}

// Clone returns a deep copy of o.
func (o *Opportunity) Clone() *Opportunity {
	if o == nil {
		return nil
	}
	c := *o
	if o.FundingAmount != nil {
		v := *o.FundingAmount
		c.FundingAmount = &v
	}
	if o.Scoring != nil {
		s := o.Scoring.Clone()
		c.Scoring = &s
	}
	c.StageHistory = make([]StageTransition, len(o.StageHistory))
	for i, t := range o.StageHistory {
		if t.ExitedAt != nil {
			v := *t.ExitedAt
			t.ExitedAt = &v
		}
		if t.DurationHours != nil {
			v := *t.DurationHours
			t.DurationHours = &v
		}
		c.StageHistory[i] = t
	}
	c.PromotionHistory = slices.Clone(o.PromotionHistory)
	if c.PromotionHistory == nil {
		c.PromotionHistory = []PromotionEvent{}
	}
	if o.UserAssessment != nil {
		ua := *o.UserAssessment
		ua.Tags = slices.Clone(o.UserAssessment.Tags)
		c.UserAssessment = &ua
	}
	if o.WebIntelligence != nil {
		wi := o.WebIntelligence.Clone()
		c.WebIntelligence = &wi
	}
	return &c
}

// NewOpportunity creates an opportunity from a candidate at the given
// initial stage, opening its first stage history entry and recording the
// creation event.
func NewOpportunity(profileID, id string, c CandidateRecord, stage Stage, decision DecisionType, reason, actor string, now time.Time) *Opportunity {
	o := &Opportunity{
		OpportunityID:       id,
		ProfileID:           profileID,
		OrganizationName:    c.OrganizationName,
		EIN:                 c.EIN,
		SourceType:          c.SourceType,
		DiscoverySource:     c.DiscoverySource,
		SourceRecordID:      c.OpportunityID,
		Description:         c.Description,
		FundingAmount:       c.FundingAmount,
		ApplicationDeadline: c.ApplicationDeadline,
		WebsiteURL:          c.WebsiteURL,
		CurrentStage:        stage,
		StageHistory:        []StageTransition{{Stage: stage, EnteredAt: now}},
		PromotionHistory: []PromotionEvent{{
			ToStage:      stage,
			DecisionType: decision,
			Reason:       reason,
			Timestamp:    now,
			Actor:        actor,
		}},
		DiscoveredAt: now,
		LastUpdated:  now,
	}
	return o
}

// ScoringResult is the snapshot of the latest scoring pass. A new result
// replaces the previous one.
type ScoringResult struct {
	OverallScore          float64            `json:"overall_score"`
	AutoPromotionEligible bool               `json:"auto_promotion_eligible"`
	PromotionRecommended  bool               `json:"promotion_recommended"`
	DimensionScores       map[string]float64 `json:"dimension_scores,omitempty"`
	ConfidenceLevel       float64            `json:"confidence_level"`
	Flags                 []string           `json:"flags,omitempty"`
	ScoredAt              time.Time          `json:"scored_at"`
	ScorerVersion         string             `json:"scorer_version"`
}

// Clone returns a deep copy of s.
func (s ScoringResult) Clone() ScoringResult {
	s.DimensionScores = maps.Clone(s.DimensionScores)
	s.Flags = slices.Clone(s.Flags)
	return s
}
