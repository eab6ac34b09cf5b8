package model

import (
	"slices"
	"time"
)

// ValidationResult is the validation stage's verdict on a candidate.
type ValidationResult string

const (
	ValidFunding           ValidationResult = "valid_funding"
	InvalidNotFunding      ValidationResult = "invalid_not_funding"
	UncertainNeedsResearch ValidationResult = "uncertain_needs_research"
	ExpiredInactive        ValidationResult = "expired_inactive"
)

// EligibilityStatus describes whether the profile can apply.
type EligibilityStatus string

const (
	Eligible    EligibilityStatus = "eligible"
	Ineligible  EligibilityStatus = "ineligible"
	Conditional EligibilityStatus = "conditional"
	Unknown     EligibilityStatus = "unknown"
)

// DiscoveryTrack is the funding track assigned during validation.
type DiscoveryTrack string

const (
	TrackGovernment DiscoveryTrack = "government"
	TrackFoundation DiscoveryTrack = "foundation"
	TrackCommercial DiscoveryTrack = "commercial"
	TrackState      DiscoveryTrack = "state"
	TrackNonprofit  DiscoveryTrack = "nonprofit"
)

// GoNoGo is the validation stage's continuation decision.
type GoNoGo string

const (
	Go          GoNoGo = "go"
	NoGo        GoNoGo = "no_go"
	Investigate GoNoGo = "investigate"
)

// StrategicValue grades strategic fit.
type StrategicValue string

const (
	ValueExceptional StrategicValue = "exceptional"
	ValueHigh        StrategicValue = "high"
	ValueMedium      StrategicValue = "medium"
	ValueLow         StrategicValue = "low"
	ValueMinimal     StrategicValue = "minimal"
)

// ActionPriority is the recommended handling urgency.
type ActionPriority string

const (
	PriorityImmediate ActionPriority = "immediate"
	PriorityPlanned   ActionPriority = "planned"
	PriorityMonitor   ActionPriority = "monitor"
	PriorityDefer     ActionPriority = "defer"
)

// FlagParsingError marks an analysis produced by the fallback path.
const FlagParsingError = "parsing_error"

// ValidationAnalysis is the output of the validation stage for one candidate.
type ValidationAnalysis struct {
	OpportunityID     string            `json:"opportunity_id"`
	ValidationResult  ValidationResult  `json:"validation_result"`
	EligibilityStatus EligibilityStatus `json:"eligibility_status"`
	DiscoveryTrack    DiscoveryTrack    `json:"discovery_track"`
	GoNoGo            GoNoGo            `json:"go_no_go"`
	ConfidenceLevel   float64           `json:"confidence_level"`
	Reasoning         string            `json:"reasoning,omitempty"`
	Flags             []string          `json:"flags,omitempty"`
	Fallback          bool              `json:"fallback,omitempty"`
}

// Passed reports whether validation confirmed a real, usable funding source.
func (v ValidationAnalysis) Passed() bool {
	return v.ValidationResult == ValidFunding && v.GoNoGo == Go
}

// StrategicAnalysis is the output of the strategic scoring stage.
type StrategicAnalysis struct {
	OpportunityID         string         `json:"opportunity_id"`
	MissionAlignmentScore float64        `json:"mission_alignment_score"`
	StrategicValue        StrategicValue `json:"strategic_value"`
	StrategicRationale    string         `json:"strategic_rationale,omitempty"`
	PriorityRank          int            `json:"priority_rank"`
	ActionPriority        ActionPriority `json:"action_priority"`
	ConfidenceLevel       float64        `json:"confidence_level"`
	// CombinedCompatibilityScore is set when a local score was fused in.
	CombinedCompatibilityScore *float64 `json:"combined_compatibility_score,omitempty"`
	Advantages                 []string `json:"advantages,omitempty"`
	Concerns                   []string `json:"concerns,omitempty"`
	ResourceRequirements       []string `json:"resource_requirements,omitempty"`
	Fallback                   bool     `json:"fallback,omitempty"`
}

// DetailedAnalysis is the output of the detailed scoring stage.
type DetailedAnalysis struct {
	OpportunityID         string           `json:"opportunity_id"`
	CompatibilityScore    float64          `json:"compatibility_score"`
	FundingLikelihood     float64          `json:"funding_likelihood"`
	RiskAssessment        []string         `json:"risk_assessment,omitempty"`
	CompetitionLevel      string           `json:"competition_level,omitempty"`
	SuccessProbability    float64          `json:"success_probability"`
	ActionPriority        ActionPriority   `json:"action_priority"`
	ConfidenceLevel       float64          `json:"confidence_level"`
	AutoPromotionEligible bool             `json:"auto_promotion_eligible"`
	PromotionRecommended  bool             `json:"promotion_recommended"`
	Flags                 []string         `json:"flags,omitempty"`
	WebIntelligence       *WebIntelligence `json:"web_intelligence,omitempty"`
	EnrichmentSkipped     string           `json:"enrichment_skipped,omitempty"`
	CostUSD               float64          `json:"cost_usd"`
	Fallback              bool             `json:"fallback,omitempty"`
}

// Contact is a person or channel found on a funder's website.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role,omitempty"`
}

// WebIntelligence is the best-effort enrichment extracted from a funder's
// website.
type WebIntelligence struct {
	URL                     string    `json:"url"`
	Contacts                []Contact `json:"contacts,omitempty"`
	Deadlines               []string  `json:"deadlines,omitempty"`
	EligibilityRequirements []string  `json:"eligibility_requirements,omitempty"`
	ExtractionConfidence    float64   `json:"extraction_confidence"`
	PagesVisited            int       `json:"pages_visited"`
	ExtractedAt             time.Time `json:"extracted_at"`
}

// Clone returns a deep copy of w.
func (w WebIntelligence) Clone() WebIntelligence {
	w.Contacts = slices.Clone(w.Contacts)
	w.Deadlines = slices.Clone(w.Deadlines)
	w.EligibilityRequirements = slices.Clone(w.EligibilityRequirements)
	return w
}
