package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Stage is a funnel stage. Stages are ordered; see Rank.
type Stage string

const (
	StageProspects          Stage = "prospects"
	StageQualifiedProspects Stage = "qualified_prospects"
	StageCandidates         Stage = "candidates"
	StageTargets            Stage = "targets"
	StageOpportunities      Stage = "opportunities"
)

var stageOrder = []Stage{
	StageProspects,
	StageQualifiedProspects,
	StageCandidates,
	StageTargets,
	StageOpportunities,
}

// Stages returns all funnel stages in order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Rank returns the zero-based position of s in the funnel, or -1 if s is
// not a known stage.
func (s Stage) Rank() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.Rank() >= 0
}

// Next returns the stage after s. ok is false at the terminal stage.
func (s Stage) Next() (next Stage, ok bool) {
	r := s.Rank()
	if r < 0 || r >= len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[r+1], true
}

// Prev returns the stage before s. ok is false at the initial stage.
func (s Stage) Prev() (prev Stage, ok bool) {
	r := s.Rank()
	if r <= 0 {
		return "", false
	}
	return stageOrder[r-1], true
}

// Before reports whether s comes strictly earlier in the funnel than other.
func (s Stage) Before(other Stage) bool {
	return s.Rank() < other.Rank()
}

// ParseStage converts user input such as "QUALIFIED_PROSPECTS" or
// "qualified-prospects" into a Stage.
func ParseStage(raw string) (Stage, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.ReplaceAll(norm, "-", "_")
	norm = strings.ReplaceAll(norm, " ", "_")
	s := Stage(norm)
	if !s.Valid() {
		return "", eris.Errorf("model: unknown stage %q", raw)
	}
	return s, nil
}

// DecisionType classifies why a stage transition happened.
type DecisionType string

const (
	DecisionDiscovery     DecisionType = "discovery"
	DecisionManual        DecisionType = "manual"
	DecisionAutoPromotion DecisionType = "auto_promotion"
	DecisionFastTrack     DecisionType = "fast_track"
	DecisionDemotion      DecisionType = "demotion"
)
