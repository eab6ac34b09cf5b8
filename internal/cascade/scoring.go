package cascade

import (
	"slices"
	"time"

	"github.com/sells-group/grant-funnel/internal/model"
)

// ScorerVersion identifies the scoring logic that produced a result.
const ScorerVersion = "cascade-v1"

// Scoring folds the three stage analyses into the ScoringResult stored on
// the opportunity.
func Scoring(v model.ValidationAnalysis, s model.StrategicAnalysis, d model.DetailedAnalysis, now time.Time) model.ScoringResult {
	dims := map[string]float64{
		"validation_confidence": v.ConfidenceLevel,
		"mission_alignment":     s.MissionAlignmentScore,
		"strategic_confidence":  s.ConfidenceLevel,
		"compatibility":         d.CompatibilityScore,
		"funding_likelihood":    d.FundingLikelihood,
		"success_probability":   d.SuccessProbability,
	}
	if s.CombinedCompatibilityScore != nil {
		dims["combined_compatibility"] = *s.CombinedCompatibilityScore
	}
	if d.WebIntelligence != nil {
		dims["web_extraction_confidence"] = d.WebIntelligence.ExtractionConfidence
	}
	return model.ScoringResult{
		OverallScore:          d.CompatibilityScore,
		AutoPromotionEligible: d.AutoPromotionEligible,
		PromotionRecommended:  d.PromotionRecommended,
		DimensionScores:       dims,
		ConfidenceLevel:       d.ConfidenceLevel,
		Flags:                 mergeFlags(v.Flags, d.Flags),
		ScoredAt:              now,
		ScorerVersion:         ScorerVersion,
	}
}

// ValidationScoring records a candidate that stopped after validation.
func ValidationScoring(v model.ValidationAnalysis, now time.Time) model.ScoringResult {
	return model.ScoringResult{
		DimensionScores: map[string]float64{"validation_confidence": v.ConfidenceLevel},
		ConfidenceLevel: v.ConfidenceLevel,
		Flags:           mergeFlags(v.Flags, []string{string(v.GoNoGo)}),
		ScoredAt:        now,
		ScorerVersion:   ScorerVersion,
	}
}

// FastTrackScoring records a known-grantee fast-track.
func FastTrackScoring(compatibility float64, now time.Time) model.ScoringResult {
	return model.ScoringResult{
		OverallScore:         compatibility,
		PromotionRecommended: true,
		DimensionScores:      map[string]float64{"compatibility": compatibility},
		ConfidenceLevel:      1,
		Flags:                []string{"grantee_match"},
		ScoredAt:             now,
		ScorerVersion:        ScorerVersion,
	}
}

func mergeFlags(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		for _, f := range l {
			if f != "" && !slices.Contains(out, f) {
				out = append(out, f)
			}
		}
	}
	return out
}
