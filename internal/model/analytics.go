package model

import (
	"time"
)

// Analytics is the cached per-profile aggregate over all opportunities.
type Analytics struct {
	ProfileID             string            `json:"profile_id"`
	TotalOpportunities    int               `json:"total_opportunities"`
	StageDistribution     map[Stage]int     `json:"stage_distribution"`
	ScoredCount           int               `json:"scored_count"`
	AverageScore          float64           `json:"average_score"`
	AutoPromotionEligible int               `json:"auto_promotion_eligible"`
	PromotionRecommended  int               `json:"promotion_recommended"`
	AutoPromotions        int               `json:"auto_promotions"`
	FastTracks            int               `json:"fast_tracks"`
	AverageHoursInStage   map[Stage]float64 `json:"average_hours_in_stage,omitempty"`
	ComputedAt            time.Time         `json:"computed_at"`
}

// ComputeAnalytics derives the aggregate for a profile. It depends only on
// opps and now, so re-running it over the same set yields the same result.
func ComputeAnalytics(profileID string, opps []Opportunity, now time.Time) Analytics {
	a := Analytics{
		ProfileID:          profileID,
		TotalOpportunities: len(opps),
		StageDistribution:  make(map[Stage]int, len(stageOrder)),
		ComputedAt:         now,
	}
	for _, s := range stageOrder {
		a.StageDistribution[s] = 0
	}

	var scoreSum float64
	hours := make(map[Stage]float64)
	closed := make(map[Stage]int)

	for i := range opps {
		o := &opps[i]
		a.StageDistribution[o.CurrentStage]++
		if o.Scoring != nil {
			a.ScoredCount++
			scoreSum += o.Scoring.OverallScore
			if o.Scoring.AutoPromotionEligible {
				a.AutoPromotionEligible++
			}
			if o.Scoring.PromotionRecommended {
				a.PromotionRecommended++
			}
		}
		for _, ev := range o.PromotionHistory {
			switch ev.DecisionType {
			case DecisionAutoPromotion:
				a.AutoPromotions++
			case DecisionFastTrack:
				a.FastTracks++
			}
		}
		for _, t := range o.StageHistory {
			if t.DurationHours != nil {
				hours[t.Stage] += *t.DurationHours
				closed[t.Stage]++
			}
		}
	}

	if a.ScoredCount > 0 {
		a.AverageScore = scoreSum / float64(a.ScoredCount)
	}
	if len(closed) > 0 {
		a.AverageHoursInStage = make(map[Stage]float64, len(closed))
		for s, n := range closed {
			a.AverageHoursInStage[s] = hours[s] / float64(n)
		}
	}
	return a
}
