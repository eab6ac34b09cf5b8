package cascade

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/sells-group/grant-funnel/internal/completion"
	"github.com/sells-group/grant-funnel/internal/model"
)

// FallbackRank is the priority rank of a strategic fallback analysis.
const FallbackRank = 99

const strategicPrompt = `You assess the strategic fit of validated funding opportunities for the nonprofit below. Score mission alignment from 0.0 to 1.0, grade strategic value and propose a priority order for the batch (1 = pursue first).

Respond with ONLY valid JSON, no other text:
{"analyses": [{"opportunity_id": "<id>", "mission_alignment_score": 0.0, "strategic_value": "exceptional|high|medium|low|minimal", "strategic_rationale": "two sentences at most", "priority_rank": 1, "action_priority": "immediate|planned|monitor|defer", "confidence_level": 0.0, "advantages": [], "concerns": [], "resource_requirements": []}]}

`

// StrategicInput is a validated candidate entering strategic scoring.
type StrategicInput struct {
	Input
	Validation model.ValidationAnalysis
}

type strategicItem struct {
	ID               string `json:"opportunity_id"`
	Name             string `json:"name"`
	SourceType       string `json:"source_type"`
	Description      string `json:"description,omitempty"`
	FundingAmount    *int64 `json:"funding_amount,omitempty"`
	Deadline         string `json:"application_deadline,omitempty"`
	DiscoveryTrack   string `json:"discovery_track"`
	Eligibility      string `json:"eligibility_status"`
	ValidationReason string `json:"validation_reasoning,omitempty"`
}

type strategicReply struct {
	ID                    string   `json:"opportunity_id"`
	MissionAlignmentScore float64  `json:"mission_alignment_score"`
	StrategicValue        string   `json:"strategic_value"`
	StrategicRationale    string   `json:"strategic_rationale"`
	PriorityRank          int      `json:"priority_rank"`
	ActionPriority        string   `json:"action_priority"`
	ConfidenceLevel       float64  `json:"confidence_level"`
	Advantages            []string `json:"advantages"`
	Concerns              []string `json:"concerns"`
	ResourceRequirements  []string `json:"resource_requirements"`
}

// StrategicFallback is the analysis used when strategic scoring could not
// be obtained for a candidate.
func StrategicFallback(id string) model.StrategicAnalysis {
	return model.StrategicAnalysis{
		OpportunityID:  id,
		StrategicValue: model.ValueMedium,
		PriorityRank:   FallbackRank,
		ActionPriority: model.PriorityMonitor,
		Fallback:       true,
	}
}

// Fuse combines the mission alignment score with a pre-computed local
// score using the given weights.
func Fuse(missionAlignment, localScore, missionWeight, localWeight float64) float64 {
	return clamp01(missionWeight*missionAlignment + localWeight*localScore)
}

var valueGrade = map[model.StrategicValue]int{
	model.ValueExceptional: 0,
	model.ValueHigh:        1,
	model.ValueMedium:      2,
	model.ValueLow:         3,
	model.ValueMinimal:     4,
}

// Rank assigns priority ranks 1..N to the scored analyses. Order is by
// the model's proposed rank, then mission alignment descending, then
// confidence descending, then ID. Fallback analyses keep FallbackRank, so
// a batch with several fallbacks repeats that rank.
func Rank(analyses []model.StrategicAnalysis) {
	idx := make([]int, 0, len(analyses))
	for i := range analyses {
		if !analyses[i].Fallback {
			idx = append(idx, i)
		}
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		x, y := &analyses[a], &analyses[b]
		return cmp.Or(
			cmp.Compare(proposedRank(x.PriorityRank), proposedRank(y.PriorityRank)),
			cmp.Compare(y.MissionAlignmentScore, x.MissionAlignmentScore),
			cmp.Compare(y.ConfidenceLevel, x.ConfidenceLevel),
			cmp.Compare(x.OpportunityID, y.OpportunityID),
		)
	})
	for rank, i := range idx {
		analyses[i].PriorityRank = rank + 1
	}
}

// proposedRank clamps a model rank into 1..FallbackRank.
func proposedRank(r int) int {
	return min(max(r, 1), FallbackRank)
}

// Strategic runs strategic scoring and returns the analyses ranked, best
// first, one per input.
func (c *Cascade) Strategic(ctx context.Context, profile *model.OrganizationProfile, inputs []StrategicInput) []model.StrategicAnalysis {
	started := time.Now()
	plain := make([]Input, len(inputs))
	byID := make(map[string]StrategicInput, len(inputs))
	for i, in := range inputs {
		plain[i] = in.Input
		byID[in.ID] = in
	}
	system := strategicPrompt + profile.Summary() + priorities(profile)

	results := runBatches(ctx, c, StageStrategic, plain, func(ctx context.Context, batch []Input) Result[map[string]model.StrategicAnalysis] {
		items := make([]strategicItem, len(batch))
		for i, in := range batch {
			v := byID[in.ID].Validation
			items[i] = strategicItem{
				ID:               in.ID,
				Name:             in.Candidate.DisplayName(),
				SourceType:       string(in.Candidate.SourceType),
				Description:      truncate(in.Candidate.Description),
				FundingAmount:    in.Candidate.FundingAmount,
				Deadline:         in.Candidate.ApplicationDeadline,
				DiscoveryTrack:   string(v.DiscoveryTrack),
				Eligibility:      string(v.EligibilityStatus),
				ValidationReason: v.Reasoning,
			}
		}
		replies, _, fail := complete[strategicReply](ctx, c, StageStrategic, c.cfg.StrategicModel, system, items)
		if fail != nil {
			return Failed[map[string]model.StrategicAnalysis](fail)
		}
		out := make(map[string]model.StrategicAnalysis, len(replies))
		for _, r := range replies {
			if _, ok := byID[r.ID]; ok {
				out[r.ID] = normalizeStrategic(r)
			}
		}
		return Ok(out)
	})

	out := make([]model.StrategicAnalysis, 0, len(inputs))
	fallbacks := 0
	for _, in := range inputs {
		a := results[in.ID].OrElse(func(f *completion.CallFailure) model.StrategicAnalysis {
			fallbacks++
			c.recordFallback(StageStrategic, in.ID, f)
			return StrategicFallback(in.ID)
		})
		if local := in.Candidate.LocalScore; local != nil && !a.Fallback {
			combined := Fuse(a.MissionAlignmentScore, *local, c.cfg.MissionWeight, c.cfg.LocalWeight)
			a.CombinedCompatibilityScore = &combined
		}
		out = append(out, a)
	}
	Rank(out)
	slices.SortStableFunc(out, func(a, b model.StrategicAnalysis) int {
		return cmp.Compare(a.PriorityRank, b.PriorityRank)
	})
	stageLog(StageStrategic, len(inputs), started, fallbacks)
	return out
}

func normalizeStrategic(r strategicReply) model.StrategicAnalysis {
	a := model.StrategicAnalysis{
		OpportunityID:         r.ID,
		MissionAlignmentScore: clamp01(r.MissionAlignmentScore),
		StrategicValue:        model.StrategicValue(normToken(r.StrategicValue)),
		StrategicRationale:    truncate(r.StrategicRationale),
		PriorityRank:          r.PriorityRank,
		ActionPriority:        normalizePriority(r.ActionPriority, model.PriorityMonitor),
		ConfidenceLevel:       clamp01(r.ConfidenceLevel),
		Advantages:            cleanList(r.Advantages),
		Concerns:              cleanList(r.Concerns),
		ResourceRequirements:  cleanList(r.ResourceRequirements),
	}
	if _, ok := valueGrade[a.StrategicValue]; !ok {
		a.StrategicValue = model.ValueMedium
	}
	if a.PriorityRank <= 0 {
		a.PriorityRank = FallbackRank
	}
	return a
}

func normalizePriority(raw string, def model.ActionPriority) model.ActionPriority {
	p := model.ActionPriority(normToken(raw))
	switch p {
	case model.PriorityImmediate, model.PriorityPlanned, model.PriorityMonitor, model.PriorityDefer:
		return p
	}
	return def
}

func priorities(p *model.OrganizationProfile) string {
	if len(p.StrategicPriorities) == 0 {
		return ""
	}
	s := "Strategic priorities:\n"
	for _, pr := range p.StrategicPriorities {
		s += "- " + pr + "\n"
	}
	return s
}
