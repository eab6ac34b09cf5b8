package cascade

import (
	"context"
	"time"

	"github.com/sells-group/grant-funnel/internal/completion"
	"github.com/sells-group/grant-funnel/internal/model"
)

const validationPrompt = `You screen funding opportunities for a nonprofit. For each candidate decide whether it is a real, currently active source of grant funding the organization below could pursue.

Respond with ONLY valid JSON, no other text:
{"analyses": [{"opportunity_id": "<id>", "validation_result": "valid_funding|invalid_not_funding|uncertain_needs_research|expired_inactive", "eligibility_status": "eligible|ineligible|conditional|unknown", "discovery_track": "government|foundation|commercial|state|nonprofit", "go_no_go": "go|no_go|investigate", "confidence_level": 0.0, "reasoning": "one or two sentences", "flags": []}]}

`

type validationItem struct {
	ID              string `json:"opportunity_id"`
	Name            string `json:"name"`
	SourceType      string `json:"source_type"`
	DiscoverySource string `json:"discovery_source"`
	Description     string `json:"description,omitempty"`
	FundingAmount   *int64 `json:"funding_amount,omitempty"`
	Deadline        string `json:"application_deadline,omitempty"`
	Website         string `json:"website_url,omitempty"`
}

type validationReply struct {
	ID                string   `json:"opportunity_id"`
	ValidationResult  string   `json:"validation_result"`
	EligibilityStatus string   `json:"eligibility_status"`
	DiscoveryTrack    string   `json:"discovery_track"`
	GoNoGo            string   `json:"go_no_go"`
	ConfidenceLevel   float64  `json:"confidence_level"`
	Reasoning         string   `json:"reasoning"`
	Flags             []string `json:"flags"`
}

// ValidationFallback is the analysis used when validation could not be
// obtained for a candidate. The discovery track follows the source type.
func ValidationFallback(id string, source model.SourceType) model.ValidationAnalysis {
	return model.ValidationAnalysis{
		OpportunityID:     id,
		ValidationResult:  model.UncertainNeedsResearch,
		EligibilityStatus: model.Unknown,
		DiscoveryTrack:    trackForSource(source),
		GoNoGo:            model.Investigate,
		ConfidenceLevel:   0.1,
		Flags:             []string{model.FlagParsingError},
		Fallback:          true,
	}
}

// Advances reports whether a validated candidate continues to strategic
// scoring. Investigate results advance only in lenient mode.
func Advances(v model.ValidationAnalysis, lenient bool) bool {
	if v.ValidationResult == model.InvalidNotFunding {
		return false
	}
	switch v.GoNoGo {
	case model.Go:
		return true
	case model.Investigate:
		return lenient
	}
	return false
}

// Discarded reports whether the candidate leaves the funnel entirely.
func Discarded(v model.ValidationAnalysis) bool {
	return v.ValidationResult == model.InvalidNotFunding
}

// Validate runs the validation stage. The result has one analysis per
// input.
func (c *Cascade) Validate(ctx context.Context, profile *model.OrganizationProfile, inputs []Input) map[string]model.ValidationAnalysis {
	started := time.Now()
	byID := indexInputs(inputs)
	system := validationPrompt + profile.Summary()

	results := runBatches(ctx, c, StageValidation, inputs, func(ctx context.Context, batch []Input) Result[map[string]model.ValidationAnalysis] {
		items := make([]validationItem, len(batch))
		for i, in := range batch {
			cand := in.Candidate
			items[i] = validationItem{
				ID:              in.ID,
				Name:            cand.DisplayName(),
				SourceType:      string(cand.SourceType),
				DiscoverySource: cand.DiscoverySource,
				Description:     truncate(cand.Description),
				FundingAmount:   cand.FundingAmount,
				Deadline:        cand.ApplicationDeadline,
				Website:         cand.WebsiteURL,
			}
		}
		replies, _, fail := complete[validationReply](ctx, c, StageValidation, c.cfg.ValidationModel, system, items)
		if fail != nil {
			return Failed[map[string]model.ValidationAnalysis](fail)
		}
		out := make(map[string]model.ValidationAnalysis, len(replies))
		for _, r := range replies {
			in, ok := byID[r.ID]
			if !ok {
				continue
			}
			out[r.ID] = normalizeValidation(r, in.Candidate)
		}
		return Ok(out)
	})

	out := make(map[string]model.ValidationAnalysis, len(inputs))
	fallbacks := 0
	for _, in := range inputs {
		out[in.ID] = results[in.ID].OrElse(func(f *completion.CallFailure) model.ValidationAnalysis {
			fallbacks++
			c.recordFallback(StageValidation, in.ID, f)
			return ValidationFallback(in.ID, in.Candidate.SourceType)
		})
	}
	stageLog(StageValidation, len(inputs), started, fallbacks)
	return out
}

func normalizeValidation(r validationReply, cand model.CandidateRecord) model.ValidationAnalysis {
	v := model.ValidationAnalysis{
		OpportunityID:     r.ID,
		ValidationResult:  model.ValidationResult(normToken(r.ValidationResult)),
		EligibilityStatus: model.EligibilityStatus(normToken(r.EligibilityStatus)),
		DiscoveryTrack:    model.DiscoveryTrack(normToken(r.DiscoveryTrack)),
		GoNoGo:            model.GoNoGo(normToken(r.GoNoGo)),
		ConfidenceLevel:   clamp01(r.ConfidenceLevel),
		Reasoning:         truncate(r.Reasoning),
		Flags:             cleanList(r.Flags),
	}
	switch v.ValidationResult {
	case model.ValidFunding, model.InvalidNotFunding, model.UncertainNeedsResearch, model.ExpiredInactive:
	default:
		v.ValidationResult = model.UncertainNeedsResearch
	}
	switch v.EligibilityStatus {
	case model.Eligible, model.Ineligible, model.Conditional, model.Unknown:
	default:
		v.EligibilityStatus = model.Unknown
	}
	switch v.DiscoveryTrack {
	case model.TrackGovernment, model.TrackFoundation, model.TrackCommercial, model.TrackState, model.TrackNonprofit:
	default:
		v.DiscoveryTrack = trackForSource(cand.SourceType)
	}
	switch v.GoNoGo {
	case model.Go, model.NoGo, model.Investigate:
	default:
		v.GoNoGo = model.Investigate
	}
	return v
}

func trackForSource(t model.SourceType) model.DiscoveryTrack {
	switch t {
	case model.SourceGovernment:
		return model.TrackGovernment
	case model.SourceState:
		return model.TrackState
	case model.SourceCorporate:
		return model.TrackCommercial
	case model.SourceNonprofit:
		return model.TrackNonprofit
	}
	return model.TrackFoundation
}

func indexInputs(inputs []Input) map[string]Input {
	m := make(map[string]Input, len(inputs))
	for _, in := range inputs {
		m[in.ID] = in
	}
	return m
}
