package cascade

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/grant-funnel/internal/completion"
	"github.com/sells-group/grant-funnel/internal/cost"
	"github.com/sells-group/grant-funnel/internal/model"
)

// Reasons recorded in DetailedAnalysis.EnrichmentSkipped.
const (
	SkipDisabled    = "disabled"
	SkipNoWebsite   = "no_website"
	SkipBudget      = "budget"
	SkipUnavailable = "unavailable"
)

// detailedOutputTokens is the expected response size per candidate.
const detailedOutputTokens = 400

const detailedPrompt = `You perform the final grant fit analysis for the nonprofit below. For each opportunity estimate compatibility, funding likelihood and success probability from 0.0 to 1.0, list the main risks, judge the competition and recommend an action.

Respond with ONLY valid JSON, no other text:
{"analyses": [{"opportunity_id": "<id>", "compatibility_score": 0.0, "funding_likelihood": 0.0, "success_probability": 0.0, "risk_assessment": [], "competition_level": "low|medium|high", "action_priority": "immediate|planned|monitor|defer", "confidence_level": 0.0}]}

`

// DetailedInput is a strategically scored candidate entering detailed
// scoring. HasOverride is set when a user assessment exists.
type DetailedInput struct {
	Input
	Strategic   model.StrategicAnalysis
	HasOverride bool
}

// DetailedOptions control enrichment for one run.
type DetailedOptions struct {
	Enrich    bool
	BudgetUSD float64
}

type detailedItem struct {
	ID               string                 `json:"opportunity_id"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description,omitempty"`
	FundingAmount    *int64                 `json:"funding_amount,omitempty"`
	Deadline         string                 `json:"application_deadline,omitempty"`
	MissionAlignment float64                `json:"mission_alignment_score"`
	StrategicValue   string                 `json:"strategic_value"`
	Rationale        string                 `json:"strategic_rationale,omitempty"`
	Combined         *float64               `json:"combined_compatibility_score,omitempty"`
	Concerns         []string               `json:"concerns,omitempty"`
	Web              *model.WebIntelligence `json:"web_intelligence,omitempty"`
}

type detailedReply struct {
	ID                 string   `json:"opportunity_id"`
	CompatibilityScore float64  `json:"compatibility_score"`
	FundingLikelihood  float64  `json:"funding_likelihood"`
	SuccessProbability float64  `json:"success_probability"`
	RiskAssessment     []string `json:"risk_assessment"`
	CompetitionLevel   string   `json:"competition_level"`
	ActionPriority     string   `json:"action_priority"`
	ConfidenceLevel    float64  `json:"confidence_level"`
}

// DetailedFallback is the analysis used when detailed scoring could not be
// obtained. It is never eligible for promotion.
func DetailedFallback(id string) model.DetailedAnalysis {
	return model.DetailedAnalysis{
		OpportunityID:   id,
		ActionPriority:  model.PriorityMonitor,
		ConfidenceLevel: 0.1,
		Flags:           []string{model.FlagParsingError},
		Fallback:        true,
	}
}

// Derive sets the promotion flags from the thresholds. Fallback analyses
// are never eligible or recommended.
func Derive(d *model.DetailedAnalysis, hasOverride bool, th Thresholds) {
	if d.Fallback {
		d.AutoPromotionEligible = false
		d.PromotionRecommended = false
		return
	}
	d.AutoPromotionEligible = d.CompatibilityScore >= th.AutoPromoteScore && d.ConfidenceLevel >= th.AutoPromoteConfidence
	d.PromotionRecommended = d.AutoPromotionEligible || (d.CompatibilityScore >= th.RecommendScore && !hasOverride)
}

// Detailed runs detailed scoring, enriching candidates with web
// intelligence when enabled and within budget. The result has one
// analysis per input.
func (c *Cascade) Detailed(ctx context.Context, profile *model.OrganizationProfile, inputs []DetailedInput, opts DetailedOptions) map[string]model.DetailedAnalysis {
	started := time.Now()
	plain := make([]Input, len(inputs))
	byID := make(map[string]DetailedInput, len(inputs))
	for i, in := range inputs {
		plain[i] = in.Input
		byID[in.ID] = in
	}

	web, skipped := c.enrich(ctx, inputs, opts)
	system := detailedPrompt + profile.Summary()

	results := runBatches(ctx, c, StageDetailed, plain, func(ctx context.Context, batch []Input) Result[map[string]model.DetailedAnalysis] {
		items := make([]detailedItem, len(batch))
		for i, in := range batch {
			s := byID[in.ID].Strategic
			items[i] = detailedItem{
				ID:               in.ID,
				Name:             in.Candidate.DisplayName(),
				Description:      truncate(in.Candidate.Description),
				FundingAmount:    in.Candidate.FundingAmount,
				Deadline:         in.Candidate.ApplicationDeadline,
				MissionAlignment: s.MissionAlignmentScore,
				StrategicValue:   string(s.StrategicValue),
				Rationale:        s.StrategicRationale,
				Combined:         s.CombinedCompatibilityScore,
				Concerns:         s.Concerns,
				Web:              web[in.ID],
			}
		}
		replies, resp, fail := complete[detailedReply](ctx, c, StageDetailed, c.cfg.DetailedModel, system, items)
		if fail != nil {
			return Failed[map[string]model.DetailedAnalysis](fail)
		}
		share := resp.CostUSD / float64(len(batch))
		out := make(map[string]model.DetailedAnalysis, len(replies))
		for _, r := range replies {
			in, ok := byID[r.ID]
			if !ok {
				continue
			}
			d := normalizeDetailed(r, in.Strategic.ActionPriority)
			d.CostUSD = share
			out[r.ID] = d
		}
		return Ok(out)
	})

	out := make(map[string]model.DetailedAnalysis, len(inputs))
	fallbacks := 0
	for _, in := range inputs {
		d := results[in.ID].OrElse(func(f *completion.CallFailure) model.DetailedAnalysis {
			fallbacks++
			c.recordFallback(StageDetailed, in.ID, f)
			return DetailedFallback(in.ID)
		})
		if w := web[in.ID]; w != nil {
			cp := w.Clone()
			d.WebIntelligence = &cp
		}
		d.EnrichmentSkipped = skipped[in.ID]
		Derive(&d, in.HasOverride, c.cfg.Thresholds)
		out[in.ID] = d
	}
	stageLog(StageDetailed, len(inputs), started, fallbacks)
	return out
}

// EstimateCandidateCost prices detailed scoring plus enrichment for one
// candidate.
func (c *Cascade) EstimateCandidateCost(in DetailedInput) float64 {
	prompt := detailedPrompt + in.Candidate.DisplayName() + in.Candidate.Description + in.Strategic.StrategicRationale
	return c.calc.Estimate(c.cfg.DetailedModel, cost.EstimateTokens(prompt), detailedOutputTokens) + c.cfg.EnrichCostUSD
}

// enrich fetches web intelligence for eligible inputs. Failures only
// record a skip reason.
func (c *Cascade) enrich(ctx context.Context, inputs []DetailedInput, opts DetailedOptions) (map[string]*model.WebIntelligence, map[string]string) {
	web := make(map[string]*model.WebIntelligence)
	skipped := make(map[string]string)
	var mu sync.Mutex

	skip := func(id, reason string) {
		mu.Lock()
		skipped[id] = reason
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, in := range inputs {
		switch {
		case !opts.Enrich || c.enricher == nil:
			skip(in.ID, SkipDisabled)
			continue
		case in.Candidate.WebsiteURL == "":
			skip(in.ID, SkipNoWebsite)
			continue
		case opts.BudgetUSD > 0 && c.EstimateCandidateCost(in) > opts.BudgetUSD:
			skip(in.ID, SkipBudget)
			continue
		}
		g.Go(func() error {
			w, err := c.enricher.Enrich(gctx, in.Candidate.WebsiteURL)
			if err != nil || w == nil {
				zap.L().Debug("cascade: enrichment unavailable",
					zap.String("opportunity_id", in.ID),
					zap.String("url", in.Candidate.WebsiteURL),
					zap.Error(err),
				)
				skip(in.ID, SkipUnavailable)
				return nil
			}
			mu.Lock()
			web[in.ID] = w
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return web, skipped
}

func normalizeDetailed(r detailedReply, strategicPriority model.ActionPriority) model.DetailedAnalysis {
	def := strategicPriority
	if def == "" {
		def = model.PriorityMonitor
	}
	d := model.DetailedAnalysis{
		OpportunityID:      r.ID,
		CompatibilityScore: clamp01(r.CompatibilityScore),
		FundingLikelihood:  clamp01(r.FundingLikelihood),
		SuccessProbability: clamp01(r.SuccessProbability),
		RiskAssessment:     cleanList(r.RiskAssessment),
		CompetitionLevel:   normToken(r.CompetitionLevel),
		ActionPriority:     normalizePriority(r.ActionPriority, def),
		ConfidenceLevel:    clamp01(r.ConfidenceLevel),
	}
	switch d.CompetitionLevel {
	case "low", "medium", "high":
	default:
		d.CompetitionLevel = "unknown"
	}
	return d
}
