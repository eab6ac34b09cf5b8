// Package pipeline runs one discovery pass for an organization profile:
// candidates are collected from the sources, resolved against the funnel,
// scored through the cascade and recorded as opportunities.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/cascade"
	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/dedup"
	"github.com/sells-group/grant-funnel/internal/discovery"
	"github.com/sells-group/grant-funnel/internal/funnel"
	"github.com/sells-group/grant-funnel/internal/metrics"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/profile"
	"github.com/sells-group/grant-funnel/internal/store"
)

// Deps are the collaborators of a pipeline.
type Deps struct {
	Profiles profile.Service
	Sources  []discovery.Source
	Store    store.Store
	Machine  *funnel.Machine
	Cascade  *cascade.Cascade
	Resolver *dedup.Resolver
	Metrics  *metrics.Metrics

	// SourceConcurrency bounds how many sources are drained at once.
	SourceConcurrency int
	Now               func() time.Time
}

// Pipeline orchestrates discovery runs.
type Pipeline struct {
	profiles    profile.Service
	sources     []discovery.Source
	store       store.Store
	machine     *funnel.Machine
	cascade     *cascade.Cascade
	resolver    *dedup.Resolver
	metrics     *metrics.Metrics
	sourceLimit int
	now         func() time.Time
}

// New creates a Pipeline with all dependencies.
func New(d Deps) *Pipeline {
	p := &Pipeline{
		profiles:    d.Profiles,
		sources:     d.Sources,
		store:       d.Store,
		machine:     d.Machine,
		cascade:     d.Cascade,
		resolver:    d.Resolver,
		metrics:     d.Metrics,
		sourceLimit: d.SourceConcurrency,
		now:         d.Now,
	}
	if p.resolver == nil {
		p.resolver = dedup.NewResolver(dedup.DefaultConfig())
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// RunOptions select what one run does.
type RunOptions struct {
	ProfileID string   `json:"profile_id"`
	Sources   []string `json:"sources,omitempty"`
	Lenient   bool     `json:"lenient"`
	Enrich    bool     `json:"enrich"`
	BudgetUSD float64  `json:"budget_usd"`
}

// OptionsFromConfig returns the configured defaults for a run.
func OptionsFromConfig(cfg config.CascadeConfig, profileID string) RunOptions {
	return RunOptions{
		ProfileID: profileID,
		Lenient:   cfg.Lenient,
		Enrich:    cfg.Enrich,
		BudgetUSD: cfg.CostBudgetUSD,
	}
}

// OpportunityID derives the stable id of the opportunity created from c,
// so re-running discovery over the same source record finds the same
// opportunity.
func OpportunityID(profileID string, c model.CandidateRecord) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(profileID+"|"+dedup.BatchKey(c))).String()
}

// Run executes one discovery run. The report is returned even when the run
// fails; a funnel invariant violation aborts the run and is returned as
// the error.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	rep := &Report{
		RunID:     uuid.NewString(),
		ProfileID: opts.ProfileID,
		StartedAt: p.now(),
	}
	log := zap.L().With(zap.String("profile_id", opts.ProfileID), zap.String("run_id", rep.RunID))
	log.Info("pipeline: starting discovery run",
		zap.Strings("sources", opts.Sources),
		zap.Bool("lenient", opts.Lenient),
		zap.Bool("enrich", opts.Enrich),
	)

	r := &run{p: p, opts: opts, rep: rep, log: log}
	err := r.execute(ctx)
	rep.FinishedAt = p.now()

	var inv *funnel.InvariantError
	switch {
	case err == nil:
		p.metrics.RecordRun("ok")
		log.Info("pipeline: discovery run complete",
			zap.Int("discovered", rep.Summary.Discovered),
			zap.Int("processed", rep.Summary.Processed),
			zap.Int("fallback", rep.Summary.Fallback),
			zap.Int("fast_tracked", rep.Summary.FastTracked),
			zap.Float64("cost_usd", rep.Summary.CostUSD),
		)
	case errors.As(err, &inv):
		rep.Aborted = err.Error()
		p.metrics.RecordRun("aborted")
		log.Error("pipeline: run aborted on invariant violation", zap.Error(err))
	default:
		p.metrics.RecordRun("failed")
		log.Error("pipeline: discovery run failed", zap.Error(err))
	}
	return rep, err
}

// run is the state of one Run call.
type run struct {
	p        *Pipeline
	opts     RunOptions
	rep      *Report
	log      *zap.Logger
	profile  *model.OrganizationProfile
	existing map[string]*model.Opportunity
}

// phase times fn and appends its result to the report.
func (r *run) phase(name string, fn func() (int, error)) error {
	start := time.Now()
	n, err := fn()
	pr := PhaseResult{Name: name, DurationMs: time.Since(start).Milliseconds(), Items: n}
	if err != nil {
		pr.Error = err.Error()
		r.log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", pr.DurationMs),
			zap.Error(err),
		)
	} else {
		r.log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", pr.DurationMs),
			zap.Int("items", n),
		)
	}
	r.rep.Phases = append(r.rep.Phases, pr)
	return err
}

func (r *run) add(o Outcome) {
	r.rep.add(o)
	r.p.metrics.RecordCandidate(string(o.Status))
	r.log.Debug("pipeline: candidate outcome",
		zap.String("opportunity_id", o.OpportunityID),
		zap.String("source", o.Source),
		zap.String("status", string(o.Status)),
		zap.String("stage", string(o.Stage)),
	)
}

// advancing is a candidate that passed validation into the later stages.
type advancing struct {
	in         cascade.Input
	validation model.ValidationAnalysis
}

func (r *run) execute(ctx context.Context) error {
	p, opts := r.p, r.opts

	prof, err := p.profiles.Get(ctx, opts.ProfileID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load profile %s", opts.ProfileID)
	}
	r.profile = prof

	var candidates []model.CandidateRecord
	if err := r.phase("collect", func() (int, error) {
		sources := discovery.Select(p.sources, opts.Sources)
		if len(sources) == 0 {
			return 0, eris.Errorf("pipeline: no discovery sources match %v", opts.Sources)
		}
		cands, stats, err := discovery.Collect(ctx, sources, p.sourceLimit)
		r.rep.Sources = stats
		candidates = cands
		return len(cands), err
	}); err != nil {
		return err
	}
	r.rep.Summary.Discovered = len(candidates)

	existing, err := p.store.List(ctx, opts.ProfileID, "")
	if err != nil {
		return eris.Wrap(err, "pipeline: list opportunities")
	}
	r.existing = make(map[string]*model.Opportunity, len(existing))
	for i := range existing {
		r.existing[existing[i].OpportunityID] = &existing[i]
	}

	var fresh, fastTrack []dedup.ResolvedCandidate
	_ = r.phase("resolve", func() (int, error) {
		resolved, rejected := p.resolver.Resolve(candidates, existing, prof.KnownGrantees)
		for _, rj := range rejected {
			r.add(Outcome{
				Name:   rj.Candidate.DisplayName(),
				Source: rj.Candidate.DiscoverySource,
				Status: StatusRejected,
				Detail: rj.Err.Error(),
			})
		}
		for _, rc := range resolved {
			switch rc.Status {
			case dedup.StatusDuplicate:
				r.add(r.duplicateOutcome(rc))
			case dedup.StatusFastTrack:
				fastTrack = append(fastTrack, rc)
			default:
				fresh = append(fresh, rc)
			}
		}
		return len(resolved), nil
	})

	if err := r.phase("fast_track", func() (int, error) {
		for _, rc := range fastTrack {
			if err := r.fastTrack(ctx, rc); err != nil {
				return 0, err
			}
		}
		return len(fastTrack), nil
	}); err != nil {
		return err
	}

	inputs := make([]cascade.Input, len(fresh))
	for i, rc := range fresh {
		inputs[i] = cascade.Input{ID: OpportunityID(opts.ProfileID, rc.Candidate), Candidate: rc.Candidate}
	}

	var advance []advancing
	if err := r.phase("validation", func() (int, error) {
		if len(inputs) == 0 {
			return 0, nil
		}
		validations := p.cascade.Validate(ctx, prof, inputs)
		for _, in := range inputs {
			v := validations[in.ID]
			switch {
			case cascade.Discarded(v):
				r.add(Outcome{
					Name:   in.Candidate.DisplayName(),
					Source: in.Candidate.DiscoverySource,
					Status: StatusDiscarded,
					Detail: "validation: " + string(v.ValidationResult),
				})
			case cascade.Advances(v, opts.Lenient):
				advance = append(advance, advancing{in: in, validation: v})
			default:
				if err := r.recordStopped(ctx, in, v); err != nil {
					return 0, err
				}
			}
		}
		return len(inputs), nil
	}); err != nil {
		return err
	}

	if len(advance) > 0 {
		if err := r.score(ctx, advance); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "pipeline: run cancelled")
	}
	return r.phase("analytics", func() (int, error) {
		a, err := p.store.RefreshAnalytics(ctx, opts.ProfileID)
		if err != nil {
			return 0, eris.Wrap(err, "pipeline: refresh analytics")
		}
		r.rep.Analytics = a
		return a.TotalOpportunities, nil
	})
}

// score runs the strategic and detailed stages over the advancing
// candidates and records them in the funnel in priority order.
func (r *run) score(ctx context.Context, advance []advancing) error {
	p, prof := r.p, r.profile

	var ranked []model.StrategicAnalysis
	_ = r.phase("strategic", func() (int, error) {
		in := make([]cascade.StrategicInput, len(advance))
		for i, a := range advance {
			in[i] = cascade.StrategicInput{Input: a.in, Validation: a.validation}
		}
		ranked = p.cascade.Strategic(ctx, prof, in)
		return len(ranked), nil
	})
	strategic := make(map[string]model.StrategicAnalysis, len(ranked))
	for _, s := range ranked {
		strategic[s.OpportunityID] = s
	}

	var detailed map[string]model.DetailedAnalysis
	_ = r.phase("detailed", func() (int, error) {
		in := make([]cascade.DetailedInput, len(advance))
		for i, a := range advance {
			prior := r.existing[a.in.ID]
			in[i] = cascade.DetailedInput{
				Input:       a.in,
				Strategic:   strategic[a.in.ID],
				HasOverride: prior != nil && prior.UserAssessment != nil,
			}
		}
		detailed = p.cascade.Detailed(ctx, prof, in, cascade.DetailedOptions{
			Enrich:    r.opts.Enrich,
			BudgetUSD: r.opts.BudgetUSD,
		})
		return len(detailed), nil
	})

	byID := make(map[string]advancing, len(advance))
	for _, a := range advance {
		byID[a.in.ID] = a
	}
	return r.phase("record", func() (int, error) {
		for _, s := range ranked {
			a, ok := byID[s.OpportunityID]
			if !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return 0, eris.Wrap(err, "pipeline: run cancelled")
			}
			if err := r.recordScored(ctx, a, s, detailed[s.OpportunityID]); err != nil {
				return 0, err
			}
		}
		return len(ranked), nil
	})
}

func (r *run) duplicateOutcome(rc dedup.ResolvedCandidate) Outcome {
	m := rc.Duplicate
	o := Outcome{
		Name:   rc.Candidate.DisplayName(),
		Source: rc.Candidate.DiscoverySource,
		Status: StatusDuplicate,
		Detail: fmt.Sprintf("%s match (confidence %.2f)", m.Method, m.Confidence),
	}
	if m.InBatch {
		o.Detail += " within batch"
		return o
	}
	o.OpportunityID = m.ExistingID
	if e := r.existing[m.ExistingID]; e != nil {
		o.Stage = e.CurrentStage
		o.Score = e.CurrentScore()
	}
	return o
}

// fastTrack records a known-grantee match directly at CANDIDATES.
func (r *run) fastTrack(ctx context.Context, rc dedup.ResolvedCandidate) error {
	c, gm := rc.Candidate, rc.FastTrack
	id := OpportunityID(r.opts.ProfileID, c)
	out := Outcome{OpportunityID: id, Name: c.DisplayName(), Source: c.DiscoverySource, Status: StatusFastTrack}

	opp, created, err := r.open(ctx, id, c, nil, model.StageCandidates, model.DecisionFastTrack, gm.Reason)
	if err != nil {
		return r.failed(ctx, out, err)
	}
	if !created {
		out.Status = StatusDuplicate
		out.Stage = opp.CurrentStage
		out.Score = opp.CurrentScore()
		out.Detail = "already tracked"
		r.add(out)
		return nil
	}
	if err := r.p.machine.Score(ctx, r.opts.ProfileID, opp, cascade.FastTrackScoring(gm.CompatibilityScore, r.p.now())); err != nil {
		return r.failed(ctx, out, err)
	}
	out.Stage = opp.CurrentStage
	out.Score = opp.CurrentScore()
	out.Detail = gm.Reason
	r.add(out)
	return nil
}

// recordStopped records a candidate that did not advance past validation
// as a scored PROSPECTS opportunity.
func (r *run) recordStopped(ctx context.Context, in cascade.Input, v model.ValidationAnalysis) error {
	out := Outcome{
		OpportunityID: in.ID,
		Name:          in.Candidate.DisplayName(),
		Source:        in.Candidate.DiscoverySource,
		Status:        StatusProcessed,
		Detail:        fmt.Sprintf("validation: %s, %s", v.ValidationResult, v.GoNoGo),
	}
	if v.Fallback {
		out.Status = StatusFallback
	}
	opp, _, err := r.open(ctx, in.ID, in.Candidate, nil, model.StageProspects, model.DecisionDiscovery,
		"discovered via "+in.Candidate.DiscoverySource)
	if err != nil {
		return r.failed(ctx, out, err)
	}
	if err := r.p.machine.Score(ctx, r.opts.ProfileID, opp, cascade.ValidationScoring(v, r.p.now())); err != nil {
		return r.failed(ctx, out, err)
	}
	out.Stage = opp.CurrentStage
	r.add(out)
	return nil
}

// recordScored creates or updates the opportunity of a fully scored
// candidate, applies its scoring result and runs auto-promotion.
func (r *run) recordScored(ctx context.Context, a advancing, s model.StrategicAnalysis, d model.DetailedAnalysis) error {
	p, profileID, v := r.p, r.opts.ProfileID, a.validation
	c := a.in.Candidate
	out := Outcome{
		OpportunityID: a.in.ID,
		Name:          c.DisplayName(),
		Source:        c.DiscoverySource,
		Status:        StatusProcessed,
		Score:         d.CompatibilityScore,
		Detail: fmt.Sprintf("rank %d, %s value, %s priority, confidence %.2f",
			s.PriorityRank, s.StrategicValue, d.ActionPriority, d.ConfidenceLevel),
	}
	if v.Fallback || s.Fallback || d.Fallback {
		out.Status = StatusFallback
	}
	r.rep.Summary.CostUSD += d.CostUSD

	stage, reason := model.StageProspects, "discovered via "+c.DiscoverySource
	if v.Passed() {
		stage = model.StageQualifiedProspects
		reason += fmt.Sprintf(", validation passed (confidence %.2f)", v.ConfidenceLevel)
	}
	opp, _, err := r.open(ctx, a.in.ID, c, d.WebIntelligence, stage, model.DecisionDiscovery, reason)
	if err != nil {
		return r.failed(ctx, out, err)
	}
	if err := p.machine.Score(ctx, profileID, opp, cascade.Scoring(v, s, d, p.now())); err != nil {
		return r.failed(ctx, out, err)
	}
	moved, err := p.machine.AutoPromote(ctx, profileID, opp, v.Passed())
	if err != nil {
		return r.failed(ctx, out, err)
	}
	if moved {
		r.rep.Summary.AutoPromotions++
	}
	out.Stage = opp.CurrentStage
	r.add(out)
	return nil
}

// open creates the opportunity for c, or loads it when a record with the
// same id is already stored. It reports whether the record was created.
func (r *run) open(ctx context.Context, id string, c model.CandidateRecord, web *model.WebIntelligence, stage model.Stage, decision model.DecisionType, reason string) (*model.Opportunity, bool, error) {
	profileID := r.opts.ProfileID
	opp := model.NewOpportunity(profileID, id, c, stage, decision, reason, funnel.ActorSystem, r.p.now())
	if web != nil {
		w := web.Clone()
		opp.WebIntelligence = &w
	}
	err := r.p.machine.Create(ctx, profileID, opp)
	if errors.Is(err, funnel.ErrExists) {
		cur, err := r.p.store.Get(ctx, profileID, id)
		if err != nil {
			return nil, false, eris.Wrapf(err, "pipeline: load %s", id)
		}
		return cur, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return opp, true, nil
}

// failed records a candidate whose funnel write failed. Invariant
// violations and cancellation stop the run; other failures only reject
// the candidate.
func (r *run) failed(ctx context.Context, out Outcome, err error) error {
	out.Status = StatusRejected
	out.Detail = err.Error()
	r.add(out)

	var inv *funnel.InvariantError
	if errors.As(err, &inv) {
		return err
	}
	if ctx.Err() != nil {
		return eris.Wrap(ctx.Err(), "pipeline: run cancelled")
	}
	r.log.Error("pipeline: recording candidate failed",
		zap.String("opportunity_id", out.OpportunityID),
		zap.Error(err),
	)
	return nil
}
