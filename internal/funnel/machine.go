// Package funnel moves opportunities through the five funnel stages. Every
// change is applied to a fresh copy of the stored record under a
// per-opportunity lock, checked, persisted, and only then copied back to
// the caller's value.
package funnel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/events"
	"github.com/sells-group/grant-funnel/internal/metrics"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/store"
)

// ActorSystem is recorded for transitions made by the pipeline.
const ActorSystem = "system"

// Notifier is told when an opportunity reaches TARGETS.
type Notifier interface {
	NotifyTarget(ctx context.Context, profileID string, opp *model.Opportunity) error
}

// Change describes why a transition happens.
type Change struct {
	Reason   string
	Actor    string
	Decision model.DecisionType
}

// Machine is the funnel state machine.
type Machine struct {
	store     store.Store
	publisher events.Publisher
	notifiers []Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
	locks     store.KeyedMutex
}

// Option configures a Machine.
type Option func(*Machine)

// WithPublisher sets the transition event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(m *Machine) { m.publisher = p }
}

// WithNotifiers adds notifiers fired on entry to TARGETS.
func WithNotifiers(n ...Notifier) Option {
	return func(m *Machine) { m.notifiers = append(m.notifiers, n...) }
}

// WithMetrics records committed transitions.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a Machine over s.
func New(s store.Store, opts ...Option) *Machine {
	m := &Machine{
		store:     s,
		publisher: events.Noop{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create persists a new opportunity. Its history must already hold the
// opening stage entry and creation event.
func (m *Machine) Create(ctx context.Context, profileID string, opp *model.Opportunity) error {
	if err := opp.CheckInvariants(); err != nil {
		return &InvariantError{OpportunityID: opp.OpportunityID, Err: err}
	}
	defer m.locks.Lock(profileID + "/" + opp.OpportunityID)()

	_, err := m.store.Get(ctx, profileID, opp.OpportunityID)
	switch {
	case err == nil:
		return eris.Wrapf(ErrExists, "funnel: create %s", opp.OpportunityID)
	case !errors.Is(err, store.ErrNotFound):
		return eris.Wrapf(err, "funnel: create %s", opp.OpportunityID)
	}

	c := opp.Clone()
	c.ProfileID = profileID
	if err := m.store.Upsert(ctx, profileID, c); err != nil {
		return eris.Wrapf(err, "funnel: create %s", opp.OpportunityID)
	}
	*opp = *c
	m.committed(ctx, profileID, opp, 1)
	return nil
}

// Promote moves opp to the next stage.
func (m *Machine) Promote(ctx context.Context, profileID string, opp *model.Opportunity, c Change) error {
	return m.mutate(ctx, profileID, opp, func(cur *model.Opportunity) (bool, error) {
		next, ok := cur.CurrentStage.Next()
		if !ok {
			return false, &TerminalStageError{OpportunityID: cur.OpportunityID}
		}
		if c.Reason == "" {
			c.Reason = "promoted to " + string(next)
		}
		m.transition(cur, next, withDefaults(c, model.DecisionManual))
		return true, nil
	})
}

// Demote moves opp to the previous stage. A reason is required.
func (m *Machine) Demote(ctx context.Context, profileID string, opp *model.Opportunity, c Change) error {
	if c.Reason == "" {
		return ErrReasonRequired
	}
	return m.mutate(ctx, profileID, opp, func(cur *model.Opportunity) (bool, error) {
		prev, ok := cur.CurrentStage.Prev()
		if !ok {
			return false, &InitialStageError{OpportunityID: cur.OpportunityID}
		}
		m.transition(cur, prev, withDefaults(c, model.DecisionDemotion))
		return true, nil
	})
}

// SetStage jumps opp to target. Setting the current stage is a no-op.
func (m *Machine) SetStage(ctx context.Context, profileID string, opp *model.Opportunity, target model.Stage, c Change) error {
	if !target.Valid() {
		return eris.Errorf("funnel: invalid stage %q", target)
	}
	if c.Reason == "" {
		return ErrReasonRequired
	}
	return m.mutate(ctx, profileID, opp, func(cur *model.Opportunity) (bool, error) {
		if cur.CurrentStage == target {
			return false, nil
		}
		decision := model.DecisionManual
		if target.Before(cur.CurrentStage) {
			decision = model.DecisionDemotion
		}
		m.transition(cur, target, withDefaults(c, decision))
		return true, nil
	})
}

// AutoPromote applies the post-scoring promotion rule and moves opp at
// most one stage. It reports whether a transition was committed.
func (m *Machine) AutoPromote(ctx context.Context, profileID string, opp *model.Opportunity, validationPassed bool) (bool, error) {
	var moved bool
	err := m.mutate(ctx, profileID, opp, func(cur *model.Opportunity) (bool, error) {
		target, reason, ok := autoTarget(cur, validationPassed)
		if !ok {
			return false, nil
		}
		m.transition(cur, target, Change{Reason: reason, Actor: ActorSystem, Decision: model.DecisionAutoPromotion})
		moved = true
		return true, nil
	})
	return moved, err
}

// autoTarget picks the auto-promotion target. A result flagged as a
// parsing fallback never promotes.
func autoTarget(o *model.Opportunity, validationPassed bool) (model.Stage, string, bool) {
	s := o.Scoring
	if s != nil && slices.Contains(s.Flags, model.FlagParsingError) {
		return "", "", false
	}
	if s != nil && s.AutoPromotionEligible && o.CurrentStage.Before(model.StageTargets) {
		next, _ := o.CurrentStage.Next()
		return next, fmt.Sprintf("auto-promotion: score %.2f, confidence %.2f", s.OverallScore, s.ConfidenceLevel), true
	}
	if validationPassed && o.CurrentStage == model.StageQualifiedProspects {
		return model.StageCandidates, "auto-promotion: validation passed", true
	}
	return "", "", false
}

// Score replaces the opportunity's scoring result.
func (m *Machine) Score(ctx context.Context, profileID string, opp *model.Opportunity, result model.ScoringResult) error {
	return m.mutate(ctx, profileID, opp, func(cur *model.Opportunity) (bool, error) {
		r := result.Clone()
		if r.ScoredAt.IsZero() {
			r.ScoredAt = m.now()
		}
		cur.Scoring = &r
		return true, nil
	})
}

// Assess stores a human assessment on the opportunity with the given id
// and returns the updated record.
func (m *Machine) Assess(ctx context.Context, profileID, opportunityID string, a model.UserAssessment) (*model.Opportunity, error) {
	opp := &model.Opportunity{OpportunityID: opportunityID}
	err := m.mutate(ctx, profileID, opp, func(cur *model.Opportunity) (bool, error) {
		if a.AssessedAt.IsZero() {
			a.AssessedAt = m.now()
		}
		a.Tags = slices.Clone(a.Tags)
		cur.UserAssessment = &a
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return opp, nil
}

// mutate loads the stored record, applies fn to it and persists the
// result. The caller's opp is replaced only after a successful write, or
// refreshed from the store when fn reports no change.
func (m *Machine) mutate(ctx context.Context, profileID string, opp *model.Opportunity, fn func(cur *model.Opportunity) (bool, error)) error {
	defer m.locks.Lock(profileID + "/" + opp.OpportunityID)()

	cur, err := m.store.Get(ctx, profileID, opp.OpportunityID)
	if err != nil {
		return eris.Wrapf(err, "funnel: load %s", opp.OpportunityID)
	}
	prior := cur.Clone()

	changed, err := fn(cur)
	if err != nil {
		return err
	}
	if !changed {
		*opp = *cur
		return nil
	}

	if err := checkAppendOnly(prior, cur); err != nil {
		return &InvariantError{OpportunityID: cur.OpportunityID, Err: err}
	}
	if err := cur.CheckInvariants(); err != nil {
		zap.L().Error("funnel: invariant violated",
			zap.String("profile_id", profileID),
			zap.String("opportunity_id", cur.OpportunityID),
			zap.Error(err),
		)
		return &InvariantError{OpportunityID: cur.OpportunityID, Err: err}
	}

	cur.LastUpdated = m.now()
	if err := m.store.Upsert(ctx, profileID, cur); err != nil {
		return eris.Wrapf(err, "funnel: persist %s", cur.OpportunityID)
	}

	*opp = *cur
	m.committed(ctx, profileID, opp, len(cur.PromotionHistory)-len(prior.PromotionHistory))
	return nil
}

func checkAppendOnly(prior, cur *model.Opportunity) error {
	if len(cur.PromotionHistory) < len(prior.PromotionHistory) {
		return eris.New("promotion history shrank")
	}
	for i := range prior.PromotionHistory {
		if cur.PromotionHistory[i] != prior.PromotionHistory[i] {
			return eris.Errorf("promotion history entry %d was rewritten", i)
		}
	}
	return nil
}

// transition closes the open stage entry, opens one for to and appends the
// promotion event. Time never runs backwards within a history.
func (m *Machine) transition(o *model.Opportunity, to model.Stage, c Change) {
	at := m.now()
	if n := len(o.StageHistory); n > 0 && at.Before(o.StageHistory[n-1].EnteredAt) {
		at = o.StageHistory[n-1].EnteredAt
	}
	if i := o.OpenTransitionIndex(); i >= 0 {
		exited := at
		hours := at.Sub(o.StageHistory[i].EnteredAt).Hours()
		o.StageHistory[i].ExitedAt = &exited
		o.StageHistory[i].DurationHours = &hours
	}
	o.StageHistory = append(o.StageHistory, model.StageTransition{Stage: to, EnteredAt: at})
	o.PromotionHistory = append(o.PromotionHistory, model.PromotionEvent{
		FromStage:        o.CurrentStage,
		ToStage:          to,
		DecisionType:     c.Decision,
		ScoreAtPromotion: o.CurrentScore(),
		Reason:           c.Reason,
		Timestamp:        at,
		Actor:            c.Actor,
	})
	o.CurrentStage = to
}

func withDefaults(c Change, decision model.DecisionType) Change {
	if c.Actor == "" {
		c.Actor = ActorSystem
	}
	if c.Decision == "" {
		c.Decision = decision
	}
	return c
}

// committed fans out side effects of newEvents freshly appended promotion
// events. Failures are logged only.
func (m *Machine) committed(ctx context.Context, profileID string, opp *model.Opportunity, newEvents int) {
	if newEvents <= 0 {
		return
	}
	last := opp.PromotionHistory[len(opp.PromotionHistory)-1]
	log := zap.L().With(
		zap.String("profile_id", profileID),
		zap.String("opportunity_id", opp.OpportunityID),
		zap.String("from_stage", string(last.FromStage)),
		zap.String("to_stage", string(last.ToStage)),
	)
	log.Info("funnel: transition committed",
		zap.String("decision", string(last.DecisionType)),
		zap.String("actor", last.Actor),
		zap.Float64("score", last.ScoreAtPromotion),
	)
	m.metrics.RecordTransition(string(last.FromStage), string(last.ToStage), string(last.DecisionType))

	if err := m.publisher.Publish(ctx, events.NewTransitionEvent(profileID, opp)); err != nil {
		log.Warn("funnel: publish transition failed", zap.Error(err))
	}

	if last.ToStage != model.StageTargets || last.FromStage == model.StageTargets {
		return
	}
	for _, n := range m.notifiers {
		if err := n.NotifyTarget(ctx, profileID, opp.Clone()); err != nil {
			log.Warn("funnel: notify failed", zap.Error(err))
		}
	}
}
