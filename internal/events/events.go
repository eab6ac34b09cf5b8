// Package events publishes committed funnel stage transitions.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/model"
)

// TransitionEvent describes one committed stage change.
type TransitionEvent struct {
	ID               string             `json:"id"`
	ProfileID        string             `json:"profile_id"`
	OpportunityID    string             `json:"opportunity_id"`
	OrganizationName string             `json:"organization_name"`
	FromStage        model.Stage        `json:"from_stage,omitempty"`
	ToStage          model.Stage        `json:"to_stage"`
	DecisionType     model.DecisionType `json:"decision_type"`
	Score            float64            `json:"score"`
	Reason           string             `json:"reason"`
	Actor            string             `json:"actor"`
	OccurredAt       time.Time          `json:"occurred_at"`
}

// NewTransitionEvent builds the event for the last promotion entry of opp.
func NewTransitionEvent(profileID string, opp *model.Opportunity) TransitionEvent {
	ev := TransitionEvent{
		ID:               uuid.NewString(),
		ProfileID:        profileID,
		OpportunityID:    opp.OpportunityID,
		OrganizationName: opp.OrganizationName,
		ToStage:          opp.CurrentStage,
	}
	if n := len(opp.PromotionHistory); n > 0 {
		last := opp.PromotionHistory[n-1]
		ev.FromStage = last.FromStage
		ev.ToStage = last.ToStage
		ev.DecisionType = last.DecisionType
		ev.Score = last.ScoreAtPromotion
		ev.Reason = last.Reason
		ev.Actor = last.Actor
		ev.OccurredAt = last.Timestamp
	}
	return ev
}

// Publisher delivers transition events.
type Publisher interface {
	Publish(ctx context.Context, ev TransitionEvent) error
}

// Noop discards events.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, TransitionEvent) error { return nil }

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSPublisher publishes events as JSON to a subject. The profile id is
// appended to the subject so consumers can filter per profile.
type NATSPublisher struct {
	conn    conn
	subject string
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("grant-funnel"),
		nats.Timeout(2*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			zap.L().Warn("events: nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("events: nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, eris.Wrap(err, "events: connect nats")
	}
	return &NATSPublisher{conn: nc, subject: subject}, nil
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, ev TransitionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: encode")
	}
	if err := p.conn.Publish(p.subject+"."+ev.ProfileID, data); err != nil {
		return eris.Wrap(err, "events: publish")
	}
	return nil
}

// Close closes the connection.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []TransitionEvent
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, ev TransitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []TransitionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TransitionEvent, len(r.events))
	copy(out, r.events)
	return out
}
