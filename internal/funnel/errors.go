package funnel

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grant-funnel/internal/model"
)

var (
	// ErrReasonRequired is returned by Demote and SetStage without a reason.
	ErrReasonRequired = eris.New("funnel: reason is required")

	// ErrExists is returned by Create for an id that is already stored.
	ErrExists = eris.New("funnel: opportunity already exists")
)

// TerminalStageError is returned when promoting past OPPORTUNITIES.
type TerminalStageError struct {
	OpportunityID string
}

func (e *TerminalStageError) Error() string {
	return fmt.Sprintf("funnel: opportunity %s is already at %s", e.OpportunityID, model.StageOpportunities)
}

// InitialStageError is returned when demoting below PROSPECTS.
type InitialStageError struct {
	OpportunityID string
}

func (e *InitialStageError) Error() string {
	return fmt.Sprintf("funnel: opportunity %s is already at %s", e.OpportunityID, model.StageProspects)
}

// InvariantError reports a change that would corrupt an opportunity's
// history. It indicates a logic bug and is never retried.
type InvariantError struct {
	OpportunityID string
	Err           error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("funnel: invariant violated for %s: %v", e.OpportunityID, e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }

// IsStateError reports whether err is a stage bound violation, as opposed
// to an invariant or persistence failure.
func IsStateError(err error) bool {
	var te *TerminalStageError
	var ie *InitialStageError
	return errors.As(err, &te) || errors.As(err, &ie)
}
