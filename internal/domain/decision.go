package domain

import (
	"context"
	"time"
)

type DecisionType string

const (
	DecisionToolSelection  DecisionType = "tool_selection"
	DecisionAgentSpawn     DecisionType = "agent_spawn"
	DecisionTaskDelegation DecisionType = "task_delegation"
	DecisionErrorHandling  DecisionType = "error_handling"
	DecisionOther          DecisionType = "other"
)

type DecisionOutcome string

const (
	OutcomePending DecisionOutcome = "pending"
	OutcomeSuccess DecisionOutcome = "success"
	OutcomePartial DecisionOutcome = "partial"
	OutcomeFailed  DecisionOutcome = "failed"
)

// Alternative is one candidate the decision engine considered, with the
// note explaining its acceptance or rejection.
type Alternative struct {
	Agent AgentKind `json:"agent"`
	Note  string    `json:"note"`
}

// Decision records one agent-selection event and its eventual outcome.
// Outcome starts pending and is updated at most once to a terminal value
// when the associated session finishes; it stays pending forever if no
// session ever materializes.
type Decision struct {
	ID           int64
	Project      string
	Type         DecisionType
	Decision     string
	Reasoning    string
	Alternatives []Alternative
	Outcome      DecisionOutcome
	CreatedAt    time.Time
	Feedback     string
	FeedbackAt   *time.Time
}

type DecisionRepository interface {
	// Create inserts a pending decision and assigns its ID.
	Create(ctx context.Context, d *Decision) error
	// UpdateOutcome moves a pending decision to a terminal outcome, with
	// optional operator feedback. Once settled, the outcome never changes
	// again: a later call with non-empty feedback records the feedback only,
	// while one with no feedback returns ErrState.
	UpdateOutcome(ctx context.Context, id int64, outcome DecisionOutcome, feedback string) error
	// List returns decisions newest-first, optionally filtered by project
	// and type.
	List(ctx context.Context, project string, dtype DecisionType, limit int) ([]*Decision, error)
}
