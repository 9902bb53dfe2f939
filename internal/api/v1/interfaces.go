package v1

import (
	"context"

	"github.com/google/uuid"

	"botmaster/internal/agent"
	"botmaster/internal/domain"
)

// DataStore is the persistence surface the API reads from. Both the
// postgres and in-memory stores satisfy it.
type DataStore interface {
	Sessions() domain.SessionRepository
	Messages() domain.MessageRepository
	Decisions() domain.DecisionRepository
}

// AgentOrchestrator is the subset of the orchestrator the API drives.
type AgentOrchestrator interface {
	ProcessRequest(ctx context.Context, text, projectHint string) (*agent.Result, error)
	SendTo(ctx context.Context, id uuid.UUID, text string) (*domain.Message, error)
	Stop(ctx context.Context, id uuid.UUID) error
	GetStatus(ctx context.Context) (*agent.Status, error)
	Feedback(ctx context.Context, decisionID int64, outcome domain.DecisionOutcome, feedback string) error
	Session(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	SessionOutput(ctx context.Context, id uuid.UUID) (string, error)
}
