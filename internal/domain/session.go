package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AgentKind identifies one of the supported external CLI agent
// implementations. The set is closed; dispatch over it is exhaustive.
type AgentKind string

const (
	KindClaudeFlow   AgentKind = "claude-flow"
	KindGemini       AgentKind = "gemini"
	KindCursorAgent  AgentKind = "cursor-agent"
	KindNestedClaude AgentKind = "nested-claude"
)

// AgentKinds returns all agent kinds in fixed priority order. The decision
// engine uses this ordering to break ties; it is part of the contract and
// must stay stable.
func AgentKinds() []AgentKind {
	return []AgentKind{KindClaudeFlow, KindGemini, KindCursorAgent, KindNestedClaude}
}

// Valid reports whether k is a member of the closed agent kind set.
func (k AgentKind) Valid() bool {
	switch k {
	case KindClaudeFlow, KindGemini, KindCursorAgent, KindNestedClaude:
		return true
	default:
		return false
	}
}

type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusWaiting   SessionStatus = "waiting"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCrashed   SessionStatus = "crashed"
)

// Terminal reports whether no further transitions may leave s.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCrashed
}

// ValidTransition checks if a session state transition is allowed.
// Allowed: running->{waiting,completed,failed,crashed},
// waiting->{running,completed,failed,crashed}. Terminal states are final.
func (s SessionStatus) ValidTransition(to SessionStatus) bool {
	switch s {
	case StatusRunning:
		return to == StatusWaiting || to.Terminal()
	case StatusWaiting:
		return to == StatusRunning || to.Terminal()
	default:
		return false
	}
}

// Session is one spawned agent process. Rows are never deleted; sessions
// only transition to a terminal status and are retained for audit.
type Session struct {
	ID             uuid.UUID
	Kind           AgentKind
	ProjectPath    string
	ProjectName    string
	Status         SessionStatus
	PID            *int
	StartedAt      time.Time
	LastActivityAt time.Time
	CompletedAt    *time.Time
	CurrentTask    string
	ExitCode       *int
	ErrorMessage   string
}

// Active reports whether the session counts against the one-active-session
// per (project, kind) invariant.
func (s *Session) Active() bool {
	return s.Status == StatusRunning || s.Status == StatusWaiting
}

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	// UpdateStatus persists a status change. When status is terminal it also
	// records completed_at, exit code and error message. Edge validity is
	// enforced by the registry, not the store.
	UpdateStatus(ctx context.Context, id uuid.UUID, status SessionStatus, exitCode *int, errMsg string) error
	SetCurrentTask(ctx context.Context, id uuid.UUID, task string) error
	SetPID(ctx context.Context, id uuid.UUID, pid *int) error
	// AppendOutput appends a chunk to the session's output log and refreshes
	// last_activity. Append-only; must not fail on log size.
	AppendOutput(ctx context.Context, id uuid.UUID, chunk string) error
	OutputLog(ctx context.Context, id uuid.UUID) (string, error)
	// ListActive returns running/waiting sessions ordered by start time,
	// reflecting a single snapshot.
	ListActive(ctx context.Context) ([]*Session, error)
}
