package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageRequest      MessageType = "request"
	MessageResponse     MessageType = "response"
	MessageNotification MessageType = "notification"
	MessageError        MessageType = "error"
)

type MessageStatus string

const (
	MessagePending    MessageStatus = "pending"
	MessageProcessing MessageStatus = "processing"
	MessageDone       MessageStatus = "done"
	MessageFailed     MessageStatus = "error"
)

// Message is one unit of cross-agent or operator communication. A nil
// FromSession means operator/system origin; a nil ToSession means broadcast
// or operator-bound. Messages outlive the sessions that produced them.
type Message struct {
	ID          int64
	FromSession *uuid.UUID
	ToSession   *uuid.UUID
	Type        MessageType
	Body        string
	Context     map[string]any
	Status      MessageStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
	Response    string
}

type MessageRepository interface {
	// Create inserts a message and assigns its ID. An unset status defaults
	// to pending; a pre-set status (e.g. done for messages delivered out of
	// band) is preserved.
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	// ClaimOldestPending atomically transitions the oldest pending message
	// (optionally filtered by recipient) to processing and returns it.
	// Returns ErrNotFound when no message is claimable. No two callers may
	// claim the same message.
	ClaimOldestPending(ctx context.Context, to *uuid.UUID) (*Message, error)
	// MarkDone transitions processing -> done and records the response.
	// Returns ErrState if the message is not processing.
	MarkDone(ctx context.Context, id int64, response string) error
	// MarkError transitions processing -> error. Returns ErrState if the
	// message is not processing.
	MarkError(ctx context.Context, id int64, errMsg string) error
	// ListPending returns pending messages ordered by age (oldest first),
	// reflecting current persisted state.
	ListPending(ctx context.Context) ([]*Message, error)
}
