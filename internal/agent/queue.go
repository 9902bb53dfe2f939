package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"botmaster/internal/domain"
)

// Queue is the ordered, durable message queue carrying cross-agent and
// operator-originated instructions. Claims are serialized through an
// in-process mutex on top of the repository's conditional updates, so no
// two callers ever observe the same message as claimable.
type Queue struct {
	repo domain.MessageRepository
	mu   sync.Mutex
}

func NewQueue(repo domain.MessageRepository) *Queue {
	return &Queue{repo: repo}
}

// Enqueue creates a pending message. It always succeeds unless the store
// itself fails.
func (q *Queue) Enqueue(ctx context.Context, from, to *uuid.UUID, typ domain.MessageType, body string, msgCtx map[string]any) (*domain.Message, error) {
	m := &domain.Message{
		FromSession: from,
		ToSession:   to,
		Type:        typ,
		Body:        body,
		Context:     msgCtx,
		Status:      domain.MessagePending,
		CreatedAt:   time.Now(),
	}

	err := q.repo.Create(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("agent.Queue.Enqueue: %w", err)
	}

	return m, nil
}

// EnqueueDelivered records a message that was already handed to its
// recipient out of band, e.g. a task passed to a process at spawn. The
// message is created in the done state so the dispatcher never claims it.
func (q *Queue) EnqueueDelivered(ctx context.Context, from, to *uuid.UUID, typ domain.MessageType, body string, msgCtx map[string]any, response string) (*domain.Message, error) {
	now := time.Now()
	m := &domain.Message{
		FromSession: from,
		ToSession:   to,
		Type:        typ,
		Body:        body,
		Context:     msgCtx,
		Status:      domain.MessageDone,
		CreatedAt:   now,
		ProcessedAt: &now,
		Response:    response,
	}

	err := q.repo.Create(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("agent.Queue.EnqueueDelivered: %w", err)
	}

	return m, nil
}

// ClaimNext atomically transitions the oldest eligible pending message to
// processing and returns it. A non-nil to restricts the claim to messages
// addressed to that session; nil claims the oldest pending message
// regardless of recipient. Returns (nil, nil) when nothing is claimable.
func (q *Queue) ClaimNext(ctx context.Context, to *uuid.UUID) (*domain.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.repo.ClaimOldestPending(ctx, to)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agent.Queue.ClaimNext: %w", err)
	}

	return m, nil
}

// Complete transitions processing -> done and records the response.
func (q *Queue) Complete(ctx context.Context, id int64, response string) error {
	err := q.repo.MarkDone(ctx, id, response)
	if err != nil {
		return fmt.Errorf("agent.Queue.Complete: %w", err)
	}
	return nil
}

// Fail transitions processing -> error with the delivery error recorded.
func (q *Queue) Fail(ctx context.Context, id int64, errMsg string) error {
	err := q.repo.MarkError(ctx, id, errMsg)
	if err != nil {
		return fmt.Errorf("agent.Queue.Fail: %w", err)
	}
	return nil
}

// ListPending returns the pending backlog ordered by age, for health and
// status reporting. Read-only.
func (q *Queue) ListPending(ctx context.Context) ([]*domain.Message, error) {
	msgs, err := q.repo.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent.Queue.ListPending: %w", err)
	}
	return msgs, nil
}
