package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"botmaster/internal/domain"
)

type MessageRepo struct {
	mu       sync.Mutex
	nextID   int64
	messages map[int64]*domain.Message
	order    []int64
}

func NewMessageRepo() *MessageRepo {
	return &MessageRepo{
		nextID:   1,
		messages: make(map[int64]*domain.Message),
	}
}

func (r *MessageRepo) Create(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m.ID = r.nextID
	r.nextID++
	if m.Status == "" {
		m.Status = domain.MessagePending
	}
	m.CreatedAt = time.Now()

	cp := *m
	r.messages[m.ID] = &cp
	r.order = append(r.order, m.ID)

	return nil
}

func (r *MessageRepo) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return nil, fmt.Errorf("messageRepo.GetByID: %w", domain.ErrNotFound)
	}

	cp := *m
	return &cp, nil
}

func (r *MessageRepo) ClaimOldestPending(_ context.Context, to *uuid.UUID) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		m := r.messages[id]
		if m.Status != domain.MessagePending {
			continue
		}
		if to != nil && (m.ToSession == nil || *m.ToSession != *to) {
			continue
		}

		m.Status = domain.MessageProcessing
		cp := *m
		return &cp, nil
	}

	return nil, fmt.Errorf("messageRepo.ClaimOldestPending: %w", domain.ErrNotFound)
}

func (r *MessageRepo) MarkDone(_ context.Context, id int64, response string) error {
	return r.settle("messageRepo.MarkDone", id, domain.MessageDone, response)
}

func (r *MessageRepo) MarkError(_ context.Context, id int64, errMsg string) error {
	return r.settle("messageRepo.MarkError", id, domain.MessageFailed, errMsg)
}

func (r *MessageRepo) settle(op string, id int64, status domain.MessageStatus, response string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if m.Status != domain.MessageProcessing {
		return fmt.Errorf("%s: message %d not processing: %w", op, id, domain.ErrState)
	}

	now := time.Now()
	m.Status = status
	m.Response = response
	m.ProcessedAt = &now

	return nil
}

func (r *MessageRepo) ListPending(_ context.Context) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*domain.Message
	for _, id := range r.order {
		m := r.messages[id]
		if m.Status != domain.MessagePending {
			continue
		}
		cp := *m
		pending = append(pending, &cp)
	}

	return pending, nil
}
