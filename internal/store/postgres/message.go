package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"botmaster/internal/domain"
)

const messageColumns = `id, from_session, to_session, message_type, body,
	context_data, status, created_at, processed_at, response`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.Status == "" {
		m.Status = domain.MessagePending
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO agent_messages (from_session, to_session, message_type, body, context_data, status, processed_at, response)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		m.FromSession, m.ToSession, m.Type, m.Body, m.Context, m.Status, m.ProcessedAt, m.Response,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("messageRepo.Create: %w", err)
	}

	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	var m domain.Message

	err := r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM agent_messages WHERE id = $1`, id,
	).Scan(
		&m.ID, &m.FromSession, &m.ToSession, &m.Type, &m.Body,
		&m.Context, &m.Status, &m.CreatedAt, &m.ProcessedAt, &m.Response,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("messageRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("messageRepo.GetByID: %w", err)
	}

	return &m, nil
}

// ClaimOldestPending relies on FOR UPDATE SKIP LOCKED so that concurrent
// claimers never race over the same row.
func (r *MessageRepo) ClaimOldestPending(ctx context.Context, to *uuid.UUID) (*domain.Message, error) {
	var m domain.Message

	err := r.pool.QueryRow(ctx,
		`UPDATE agent_messages SET status = $1
		 WHERE id = (
		     SELECT id FROM agent_messages
		     WHERE status = $2 AND ($3::uuid IS NULL OR to_session = $3)
		     ORDER BY created_at, id
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+messageColumns,
		domain.MessageProcessing, domain.MessagePending, to,
	).Scan(
		&m.ID, &m.FromSession, &m.ToSession, &m.Type, &m.Body,
		&m.Context, &m.Status, &m.CreatedAt, &m.ProcessedAt, &m.Response,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("messageRepo.ClaimOldestPending: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ClaimOldestPending: %w", err)
	}

	return &m, nil
}

func (r *MessageRepo) MarkDone(ctx context.Context, id int64, response string) error {
	return r.settle(ctx, "messageRepo.MarkDone", id, domain.MessageDone, response)
}

func (r *MessageRepo) MarkError(ctx context.Context, id int64, errMsg string) error {
	return r.settle(ctx, "messageRepo.MarkError", id, domain.MessageFailed, errMsg)
}

// settle finishes a processing message. A zero-row update means either the
// message does not exist or it is not processing; the follow-up lookup
// distinguishes ErrNotFound from ErrState.
func (r *MessageRepo) settle(ctx context.Context, op string, id int64, status domain.MessageStatus, response string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE agent_messages
		 SET status = $1, response = $2, processed_at = now()
		 WHERE id = $3 AND status = $4`,
		status, response, id, domain.MessageProcessing,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agent_messages WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}

	return fmt.Errorf("%s: message %d not processing: %w", op, id, domain.ErrState)
}

func (r *MessageRepo) ListPending(ctx context.Context) ([]*domain.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM agent_messages
		 WHERE status = $1
		 ORDER BY created_at, id`,
		domain.MessagePending,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListPending: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var m domain.Message

		err = rows.Scan(
			&m.ID, &m.FromSession, &m.ToSession, &m.Type, &m.Body,
			&m.Context, &m.Status, &m.CreatedAt, &m.ProcessedAt, &m.Response,
		)
		if err != nil {
			return nil, fmt.Errorf("messageRepo.ListPending: scan: %w", err)
		}
		messages = append(messages, &m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.ListPending: rows: %w", err)
	}

	return messages, nil
}
