package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"botmaster/internal/domain"
)

const sessionColumns = `id, kind, project_path, project_name, status, pid,
	started_at, last_activity_at, completed_at, current_task, exit_code, error_message`

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO agent_sessions (id, kind, project_path, project_name, status, pid,
		        started_at, last_activity_at, completed_at, current_task, exit_code, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.Kind, s.ProjectPath, s.ProjectName, s.Status, s.PID,
		s.StartedAt, s.LastActivityAt, s.CompletedAt, s.CurrentTask, s.ExitCode, s.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Create: %w", err)
	}

	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var s domain.Session

	err := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM agent_sessions WHERE id = $1`, id,
	).Scan(
		&s.ID, &s.Kind, &s.ProjectPath, &s.ProjectName, &s.Status, &s.PID,
		&s.StartedAt, &s.LastActivityAt, &s.CompletedAt, &s.CurrentTask, &s.ExitCode, &s.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", err)
	}

	return &s, nil
}

func (r *SessionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SessionStatus, exitCode *int, errMsg string) error {
	var tag pgconn.CommandTag
	var err error

	if status.Terminal() {
		tag, err = r.pool.Exec(ctx,
			`UPDATE agent_sessions
			 SET status = $1, exit_code = $2, error_message = $3, completed_at = now(), last_activity_at = now()
			 WHERE id = $4`,
			status, exitCode, errMsg, id,
		)
	} else {
		tag, err = r.pool.Exec(ctx,
			`UPDATE agent_sessions SET status = $1, last_activity_at = now() WHERE id = $2`,
			status, id,
		)
	}
	if err != nil {
		return fmt.Errorf("sessionRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sessionRepo.UpdateStatus: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *SessionRepo) SetCurrentTask(ctx context.Context, id uuid.UUID, task string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE agent_sessions SET current_task = $1, last_activity_at = now() WHERE id = $2`,
		task, id,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.SetCurrentTask: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sessionRepo.SetCurrentTask: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *SessionRepo) SetPID(ctx context.Context, id uuid.UUID, pid *int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE agent_sessions SET pid = $1 WHERE id = $2`,
		pid, id,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.SetPID: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sessionRepo.SetPID: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *SessionRepo) AppendOutput(ctx context.Context, id uuid.UUID, chunk string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE agent_sessions
		 SET output_log = output_log || $1, last_activity_at = now()
		 WHERE id = $2`,
		chunk, id,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.AppendOutput: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sessionRepo.AppendOutput: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *SessionRepo) OutputLog(ctx context.Context, id uuid.UUID) (string, error) {
	var out string

	err := r.pool.QueryRow(ctx,
		`SELECT output_log FROM agent_sessions WHERE id = $1`, id,
	).Scan(&out)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("sessionRepo.OutputLog: %w", domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("sessionRepo.OutputLog: %w", err)
	}

	return out, nil
}

func (r *SessionRepo) ListActive(ctx context.Context) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM agent_sessions
		 WHERE status IN ($1, $2)
		 ORDER BY started_at`,
		domain.StatusRunning, domain.StatusWaiting,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.ListActive: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var s domain.Session

		err = rows.Scan(
			&s.ID, &s.Kind, &s.ProjectPath, &s.ProjectName, &s.Status, &s.PID,
			&s.StartedAt, &s.LastActivityAt, &s.CompletedAt, &s.CurrentTask, &s.ExitCode, &s.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("sessionRepo.ListActive: scan: %w", err)
		}
		sessions = append(sessions, &s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionRepo.ListActive: rows: %w", err)
	}

	return sessions, nil
}
