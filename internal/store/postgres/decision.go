package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"botmaster/internal/domain"
)

const decisionColumns = `id, project, decision_type, decision, reasoning,
	alternatives, outcome, created_at, feedback, feedback_at`

type DecisionRepo struct {
	pool *pgxpool.Pool
}

func NewDecisionRepo(pool *pgxpool.Pool) *DecisionRepo {
	return &DecisionRepo{pool: pool}
}

func (r *DecisionRepo) Create(ctx context.Context, d *domain.Decision) error {
	d.Outcome = domain.OutcomePending

	err := r.pool.QueryRow(ctx,
		`INSERT INTO orchestration_decisions (project, decision_type, decision, reasoning, alternatives, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		d.Project, d.Type, d.Decision, d.Reasoning, d.Alternatives, d.Outcome,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("decisionRepo.Create: %w", err)
	}

	return nil
}

func (r *DecisionRepo) UpdateOutcome(ctx context.Context, id int64, outcome domain.DecisionOutcome, feedback string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orchestration_decisions
		 SET outcome = $1,
		     feedback = CASE WHEN $2 <> '' THEN $2 ELSE feedback END,
		     feedback_at = CASE WHEN $2 <> '' THEN now() ELSE feedback_at END
		 WHERE id = $3 AND outcome = $4`,
		outcome, feedback, id, domain.OutcomePending,
	)
	if err != nil {
		return fmt.Errorf("decisionRepo.UpdateOutcome: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Already settled or absent. Feedback is still welcome on a settled
	// decision; outcome changes are not.
	if feedback != "" {
		tag, err = r.pool.Exec(ctx,
			`UPDATE orchestration_decisions SET feedback = $1, feedback_at = now() WHERE id = $2`,
			feedback, id,
		)
		if err != nil {
			return fmt.Errorf("decisionRepo.UpdateOutcome: feedback: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("decisionRepo.UpdateOutcome: %w", domain.ErrNotFound)
		}
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orchestration_decisions WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("decisionRepo.UpdateOutcome: %w", err)
	}
	if !exists {
		return fmt.Errorf("decisionRepo.UpdateOutcome: %w", domain.ErrNotFound)
	}

	return fmt.Errorf("decisionRepo.UpdateOutcome: decision %d already settled: %w", id, domain.ErrState)
}

func (r *DecisionRepo) List(ctx context.Context, project string, dtype domain.DecisionType, limit int) ([]*domain.Decision, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM orchestration_decisions
		 WHERE ($1 = '' OR project = $1)
		   AND ($2 = '' OR decision_type = $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		project, string(dtype), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("decisionRepo.List: %w", err)
	}
	defer rows.Close()

	var decisions []*domain.Decision
	for rows.Next() {
		var d domain.Decision

		err = rows.Scan(
			&d.ID, &d.Project, &d.Type, &d.Decision, &d.Reasoning,
			&d.Alternatives, &d.Outcome, &d.CreatedAt, &d.Feedback, &d.FeedbackAt,
		)
		if err != nil {
			return nil, fmt.Errorf("decisionRepo.List: scan: %w", err)
		}
		decisions = append(decisions, &d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("decisionRepo.List: rows: %w", err)
	}

	return decisions, nil
}
