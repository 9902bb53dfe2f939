package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"botmaster/internal/domain"
)

type DecisionRepo struct {
	mu        sync.Mutex
	nextID    int64
	decisions map[int64]*domain.Decision
	order     []int64
}

func NewDecisionRepo() *DecisionRepo {
	return &DecisionRepo{
		nextID:    1,
		decisions: make(map[int64]*domain.Decision),
	}
}

func (r *DecisionRepo) Create(_ context.Context, d *domain.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d.ID = r.nextID
	r.nextID++
	d.Outcome = domain.OutcomePending
	d.CreatedAt = time.Now()

	cp := *d
	r.decisions[d.ID] = &cp
	r.order = append(r.order, d.ID)

	return nil
}

func (r *DecisionRepo) UpdateOutcome(_ context.Context, id int64, outcome domain.DecisionOutcome, feedback string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.decisions[id]
	if !ok {
		return fmt.Errorf("decisionRepo.UpdateOutcome: %w", domain.ErrNotFound)
	}

	now := time.Now()
	if d.Outcome == domain.OutcomePending {
		d.Outcome = outcome
		if feedback != "" {
			d.Feedback = feedback
			d.FeedbackAt = &now
		}
		return nil
	}

	if feedback != "" {
		d.Feedback = feedback
		d.FeedbackAt = &now
		return nil
	}

	return fmt.Errorf("decisionRepo.UpdateOutcome: decision %d already settled: %w", id, domain.ErrState)
}

func (r *DecisionRepo) List(_ context.Context, project string, dtype domain.DecisionType, limit int) ([]*domain.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var out []*domain.Decision
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		d := r.decisions[r.order[i]]
		if project != "" && d.Project != project {
			continue
		}
		if dtype != "" && d.Type != dtype {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}

	return out, nil
}
