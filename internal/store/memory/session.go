package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"botmaster/internal/domain"
)

type SessionRepo struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*domain.Session
	output   map[uuid.UUID]*strings.Builder
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{
		sessions: make(map[uuid.UUID]*domain.Session),
		output:   make(map[uuid.UUID]*strings.Builder),
	}
}

func (r *SessionRepo) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("sessionRepo.Create: id %s: %w", s.ID, domain.ErrConflict)
	}

	cp := *s
	r.sessions[s.ID] = &cp
	r.output[s.ID] = &strings.Builder{}

	return nil
}

func (r *SessionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", domain.ErrNotFound)
	}

	cp := *s
	return &cp, nil
}

func (r *SessionRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.SessionStatus, exitCode *int, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("sessionRepo.UpdateStatus: %w", domain.ErrNotFound)
	}

	now := time.Now()
	s.Status = status
	s.LastActivityAt = now
	if status.Terminal() {
		s.ExitCode = exitCode
		s.ErrorMessage = errMsg
		s.CompletedAt = &now
	}

	return nil
}

func (r *SessionRepo) SetCurrentTask(_ context.Context, id uuid.UUID, task string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("sessionRepo.SetCurrentTask: %w", domain.ErrNotFound)
	}

	s.CurrentTask = task
	s.LastActivityAt = time.Now()

	return nil
}

func (r *SessionRepo) SetPID(_ context.Context, id uuid.UUID, pid *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("sessionRepo.SetPID: %w", domain.ErrNotFound)
	}

	s.PID = pid

	return nil
}

func (r *SessionRepo) AppendOutput(_ context.Context, id uuid.UUID, chunk string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("sessionRepo.AppendOutput: %w", domain.ErrNotFound)
	}

	r.output[id].WriteString(chunk)
	s.LastActivityAt = time.Now()

	return nil
}

func (r *SessionRepo) OutputLog(_ context.Context, id uuid.UUID) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.output[id]
	if !ok {
		return "", fmt.Errorf("sessionRepo.OutputLog: %w", domain.ErrNotFound)
	}

	return b.String(), nil
}

func (r *SessionRepo) ListActive(_ context.Context) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []*domain.Session
	for _, s := range r.sessions {
		if !s.Active() {
			continue
		}
		cp := *s
		sessions = append(sessions, &cp)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})

	return sessions, nil
}
