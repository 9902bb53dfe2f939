package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"botmaster/internal/domain"
)

// outputRingCap bounds the in-memory output kept per session for status
// views. The full log is appended to the durable store.
const outputRingCap = 200

// defaultTerminalRetention keeps the status and output buffer of a terminal
// session around long enough for fast-response reads before pruning.
const defaultTerminalRetention = 2 * time.Minute

// TerminalHook is invoked after a session reaches a terminal status.
type TerminalHook func(s *domain.Session)

type activeKey struct {
	project string
	kind    domain.AgentKind
}

// Registry is the single source of truth for what is running and in which
// state. It enforces the session state machine and the one-active-session
// per (project, kind) invariant; rows are persisted through the session
// repository but the active index lives here.
type Registry struct {
	repo domain.SessionRepository

	retention time.Duration

	mu     sync.Mutex
	active map[activeKey]uuid.UUID
	status map[uuid.UUID]domain.SessionStatus
	rings  map[uuid.UUID][]string

	onTerminal TerminalHook
}

// RegistryOption configures optional Registry parameters.
type RegistryOption func(*Registry)

// WithTerminalRetention sets how long terminal sessions keep their in-memory
// status and output buffer before being pruned.
func WithTerminalRetention(d time.Duration) RegistryOption {
	return func(r *Registry) { r.retention = d }
}

func NewRegistry(repo domain.SessionRepository, opts ...RegistryOption) *Registry {
	r := &Registry{
		repo:      repo,
		retention: defaultTerminalRetention,
		active:    make(map[activeKey]uuid.UUID),
		status:    make(map[uuid.UUID]domain.SessionStatus),
		rings:     make(map[uuid.UUID][]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnTerminal registers a hook fired once per session when it reaches a
// terminal status. Must be set before sessions are created.
func (r *Registry) OnTerminal(hook TerminalHook) {
	r.onTerminal = hook
}

// Load seeds the active index from sessions persisted as running/waiting,
// e.g. after a restart. Their processes are gone, so they are transitioned
// to crashed.
func (r *Registry) Load(ctx context.Context) error {
	sessions, err := r.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("agent.Registry.Load: %w", err)
	}

	for _, s := range sessions {
		r.mu.Lock()
		r.status[s.ID] = s.Status
		r.active[activeKey{project: s.ProjectName, kind: s.Kind}] = s.ID
		r.mu.Unlock()

		err = r.Transition(ctx, s.ID, domain.StatusCrashed, nil, "orchestrator restarted while session was active")
		if err != nil {
			log.Error().Err(err).Str("session_id", s.ID.String()).Msg("agent.Registry.Load: failed to crash orphaned session")
		}
	}

	return nil
}

// Create registers a new session in the running state. It fails with
// domain.ErrConflict if an active session already exists for the
// (project, kind) pair.
func (r *Registry) Create(ctx context.Context, kind domain.AgentKind, projectPath, projectName, task string) (*domain.Session, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("agent.Registry.Create: agent kind %q: %w", kind, domain.ErrNotFound)
	}

	key := activeKey{project: projectName, kind: kind}
	now := time.Now()
	s := &domain.Session{
		ID:             uuid.New(),
		Kind:           kind,
		ProjectPath:    projectPath,
		ProjectName:    projectName,
		Status:         domain.StatusRunning,
		StartedAt:      now,
		LastActivityAt: now,
		CurrentTask:    task,
	}

	r.mu.Lock()
	if existing, ok := r.active[key]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("agent.Registry.Create: session %s already active for (%s, %s): %w",
			existing, projectName, kind, domain.ErrConflict)
	}
	r.active[key] = s.ID
	r.status[s.ID] = domain.StatusRunning
	r.mu.Unlock()

	err := r.repo.Create(ctx, s)
	if err != nil {
		r.mu.Lock()
		delete(r.active, key)
		delete(r.status, s.ID)
		r.mu.Unlock()
		return nil, fmt.Errorf("agent.Registry.Create: %w", err)
	}

	return s, nil
}

// ActiveSession returns the live session ID for a (project, kind) pair.
func (r *Registry) ActiveSession(projectName string, kind domain.AgentKind) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.active[activeKey{project: projectName, kind: kind}]
	return id, ok
}

// Transition moves a session along a state-machine edge. Illegal edges fail
// with domain.ErrInvalidTransition and leave the session untouched.
func (r *Registry) Transition(ctx context.Context, id uuid.UUID, to domain.SessionStatus, exitCode *int, errMsg string) error {
	r.mu.Lock()
	cur, ok := r.status[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("agent.Registry.Transition: session %s: %w", id, domain.ErrNotFound)
	}
	if !cur.ValidTransition(to) {
		r.mu.Unlock()
		return fmt.Errorf("agent.Registry.Transition: %s -> %s: %w", cur, to, domain.ErrInvalidTransition)
	}
	r.status[id] = to
	r.mu.Unlock()

	err := r.repo.UpdateStatus(ctx, id, to, exitCode, errMsg)
	if err != nil {
		return fmt.Errorf("agent.Registry.Transition: %w", err)
	}

	if to.Terminal() {
		r.retire(ctx, id)
	}

	return nil
}

// retire drops the session from the active index and fires the terminal
// hook with a fresh snapshot.
func (r *Registry) retire(ctx context.Context, id uuid.UUID) {
	s, err := r.repo.GetByID(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("session_id", id.String()).Msg("agent.Registry: failed to load terminal session")
	}

	r.mu.Lock()
	if s != nil {
		delete(r.active, activeKey{project: s.ProjectName, kind: s.Kind})
	} else {
		for key, active := range r.active {
			if active == id {
				delete(r.active, key)
				break
			}
		}
	}
	hook := r.onTerminal
	r.mu.Unlock()

	// The status and output buffer stay readable for a while after the
	// session ends, then get pruned; the durable record remains.
	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		delete(r.status, id)
		delete(r.rings, id)
		r.mu.Unlock()
	})

	if hook != nil && s != nil {
		hook(s)
	}
}

// Status returns the in-memory status for a session.
func (r *Registry) Status(id uuid.UUID) (domain.SessionStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.status[id]
	return st, ok
}

// AppendOutput appends an output chunk to the session's log and refreshes
// last-activity. Append-only; the in-memory ring is capped, the durable log
// is not.
func (r *Registry) AppendOutput(ctx context.Context, id uuid.UUID, chunk string) error {
	r.mu.Lock()
	ring := append(r.rings[id], chunk)
	if len(ring) > outputRingCap {
		ring = ring[len(ring)-outputRingCap:]
	}
	r.rings[id] = ring
	r.mu.Unlock()

	err := r.repo.AppendOutput(ctx, id, chunk)
	if err != nil {
		return fmt.Errorf("agent.Registry.AppendOutput: %w", err)
	}

	return nil
}

// RecentOutput returns up to n of the most recent buffered output lines.
func (r *Registry) RecentOutput(id uuid.UUID, n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ring := r.rings[id]
	if n > 0 && len(ring) > n {
		ring = ring[len(ring)-n:]
	}
	return strings.Join(ring, "")
}

// SetPID records the native process ID for a session.
func (r *Registry) SetPID(ctx context.Context, id uuid.UUID, pid *int) error {
	err := r.repo.SetPID(ctx, id, pid)
	if err != nil {
		return fmt.Errorf("agent.Registry.SetPID: %w", err)
	}
	return nil
}

// Get returns the persisted session.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	s, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("agent.Registry.Get: %w", err)
	}
	return s, nil
}

// ListActive returns a read-consistent snapshot of running/waiting sessions
// ordered by start time.
func (r *Registry) ListActive(ctx context.Context) ([]*domain.Session, error) {
	sessions, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent.Registry.ListActive: %w", err)
	}
	return sessions, nil
}
