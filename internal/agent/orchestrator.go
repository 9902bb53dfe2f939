package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"botmaster/internal/domain"
)

// Pusher delivers asynchronous notifications to the operator's chat
// front-end.
type Pusher interface {
	Push(ctx context.Context, text string) error
}

// PubSubPublisher abstracts the pub/sub publish operation used for
// session lifecycle events.
type PubSubPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ContextLookup is the optional semantic-memory collaborator. It may be
// unavailable; failures never affect orchestration correctness.
type ContextLookup interface {
	RelevantContext(ctx context.Context, query string, limit int) ([]string, error)
	RecordOutcome(ctx context.Context, project, decision, outcome string) error
}

// Result is the outcome of a processed request.
type Result struct {
	SessionID uuid.UUID
	Agent     domain.AgentKind
	Reasoning string
	// Reused means an active session for the (project, agent) pair already
	// existed and the task was enqueued to it instead of spawning.
	Reused    bool
	MessageID int64
	// Completed is set for fast request/response agents whose result was
	// awaited synchronously.
	Completed bool
	ExitCode  *int
	Output    string
}

// Status aggregates read-only views from the three subsystems.
type Status struct {
	ActiveSessions  []*domain.Session
	PendingMessages []*domain.Message
	RecentDecisions []*domain.Decision
}

// Orchestrator composes the decision engine, session registry, process
// spawner and message queue. It is the single writer for all three record
// kinds.
type Orchestrator struct {
	engine    *DecisionEngine
	registry  *Registry
	spawner   *Spawner
	queue     *Queue
	decisions domain.DecisionRepository

	memory ContextLookup   // optional
	pusher Pusher          // optional
	pubsub PubSubPublisher // optional

	// projects maps discovered project keys to their paths.
	projects map[string]string

	fastWait     time.Duration
	pollInterval time.Duration

	mu               sync.Mutex
	sessionDecisions map[uuid.UUID]int64
}

// OrchestratorOption configures optional collaborators.
type OrchestratorOption func(*Orchestrator)

// WithMemory attaches the semantic-memory client.
func WithMemory(m ContextLookup) OrchestratorOption {
	return func(o *Orchestrator) { o.memory = m }
}

// WithPusher attaches the operator notification path.
func WithPusher(p Pusher) OrchestratorOption {
	return func(o *Orchestrator) { o.pusher = p }
}

// WithPubSub attaches the session event publisher.
func WithPubSub(p PubSubPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.pubsub = p }
}

// WithProjects sets the discovered project key -> path table.
func WithProjects(projects map[string]string) OrchestratorOption {
	return func(o *Orchestrator) { o.projects = projects }
}

// WithFastWait bounds the synchronous wait for fast agents.
func WithFastWait(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.fastWait = d }
}

func NewOrchestrator(
	engine *DecisionEngine,
	registry *Registry,
	spawner *Spawner,
	queue *Queue,
	decisions domain.DecisionRepository,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		engine:           engine,
		registry:         registry,
		spawner:          spawner,
		queue:            queue,
		decisions:        decisions,
		projects:         map[string]string{},
		fastWait:         30 * time.Second,
		pollInterval:     250 * time.Millisecond,
		sessionDecisions: make(map[uuid.UUID]int64),
	}
	for _, opt := range opts {
		opt(o)
	}

	registry.OnTerminal(o.handleTerminal)

	return o
}

// ProcessRequest classifies an inbound task, logs the decision, and either
// spawns a new session or routes the task to an already-active one. Fast
// agents are awaited synchronously (bounded); long-running agents return
// immediately with a session handle.
func (o *Orchestrator) ProcessRequest(ctx context.Context, text, projectHint string) (*Result, error) {
	projectName, projectPath := o.resolveProject(projectHint)

	pctx := ProjectContext{Name: projectName, Path: projectPath}
	if o.memory != nil {
		snippets, err := o.memory.RelevantContext(ctx, text, 3)
		if err != nil {
			log.Warn().Err(err).Msg("orchestrator: memory lookup degraded")
		}
		pctx.RecentHistory = snippets
	}

	sel := o.engine.Select(text, pctx)

	decision := &domain.Decision{
		Project:      projectName,
		Type:         domain.DecisionAgentSpawn,
		Decision:     fmt.Sprintf("allocate %s for: %s", sel.Agent, truncate(text, 60)),
		Reasoning:    sel.Reasoning,
		Alternatives: sel.Alternatives,
		Outcome:      domain.OutcomePending,
		CreatedAt:    time.Now(),
	}
	if err := o.decisions.Create(ctx, decision); err != nil {
		log.Error().Err(err).Msg("orchestrator: failed to log decision")
	}

	// Idempotency on the one-active-session invariant: a second request for
	// an active (project, agent) pair becomes a message to that session.
	if id, ok := o.registry.ActiveSession(projectName, sel.Agent); ok {
		return o.routeToExisting(ctx, id, text, sel)
	}

	session, err := o.registry.Create(ctx, sel.Agent, projectPath, projectName, text)
	if errors.Is(err, domain.ErrConflict) {
		id, ok := o.registry.ActiveSession(projectName, sel.Agent)
		if ok {
			return o.routeToExisting(ctx, id, text, sel)
		}
		return nil, fmt.Errorf("agent.Orchestrator.ProcessRequest: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("agent.Orchestrator.ProcessRequest: %w", err)
	}

	o.mu.Lock()
	o.sessionDecisions[session.ID] = decision.ID
	o.mu.Unlock()

	err = o.spawner.Spawn(ctx, session, text)
	if err != nil {
		o.updateDecisionOutcome(ctx, decision.ID, domain.OutcomeFailed)
		return nil, fmt.Errorf("agent.Orchestrator.ProcessRequest: %w", err)
	}

	// Record the task as a message to the session. It was delivered as the
	// process's primary input, so the message is created already settled and
	// never enters the dispatcher's pending pool.
	msg, msgErr := o.queue.EnqueueDelivered(ctx, nil, &session.ID, domain.MessageRequest, text, map[string]any{
		"agent":   string(sel.Agent),
		"project": projectName,
	}, "delivered at spawn")
	if msgErr != nil {
		log.Error().Err(msgErr).Str("session_id", session.ID.String()).Msg("orchestrator: failed to record task message")
	}

	result := &Result{
		SessionID: session.ID,
		Agent:     sel.Agent,
		Reasoning: sel.Reasoning,
	}
	if msg != nil {
		result.MessageID = msg.ID
	}

	strategy, ok := o.spawner.strategies[sel.Agent]
	if ok && strategy.Fast {
		o.awaitFast(ctx, session.ID, result)
	}

	return result, nil
}

// routeToExisting enqueues the task for the already-active session instead
// of spawning a duplicate process.
func (o *Orchestrator) routeToExisting(ctx context.Context, id uuid.UUID, text string, sel Selection) (*Result, error) {
	msg, err := o.queue.Enqueue(ctx, nil, &id, domain.MessageRequest, text, nil)
	if err != nil {
		return nil, fmt.Errorf("agent.Orchestrator.ProcessRequest: route to active session: %w", err)
	}

	return &Result{
		SessionID: id,
		Agent:     sel.Agent,
		Reasoning: sel.Reasoning,
		Reused:    true,
		MessageID: msg.ID,
	}, nil
}

// awaitFast polls for the session's terminal status up to the fast-wait
// bound and fills the result with the captured output.
func (o *Orchestrator) awaitFast(ctx context.Context, id uuid.UUID, result *Result) {
	deadline := time.After(o.fastWait)
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
			st, ok := o.registry.Status(id)
			if !ok || !st.Terminal() {
				continue
			}

			result.Completed = true
			result.Output = o.registry.RecentOutput(id, 50)
			if s, err := o.registry.Get(ctx, id); err == nil {
				result.ExitCode = s.ExitCode
			}
			return
		}
	}
}

// SendTo enqueues operator text for an existing session. The target must
// exist; delivery happens through the dispatcher.
func (o *Orchestrator) SendTo(ctx context.Context, id uuid.UUID, text string) (*domain.Message, error) {
	_, err := o.registry.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("agent.Orchestrator.SendTo: %w", err)
	}

	msg, err := o.queue.Enqueue(ctx, nil, &id, domain.MessageRequest, text, nil)
	if err != nil {
		return nil, fmt.Errorf("agent.Orchestrator.SendTo: %w", err)
	}

	return msg, nil
}

// Stop requests termination of the session's process: graceful signal,
// forced kill after the grace period. Orphaned active sessions without a
// live process are failed directly.
func (o *Orchestrator) Stop(ctx context.Context, id uuid.UUID) error {
	err := o.spawner.Stop(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("agent.Orchestrator.Stop: %w", err)
	}

	st, ok := o.registry.Status(id)
	if ok && !st.Terminal() {
		trErr := o.registry.Transition(ctx, id, domain.StatusFailed, nil, "stopped by operator (no live process)")
		if trErr != nil {
			return fmt.Errorf("agent.Orchestrator.Stop: %w", trErr)
		}
		return nil
	}

	return fmt.Errorf("agent.Orchestrator.Stop: %w", err)
}

// GetStatus aggregates read-only views; it mutates nothing.
func (o *Orchestrator) GetStatus(ctx context.Context) (*Status, error) {
	sessions, err := o.registry.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent.Orchestrator.GetStatus: %w", err)
	}

	pending, err := o.queue.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent.Orchestrator.GetStatus: %w", err)
	}

	decisions, err := o.decisions.List(ctx, "", "", 10)
	if err != nil {
		return nil, fmt.Errorf("agent.Orchestrator.GetStatus: %w", err)
	}

	return &Status{
		ActiveSessions:  sessions,
		PendingMessages: pending,
		RecentDecisions: decisions,
	}, nil
}

// Feedback records operator feedback on a decision, optionally overriding
// its outcome (e.g. marking a technically-successful run partial).
func (o *Orchestrator) Feedback(ctx context.Context, decisionID int64, outcome domain.DecisionOutcome, feedback string) error {
	err := o.decisions.UpdateOutcome(ctx, decisionID, outcome, feedback)
	if err != nil {
		return fmt.Errorf("agent.Orchestrator.Feedback: %w", err)
	}
	return nil
}

// Session returns the persisted session record.
func (o *Orchestrator) Session(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	s, err := o.registry.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("agent.Orchestrator.Session: %w", err)
	}
	return s, nil
}

// SessionOutput returns the full persisted output log for a session.
func (o *Orchestrator) SessionOutput(ctx context.Context, id uuid.UUID) (string, error) {
	out, err := o.registry.repo.OutputLog(ctx, id)
	if err != nil {
		return "", fmt.Errorf("agent.Orchestrator.SessionOutput: %w", err)
	}
	return out, nil
}

// RunDispatcher delivers claimed messages until the context is cancelled:
// operator-bound messages go out through the push path, session-bound
// messages to the target process's stdin. It is the queue's only claimer
// in normal operation.
func (o *Orchestrator) RunDispatcher(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.drainQueue(ctx)
		}
	}
}

func (o *Orchestrator) drainQueue(ctx context.Context) {
	for {
		msg, err := o.queue.ClaimNext(ctx, nil)
		if err != nil {
			log.Error().Err(err).Msg("orchestrator: claim next message")
			return
		}
		if msg == nil {
			return
		}

		o.deliver(ctx, msg)
	}
}

// deliver routes one claimed message. Delivery failures mark the message
// error and are surfaced to the operator; the session is untouched.
func (o *Orchestrator) deliver(ctx context.Context, msg *domain.Message) {
	if msg.ToSession == nil {
		o.deliverToOperator(ctx, msg)
		return
	}

	err := o.spawner.SendInput(ctx, *msg.ToSession, msg.Body)
	if err != nil {
		log.Warn().Err(err).Int64("message_id", msg.ID).Msg("orchestrator: delivery failed")
		if failErr := o.queue.Fail(ctx, msg.ID, err.Error()); failErr != nil {
			log.Error().Err(failErr).Int64("message_id", msg.ID).Msg("orchestrator: mark message error")
		}
		o.push(ctx, fmt.Sprintf("message %d to session %s could not be delivered: %v", msg.ID, msg.ToSession, err))
		return
	}

	if doneErr := o.queue.Complete(ctx, msg.ID, "delivered to session stdin"); doneErr != nil {
		log.Error().Err(doneErr).Int64("message_id", msg.ID).Msg("orchestrator: mark message done")
	}
}

func (o *Orchestrator) deliverToOperator(ctx context.Context, msg *domain.Message) {
	if o.pusher == nil {
		if failErr := o.queue.Fail(ctx, msg.ID, "no operator front-end configured"); failErr != nil {
			log.Error().Err(failErr).Int64("message_id", msg.ID).Msg("orchestrator: mark message error")
		}
		return
	}

	err := o.pusher.Push(ctx, msg.Body)
	if err != nil {
		if failErr := o.queue.Fail(ctx, msg.ID, err.Error()); failErr != nil {
			log.Error().Err(failErr).Int64("message_id", msg.ID).Msg("orchestrator: mark message error")
		}
		return
	}

	if doneErr := o.queue.Complete(ctx, msg.ID, "pushed to operator"); doneErr != nil {
		log.Error().Err(doneErr).Int64("message_id", msg.ID).Msg("orchestrator: mark message done")
	}
}

// handleTerminal runs once per session when it reaches a terminal status:
// it settles the associated decision, notifies the operator, records the
// outcome in semantic memory and publishes a lifecycle event.
func (o *Orchestrator) handleTerminal(s *domain.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	o.mu.Lock()
	decisionID, ok := o.sessionDecisions[s.ID]
	delete(o.sessionDecisions, s.ID)
	o.mu.Unlock()

	outcome := domain.OutcomeFailed
	if s.Status == domain.StatusCompleted {
		outcome = domain.OutcomeSuccess
	}

	if ok {
		o.updateDecisionOutcome(ctx, decisionID, outcome)
	}

	if o.memory != nil {
		err := o.memory.RecordOutcome(ctx, s.ProjectName, truncate(s.CurrentTask, 120), string(outcome))
		if err != nil {
			log.Warn().Err(err).Msg("orchestrator: memory outcome record degraded")
		}
	}

	o.push(ctx, terminalNotice(s))
	o.publishEvent(ctx, s)
}

func (o *Orchestrator) updateDecisionOutcome(ctx context.Context, id int64, outcome domain.DecisionOutcome) {
	err := o.decisions.UpdateOutcome(ctx, id, outcome, "")
	if err != nil && !errors.Is(err, domain.ErrState) {
		log.Error().Err(err).Int64("decision_id", id).Msg("orchestrator: update decision outcome")
	}
}

func (o *Orchestrator) push(ctx context.Context, text string) {
	if o.pusher == nil {
		return
	}
	if err := o.pusher.Push(ctx, text); err != nil {
		log.Error().Err(err).Msg("orchestrator: push notification")
	}
}

func (o *Orchestrator) publishEvent(ctx context.Context, s *domain.Session) {
	if o.pubsub == nil {
		return
	}

	evt := map[string]string{
		"type":       "session_" + string(s.Status),
		"session_id": s.ID.String(),
		"project":    s.ProjectName,
		"agent":      string(s.Kind),
		"error":      s.ErrorMessage,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	for _, channel := range []string{"session:" + s.ID.String(), "events"} {
		if pubErr := o.pubsub.Publish(ctx, channel, payload); pubErr != nil {
			log.Error().Err(pubErr).Str("channel", channel).Msg("orchestrator: publish event")
		}
	}
}

// terminalNotice renders the operator-facing summary for a finished
// session. Failures always include the agent kind, project and captured
// error text.
func terminalNotice(s *domain.Session) string {
	switch s.Status {
	case domain.StatusCompleted:
		return fmt.Sprintf("%s session %s for project %s completed", s.Kind, shortID(s.ID), s.ProjectName)
	case domain.StatusCrashed:
		return fmt.Sprintf("%s session %s for project %s crashed: %s", s.Kind, shortID(s.ID), s.ProjectName, s.ErrorMessage)
	default:
		return fmt.Sprintf("%s session %s for project %s failed: %s", s.Kind, shortID(s.ID), s.ProjectName, s.ErrorMessage)
	}
}

func (o *Orchestrator) resolveProject(hint string) (name, path string) {
	if hint == "" {
		return "user_request", ""
	}
	if p, ok := o.projects[hint]; ok {
		return hint, p
	}
	return hint, ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
