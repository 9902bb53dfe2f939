package agent_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botmaster/internal/agent"
	"botmaster/internal/domain"
	memstore "botmaster/internal/store/memory"
)

type fakePusher struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakePusher) Push(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakePusher) pushed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakePubSub struct {
	mu       sync.Mutex
	channels map[string]int
}

func (f *fakePubSub) Publish(_ context.Context, channel string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channels == nil {
		f.channels = make(map[string]int)
	}
	f.channels[channel]++
	return nil
}

func (f *fakePubSub) published(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[channel]
}

type fakeMemory struct {
	mu       sync.Mutex
	snippets []string
	outcomes []string
}

func (f *fakeMemory) RelevantContext(_ context.Context, _ string, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snippets, nil
}

func (f *fakeMemory) RecordOutcome(_ context.Context, _, _, outcome string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func (f *fakeMemory) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.outcomes...)
}

type orcFixture struct {
	store    *memstore.Store
	registry *agent.Registry
	spawner  *agent.Spawner
	orc      *agent.Orchestrator
	pusher   *fakePusher
	pubsub   *fakePubSub
	memory   *fakeMemory
}

// newOrcFixture wires a full orchestrator over the in-memory store with
// every agent kind backed by the given shell scripts.
func newOrcFixture(t *testing.T, scripts map[domain.AgentKind]string, opts ...agent.OrchestratorOption) *orcFixture {
	t.Helper()

	store := memstore.New()
	registry := agent.NewRegistry(store.Sessions())

	strategies := make(map[domain.AgentKind]agent.InvocationStrategy, len(scripts))
	for kind, script := range scripts {
		st := shellStrategy(kind, script)
		if kind == domain.KindGemini {
			st.Fast = true
		}
		strategies[kind] = st
	}
	spawner := agent.NewSpawner(registry, strategies, agent.WithInactivityTimeout(time.Minute))

	f := &orcFixture{
		store:    store,
		registry: registry,
		spawner:  spawner,
		pusher:   &fakePusher{},
		pubsub:   &fakePubSub{},
		memory:   &fakeMemory{},
	}

	opts = append([]agent.OrchestratorOption{
		agent.WithPusher(f.pusher),
		agent.WithPubSub(f.pubsub),
		agent.WithMemory(f.memory),
		agent.WithProjects(map[string]string{"wartung": t.TempDir()}),
		agent.WithFastWait(5 * time.Second),
	}, opts...)

	f.orc = agent.NewOrchestrator(
		agent.NewDecisionEngine(),
		registry,
		spawner,
		agent.NewQueue(store.Messages()),
		store.Decisions(),
		opts...,
	)

	return f
}

func findDecision(t *testing.T, repo domain.DecisionRepository, id int64) *domain.Decision {
	t.Helper()

	list, err := repo.List(context.Background(), "", "", 100)
	require.NoError(t, err)
	for _, d := range list {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func allKinds(script string) map[domain.AgentKind]string {
	scripts := make(map[domain.AgentKind]string)
	for _, k := range domain.AgentKinds() {
		scripts[k] = script
	}
	return scripts
}

func TestOrchestrator_ProcessRequest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newOrcFixture(t, allKinds("echo done"))

	res, err := f.orc.ProcessRequest(ctx, "fix the backend api", "wartung")
	require.NoError(t, err)
	assert.Equal(t, domain.KindClaudeFlow, res.Agent)
	assert.False(t, res.Reused)
	assert.NotEmpty(t, res.Reasoning)
	assert.NotZero(t, res.MessageID)

	// The decision is logged immediately.
	decisions, err := f.store.Decisions().List(ctx, "wartung", "", 10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, domain.DecisionAgentSpawn, decisions[0].Type)

	// The spawn-time task message is created already settled, so the
	// dispatcher can never pick it up and redeliver the task to stdin.
	pending, err := f.store.Messages().ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	msg, err := f.store.Messages().GetByID(ctx, res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageDone, msg.Status)
	assert.Equal(t, "delivered at spawn", msg.Response)
	require.NotNil(t, msg.ProcessedAt)

	st := waitTerminal(t, f.registry, res.SessionID)
	assert.Equal(t, domain.StatusCompleted, st)

	// Terminal handling settles the decision, notifies the operator,
	// records the outcome and publishes lifecycle events.
	require.Eventually(t, func() bool {
		d := findDecision(t, f.store.Decisions(), decisions[0].ID)
		return d != nil && d.Outcome == domain.OutcomeSuccess
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return len(f.pusher.pushed()) > 0 },
		5*time.Second, 20*time.Millisecond)
	assert.Contains(t, f.pusher.pushed()[0], "completed")

	assert.Eventually(t, func() bool {
		return f.pubsub.published("events") == 1 &&
			f.pubsub.published("session:"+res.SessionID.String()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return len(f.memory.recorded()) == 1 },
		5*time.Second, 20*time.Millisecond)
	assert.Equal(t, string(domain.OutcomeSuccess), f.memory.recorded()[0])
}

func TestOrchestrator_ReusesActiveSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	// read blocks until stdin delivers a line, keeping the session active.
	f := newOrcFixture(t, allKinds("read line; echo bye"))

	first, err := f.orc.ProcessRequest(ctx, "deploy the backend", "wartung")
	require.NoError(t, err)
	require.False(t, first.Reused)

	second, err := f.orc.ProcessRequest(ctx, "also update the backend docs", "wartung")
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.NotZero(t, second.MessageID)

	// The rerouted task is queued for the active session.
	pending, err := f.store.Messages().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].ToSession)
	assert.Equal(t, first.SessionID, *pending[0].ToSession)

	require.NoError(t, f.orc.Stop(ctx, first.SessionID))
	waitTerminal(t, f.registry, first.SessionID)
}

func TestOrchestrator_FastAgentAwaited(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newOrcFixture(t, allKinds("echo the answer is 42"))

	res, err := f.orc.ProcessRequest(ctx, "quick check: what is the answer", "wartung")
	require.NoError(t, err)
	require.Equal(t, domain.KindGemini, res.Agent)

	assert.True(t, res.Completed)
	assert.Contains(t, res.Output, "the answer is 42")
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
}

func TestOrchestrator_SendTo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newOrcFixture(t, allKinds("read line"))

	t.Run("unknown session", func(t *testing.T) {
		_, err := f.orc.SendTo(ctx, uuid.New(), "hello")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("queued for existing session", func(t *testing.T) {
		res, err := f.orc.ProcessRequest(ctx, "summarize the notes", "wartung")
		require.NoError(t, err)

		msg, err := f.orc.SendTo(ctx, res.SessionID, "please also check the logs")
		require.NoError(t, err)
		assert.Equal(t, domain.MessagePending, msg.Status)
		require.NotNil(t, msg.ToSession)
		assert.Equal(t, res.SessionID, *msg.ToSession)

		require.NoError(t, f.orc.Stop(ctx, res.SessionID))
		waitTerminal(t, f.registry, res.SessionID)
	})
}

func TestOrchestrator_StopOrphan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newOrcFixture(t, allKinds("echo unused"))

	// An active record without a live process, as after a daemon restart.
	s, err := f.registry.Create(ctx, domain.KindClaudeFlow, "", "wartung", "leftover")
	require.NoError(t, err)

	require.NoError(t, f.orc.Stop(ctx, s.ID))

	got, err := f.registry.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "stopped by operator")

	err = f.orc.Stop(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrchestrator_Dispatcher(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newOrcFixture(t, allKinds("echo unused"))
	queue := agent.NewQueue(f.store.Messages())

	go f.orc.RunDispatcher(ctx)

	t.Run("operator bound messages are pushed", func(t *testing.T) {
		m, err := queue.Enqueue(ctx, nil, nil, domain.MessageNotification, "agents are idle", nil)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			got, err := f.store.Messages().GetByID(ctx, m.ID)
			return err == nil && got.Status == domain.MessageDone
		}, 5*time.Second, 20*time.Millisecond)

		assert.Contains(t, f.pusher.pushed(), "agents are idle")
	})

	t.Run("undeliverable session message is marked error", func(t *testing.T) {
		dead := uuid.New()
		m, err := queue.Enqueue(ctx, nil, &dead, domain.MessageRequest, "into the void", nil)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			got, err := f.store.Messages().GetByID(ctx, m.ID)
			return err == nil && got.Status == domain.MessageFailed
		}, 5*time.Second, 20*time.Millisecond)

		got, err := f.store.Messages().GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, got.Response)
	})
}

func TestOrchestrator_LoadCrashNotifiesOperator(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newOrcFixture(t, allKinds("echo unused"))

	// A session left active by a previous run. With the orchestrator already
	// constructed, reconciling it must reach the operator channels.
	orphan := &domain.Session{
		ID:             uuid.New(),
		Kind:           domain.KindClaudeFlow,
		ProjectName:    "wartung",
		Status:         domain.StatusRunning,
		CurrentTask:    "left behind",
		StartedAt:      time.Now().Add(-time.Hour),
		LastActivityAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, f.store.Sessions().Create(ctx, orphan))

	require.NoError(t, f.registry.Load(ctx))

	require.Eventually(t, func() bool { return len(f.pusher.pushed()) > 0 },
		5*time.Second, 20*time.Millisecond)
	assert.Contains(t, f.pusher.pushed()[0], "crashed")

	assert.Eventually(t, func() bool {
		return f.pubsub.published("events") == 1 &&
			f.pubsub.published("session:"+orphan.ID.String()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return len(f.memory.recorded()) == 1 },
		5*time.Second, 20*time.Millisecond)
	assert.Equal(t, string(domain.OutcomeFailed), f.memory.recorded()[0])
}

func TestOrchestrator_GetStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newOrcFixture(t, allKinds("read line"))

	res, err := f.orc.ProcessRequest(ctx, "keep the session open", "wartung")
	require.NoError(t, err)

	status, err := f.orc.GetStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status.ActiveSessions, 1)
	assert.Equal(t, res.SessionID, status.ActiveSessions[0].ID)
	require.Len(t, status.RecentDecisions, 1)

	require.NoError(t, f.orc.Stop(ctx, res.SessionID))
	waitTerminal(t, f.registry, res.SessionID)
}

func TestOrchestrator_Feedback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newOrcFixture(t, allKinds("echo unused"))

	d := &domain.Decision{
		Project:   "wartung",
		Type:      domain.DecisionAgentSpawn,
		Decision:  "allocate gemini",
		Reasoning: "fallback",
		Outcome:   domain.OutcomePending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.store.Decisions().Create(ctx, d))

	require.NoError(t, f.orc.Feedback(ctx, d.ID, domain.OutcomePartial, "half of it landed"))

	got := findDecision(t, f.store.Decisions(), d.ID)
	require.NotNil(t, got)
	assert.Equal(t, domain.OutcomePartial, got.Outcome)
	assert.Equal(t, "half of it landed", got.Feedback)

	// A settled outcome cannot be flipped without feedback.
	err := f.orc.Feedback(ctx, d.ID, domain.OutcomeSuccess, "")
	require.ErrorIs(t, err, domain.ErrState)

	err = f.orc.Feedback(ctx, 9999, domain.OutcomeSuccess, "x")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
