package messenger_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botmaster/internal/agent"
	"botmaster/internal/domain"
	"botmaster/internal/messenger"
)

type capturingMessenger struct {
	mu    sync.Mutex
	sent  []string
	chats []string
}

func (m *capturingMessenger) SendMessage(_ context.Context, channelID, text string) (messenger.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats = append(m.chats, channelID)
	m.sent = append(m.sent, text)
	return messenger.MessageID(fmt.Sprintf("m%d", len(m.sent))), nil
}

func (m *capturingMessenger) SendNotification(ctx context.Context, userExternalID, text string) error {
	_, err := m.SendMessage(ctx, userExternalID, text)
	return err
}

func (m *capturingMessenger) Platform() string { return "test" }

func (m *capturingMessenger) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}

type fakeOrchestrator struct {
	mu       sync.Mutex
	requests [][2]string // text, project hint
	sends    []string
	stops    []uuid.UUID

	result *agent.Result
	status *agent.Status
	err    error
}

func (f *fakeOrchestrator) ProcessRequest(_ context.Context, text, projectHint string) (*agent.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, [2]string{text, projectHint})
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeOrchestrator) SendTo(_ context.Context, id uuid.UUID, text string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sends = append(f.sends, text)
	return &domain.Message{ID: 7, ToSession: &id, Body: text, Status: domain.MessagePending}, nil
}

func (f *fakeOrchestrator) Stop(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stops = append(f.stops, id)
	return nil
}

func (f *fakeOrchestrator) GetStatus(_ context.Context) (*agent.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		return &agent.Status{}, nil
	}
	return f.status, nil
}

func activeSession(id uuid.UUID, kind domain.AgentKind) *domain.Session {
	return &domain.Session{
		ID:          id,
		Kind:        kind,
		ProjectName: "wartung",
		Status:      domain.StatusRunning,
		StartedAt:   time.Now(),
	}
}

func TestRouter_Help(t *testing.T) {
	t.Parallel()

	msg := &capturingMessenger{}
	r := messenger.NewRouter(&fakeOrchestrator{}, msg, "chat-1", nil)

	for _, cmd := range []string{"/start", "/help"} {
		require.NoError(t, r.HandleText(context.Background(), cmd))
		assert.Contains(t, msg.last(), "/agents")
		assert.Contains(t, msg.last(), "/stop")
	}
}

func TestRouter_UnknownCommand(t *testing.T) {
	t.Parallel()

	msg := &capturingMessenger{}
	orc := &fakeOrchestrator{}
	r := messenger.NewRouter(orc, msg, "chat-1", nil)

	require.NoError(t, r.HandleText(context.Background(), "/frobnicate now"))
	assert.Contains(t, msg.last(), "Unknown command")

	// Unknown slash commands never become orchestration requests.
	assert.Empty(t, orc.requests)
}

func TestRouter_FreeTextBecomesRequest(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	msg := &capturingMessenger{}
	orc := &fakeOrchestrator{result: &agent.Result{
		SessionID: id,
		Agent:     domain.KindClaudeFlow,
		Reasoning: "backend signal",
	}}
	r := messenger.NewRouter(orc, msg, "chat-1", nil)

	require.NoError(t, r.HandleText(context.Background(), "fix the backend tests"))

	require.Len(t, orc.requests, 1)
	assert.Equal(t, "fix the backend tests", orc.requests[0][0])
	assert.Empty(t, orc.requests[0][1])

	reply := msg.last()
	assert.Contains(t, reply, "Started claude-flow session")
	assert.Contains(t, reply, id.String()[:8])
	assert.Contains(t, reply, "backend signal")
	assert.Contains(t, reply, "/to")
}

func TestRouter_ReusedSessionReply(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	msg := &capturingMessenger{}
	orc := &fakeOrchestrator{result: &agent.Result{
		SessionID: id,
		Agent:     domain.KindGemini,
		Reused:    true,
		MessageID: 12,
	}}
	r := messenger.NewRouter(orc, msg, "chat-1", nil)

	require.NoError(t, r.HandleText(context.Background(), "more of the same"))
	reply := msg.last()
	assert.Contains(t, reply, "Routed to running gemini session")
	assert.Contains(t, reply, "#12")
}

func TestRouter_FastResultReply(t *testing.T) {
	t.Parallel()

	code := 0
	msg := &capturingMessenger{}
	orc := &fakeOrchestrator{result: &agent.Result{
		SessionID: uuid.New(),
		Agent:     domain.KindGemini,
		Reasoning: "quick lookup",
		Completed: true,
		ExitCode:  &code,
		Output:    "the answer is 42",
	}}
	r := messenger.NewRouter(orc, msg, "chat-1", nil)

	require.NoError(t, r.HandleText(context.Background(), "quick: the answer?"))
	reply := msg.last()
	assert.Contains(t, reply, "Completed (exit 0)")
	assert.Contains(t, reply, "the answer is 42")
}

func TestRouter_Agents(t *testing.T) {
	t.Parallel()

	msg := &capturingMessenger{}
	orc := &fakeOrchestrator{}
	r := messenger.NewRouter(orc, msg, "chat-1", nil)

	require.NoError(t, r.HandleText(context.Background(), "/agents"))
	assert.Equal(t, "No active agents.", msg.last())

	id := uuid.New()
	orc.status = &agent.Status{ActiveSessions: []*domain.Session{activeSession(id, domain.KindClaudeFlow)}}

	require.NoError(t, r.HandleText(context.Background(), "/agents"))
	reply := msg.last()
	assert.Contains(t, reply, "Active agents:")
	assert.Contains(t, reply, id.String()[:8])
	assert.Contains(t, reply, "claude-flow")
	assert.Contains(t, reply, "wartung")
}

func TestRouter_New(t *testing.T) {
	t.Parallel()

	t.Run("without projects", func(t *testing.T) {
		t.Parallel()

		msg := &capturingMessenger{}
		r := messenger.NewRouter(&fakeOrchestrator{}, msg, "chat-1", nil)

		require.NoError(t, r.HandleText(context.Background(), "/new"))
		assert.Contains(t, msg.last(), "No projects discovered")
	})

	t.Run("lists projects sorted", func(t *testing.T) {
		t.Parallel()

		msg := &capturingMessenger{}
		projects := map[string]string{"zulu": "/srv/zulu", "alpha": "/srv/alpha"}
		r := messenger.NewRouter(&fakeOrchestrator{}, msg, "chat-1", projects)

		require.NoError(t, r.HandleText(context.Background(), "/new"))
		reply := msg.last()
		assert.Contains(t, reply, "/new alpha")
		assert.Contains(t, reply, "/new zulu")
		assert.Less(t, strings.Index(reply, "alpha"), strings.Index(reply, "zulu"))
	})

	t.Run("dispatches with project hint and default task", func(t *testing.T) {
		t.Parallel()

		msg := &capturingMessenger{}
		orc := &fakeOrchestrator{result: &agent.Result{SessionID: uuid.New(), Agent: domain.KindNestedClaude}}
		r := messenger.NewRouter(orc, msg, "chat-1", map[string]string{"wartung": "/srv/wartung"})

		require.NoError(t, r.HandleText(context.Background(), "/new Wartung"))
		require.Len(t, orc.requests, 1)
		assert.Equal(t, "work on project wartung", orc.requests[0][0])
		assert.Equal(t, "wartung", orc.requests[0][1])
	})

	t.Run("dispatches with explicit task", func(t *testing.T) {
		t.Parallel()

		msg := &capturingMessenger{}
		orc := &fakeOrchestrator{result: &agent.Result{SessionID: uuid.New(), Agent: domain.KindNestedClaude}}
		r := messenger.NewRouter(orc, msg, "chat-1", map[string]string{"wartung": "/srv/wartung"})

		require.NoError(t, r.HandleText(context.Background(), "/new wartung rotate the logs"))
		require.Len(t, orc.requests, 1)
		assert.Equal(t, "rotate the logs", orc.requests[0][0])
		assert.Equal(t, "wartung", orc.requests[0][1])
	})
}

func TestRouter_To(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	t.Run("usage", func(t *testing.T) {
		t.Parallel()

		msg := &capturingMessenger{}
		r := messenger.NewRouter(&fakeOrchestrator{}, msg, "chat-1", nil)

		require.NoError(t, r.HandleText(context.Background(), "/to "+id.String()))
		assert.Contains(t, msg.last(), "Usage: /to")
	})

	t.Run("full uuid", func(t *testing.T) {
		t.Parallel()

		msg := &capturingMessenger{}
		orc := &fakeOrchestrator{}
		r := messenger.NewRouter(orc, msg, "chat-1", nil)

		require.NoError(t, r.HandleText(context.Background(), "/to "+id.String()+" run the linter"))
		require.Len(t, orc.sends, 1)
		assert.Equal(t, "run the linter", orc.sends[0])
		assert.Contains(t, msg.last(), "queued as message #7")
	})

	t.Run("unique prefix resolves", func(t *testing.T) {
		t.Parallel()

		msg := &capturingMessenger{}
		orc := &fakeOrchestrator{status: &agent.Status{
			ActiveSessions: []*domain.Session{activeSession(id, domain.KindGemini)},
		}}
		r := messenger.NewRouter(orc, msg, "chat-1", nil)

		require.NoError(t, r.HandleText(context.Background(), "/to "+id.String()[:8]+" hello"))
		require.Len(t, orc.sends, 1)
		assert.Equal(t, "hello", orc.sends[0])
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		t.Parallel()

		a := uuid.MustParse("11111111-aaaa-4aaa-8aaa-aaaaaaaaaaaa")
		b := uuid.MustParse("11111111-bbbb-4bbb-8bbb-bbbbbbbbbbbb")
		msg := &capturingMessenger{}
		orc := &fakeOrchestrator{status: &agent.Status{
			ActiveSessions: []*domain.Session{
				activeSession(a, domain.KindGemini),
				activeSession(b, domain.KindClaudeFlow),
			},
		}}
		r := messenger.NewRouter(orc, msg, "chat-1", nil)

		require.NoError(t, r.HandleText(context.Background(), "/to 11111111 hello"))
		assert.Contains(t, msg.last(), "matches several agents")
		assert.Empty(t, orc.sends)
	})

	t.Run("no match", func(t *testing.T) {
		t.Parallel()

		msg := &capturingMessenger{}
		r := messenger.NewRouter(&fakeOrchestrator{}, msg, "chat-1", nil)

		require.NoError(t, r.HandleText(context.Background(), "/to deadbeef hello"))
		assert.Contains(t, msg.last(), "Invalid agent ID")
	})
}

func TestRouter_Stop(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	t.Run("usage", func(t *testing.T) {
		t.Parallel()

		msg := &capturingMessenger{}
		r := messenger.NewRouter(&fakeOrchestrator{}, msg, "chat-1", nil)

		require.NoError(t, r.HandleText(context.Background(), "/stop"))
		assert.Contains(t, msg.last(), "Usage: /stop")
	})

	t.Run("stops by prefix", func(t *testing.T) {
		t.Parallel()

		msg := &capturingMessenger{}
		orc := &fakeOrchestrator{status: &agent.Status{
			ActiveSessions: []*domain.Session{activeSession(id, domain.KindCursorAgent)},
		}}
		r := messenger.NewRouter(orc, msg, "chat-1", nil)

		require.NoError(t, r.HandleText(context.Background(), "/stop "+id.String()[:8]))
		require.Len(t, orc.stops, 1)
		assert.Equal(t, id, orc.stops[0])
		assert.Contains(t, msg.last(), "stopping")
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		msg := &capturingMessenger{}
		orc := &fakeOrchestrator{err: domain.ErrNotFound}
		r := messenger.NewRouter(orc, msg, "chat-1", nil)

		require.NoError(t, r.HandleText(context.Background(), "/stop "+id.String()))
		assert.Contains(t, msg.last(), "Agent not found")
	})
}

func TestRouter_Status(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	msg := &capturingMessenger{}
	orc := &fakeOrchestrator{status: &agent.Status{
		ActiveSessions:  []*domain.Session{activeSession(id, domain.KindGemini)},
		PendingMessages: []*domain.Message{{ID: 1}, {ID: 2}},
		RecentDecisions: []*domain.Decision{{
			ID:       3,
			Decision: "allocate gemini for: quick check",
			Outcome:  domain.OutcomeSuccess,
		}},
	}}
	r := messenger.NewRouter(orc, msg, "chat-1", nil)

	require.NoError(t, r.HandleText(context.Background(), "/status"))
	reply := msg.last()
	assert.Contains(t, reply, "Sessions: 1 active")
	assert.Contains(t, reply, "Queue: 2 pending")
	assert.Contains(t, reply, "Recent decisions: 1")
	assert.Contains(t, reply, "allocate gemini")
}

func TestRouter_SpawnErrorReply(t *testing.T) {
	t.Parallel()

	msg := &capturingMessenger{}
	orc := &fakeOrchestrator{err: fmt.Errorf("no binary: %w", domain.ErrSpawn)}
	r := messenger.NewRouter(orc, msg, "chat-1", nil)

	require.NoError(t, r.HandleText(context.Background(), "build something"))
	assert.Contains(t, msg.last(), "Spawn failed")
}

func TestRouter_Push(t *testing.T) {
	t.Parallel()

	msg := &capturingMessenger{}
	r := messenger.NewRouter(&fakeOrchestrator{}, msg, "chat-42", nil)

	require.NoError(t, r.Push(context.Background(), "session finished"))
	assert.Equal(t, "session finished", msg.last())
	assert.Equal(t, []string{"chat-42"}, msg.chats)
}

func TestRouter_EmptyInput(t *testing.T) {
	t.Parallel()

	msg := &capturingMessenger{}
	r := messenger.NewRouter(&fakeOrchestrator{}, msg, "chat-1", nil)

	require.NoError(t, r.HandleText(context.Background(), "   "))
	assert.Empty(t, msg.sent)
}
