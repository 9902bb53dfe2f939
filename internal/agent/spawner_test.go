package agent_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botmaster/internal/agent"
	"botmaster/internal/domain"
	memstore "botmaster/internal/store/memory"
)

// shellStrategy runs the given script through /bin/sh, standing in for a
// real agent CLI.
func shellStrategy(kind domain.AgentKind, script string) agent.InvocationStrategy {
	return agent.InvocationStrategy{
		Kind: kind,
		Bin:  "/bin/sh",
		Args: []string{"-c", script},
		IO:   agent.TaskViaArg,
	}
}

func spawnShell(t *testing.T, script string, opts ...agent.SpawnerOption) (*agent.Registry, *agent.Spawner, *domain.Session) {
	t.Helper()

	ctx := context.Background()
	registry := agent.NewRegistry(memstore.NewSessionRepo())

	strategies := map[domain.AgentKind]agent.InvocationStrategy{
		domain.KindGemini: shellStrategy(domain.KindGemini, script),
	}
	spawner := agent.NewSpawner(registry, strategies, opts...)

	s, err := registry.Create(ctx, domain.KindGemini, "", "wartung", "scripted task")
	require.NoError(t, err)
	require.NoError(t, spawner.Spawn(ctx, s, "scripted task"))

	return registry, spawner, s
}

func waitTerminal(t *testing.T, registry *agent.Registry, id uuid.UUID) domain.SessionStatus {
	t.Helper()

	var st domain.SessionStatus
	require.Eventually(t, func() bool {
		var ok bool
		st, ok = registry.Status(id)
		return ok && st.Terminal()
	}, 10*time.Second, 20*time.Millisecond, "session never reached a terminal status")

	return st
}

func TestSpawner_CleanExit(t *testing.T) {
	t.Parallel()

	registry, _, s := spawnShell(t, "echo hello from agent",
		agent.WithInactivityTimeout(10*time.Second))

	st := waitTerminal(t, registry, s.ID)
	assert.Equal(t, domain.StatusCompleted, st)

	got, err := registry.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.Empty(t, got.ErrorMessage)
	assert.Nil(t, got.PID)
	assert.Contains(t, registry.RecentOutput(s.ID, 0), "hello from agent")
}

func TestSpawner_NonZeroExit(t *testing.T) {
	t.Parallel()

	registry, _, s := spawnShell(t, "echo broken dependency >&2; exit 1",
		agent.WithInactivityTimeout(10*time.Second))

	st := waitTerminal(t, registry, s.ID)
	assert.Equal(t, domain.StatusFailed, st)

	got, err := registry.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 1, *got.ExitCode)
	assert.Equal(t, "exited with code 1", got.ErrorMessage)

	// stderr is captured alongside stdout.
	assert.Contains(t, registry.RecentOutput(s.ID, 0), "broken dependency")
}

func TestSpawner_InactivityTimeout(t *testing.T) {
	t.Parallel()

	registry, _, s := spawnShell(t, "sleep 60",
		agent.WithInactivityTimeout(300*time.Millisecond),
		agent.WithStopGrace(2*time.Second))

	st := waitTerminal(t, registry, s.ID)
	assert.Equal(t, domain.StatusFailed, st)

	got, err := registry.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorMessage, "inactivity timeout")
}

func TestSpawner_InactivityTimeoutEscalatesToKill(t *testing.T) {
	t.Parallel()

	registry, _, s := spawnShell(t, "trap '' TERM; while :; do sleep 1; done",
		agent.WithInactivityTimeout(300*time.Millisecond),
		agent.WithStopGrace(300*time.Millisecond))

	st := waitTerminal(t, registry, s.ID)
	assert.Equal(t, domain.StatusCrashed, st)

	got, err := registry.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorMessage, "ignored SIGTERM")
}

func TestSpawner_TimeoutReachesForkedChildren(t *testing.T) {
	t.Parallel()

	// The forked sleep inherits the output pipes. Termination must reach it
	// too, or the stream readers never see EOF and the session never ends.
	registry, _, s := spawnShell(t, "sleep 60 & wait",
		agent.WithInactivityTimeout(300*time.Millisecond),
		agent.WithStopGrace(2*time.Second))

	st := waitTerminal(t, registry, s.ID)
	assert.Equal(t, domain.StatusFailed, st)

	got, err := registry.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorMessage, "inactivity timeout")
}

func TestSpawner_WaitingAndWake(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := agent.NewRegistry(memstore.NewSessionRepo())

	strategy := shellStrategy(domain.KindGemini, `echo "awaiting input"; read line; echo "got $line"`)
	strategy.PromptPattern = regexp.MustCompile(`awaiting input`)

	spawner := agent.NewSpawner(registry,
		map[domain.AgentKind]agent.InvocationStrategy{domain.KindGemini: strategy},
		agent.WithInactivityTimeout(10*time.Second))

	s, err := registry.Create(ctx, domain.KindGemini, "", "wartung", "interactive task")
	require.NoError(t, err)
	require.NoError(t, spawner.Spawn(ctx, s, "interactive task"))

	// Prompt marker flips the session to waiting.
	require.Eventually(t, func() bool {
		st, ok := registry.Status(s.ID)
		return ok && st == domain.StatusWaiting
	}, 5*time.Second, 20*time.Millisecond)

	// Delivering input wakes it and lets it finish.
	require.NoError(t, spawner.SendInput(ctx, s.ID, "continue"))

	st := waitTerminal(t, registry, s.ID)
	assert.Equal(t, domain.StatusCompleted, st)
	assert.Contains(t, registry.RecentOutput(s.ID, 0), "got continue")
}

func TestSpawner_Stop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry, spawner, s := spawnShell(t, "sleep 60",
		agent.WithInactivityTimeout(time.Minute),
		agent.WithStopGrace(2*time.Second))

	require.Eventually(t, func() bool { return spawner.Running(s.ID) },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, spawner.Stop(ctx, s.ID))

	st := waitTerminal(t, registry, s.ID)
	assert.Equal(t, domain.StatusFailed, st)

	got, err := registry.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorMessage, "stopped by operator")
}

func TestSpawner_StopDeadlineExceeded(t *testing.T) {
	t.Parallel()

	registry, spawner, s := spawnShell(t, "trap '' TERM; while :; do sleep 1; done",
		agent.WithInactivityTimeout(time.Minute),
		agent.WithStopGrace(2*time.Second))

	require.Eventually(t, func() bool { return spawner.Running(s.ID) },
		2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := spawner.Stop(ctx, s.ID)
	require.ErrorIs(t, err, domain.ErrTimeout)

	// Termination still completes in the background.
	st := waitTerminal(t, registry, s.ID)
	assert.Equal(t, domain.StatusFailed, st)

	got, err := registry.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorMessage, "stopped by operator")
}

func TestSpawner_SpawnFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := agent.NewRegistry(memstore.NewSessionRepo())

	t.Run("missing binary", func(t *testing.T) {
		t.Parallel()

		strategies := map[domain.AgentKind]agent.InvocationStrategy{
			domain.KindGemini: {
				Kind: domain.KindGemini,
				Bin:  "/nonexistent/agent-binary",
				Args: []string{"{task}"},
				IO:   agent.TaskViaArg,
			},
		}
		spawner := agent.NewSpawner(registry, strategies)

		s, err := registry.Create(ctx, domain.KindGemini, "", "wartung", "task")
		require.NoError(t, err)

		err = spawner.Spawn(ctx, s, "task")
		require.ErrorIs(t, err, domain.ErrSpawn)

		got, err := registry.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, got.Status)
		assert.NotEmpty(t, got.ErrorMessage)
	})

	t.Run("unknown kind has no strategy", func(t *testing.T) {
		t.Parallel()

		spawner := agent.NewSpawner(registry, map[domain.AgentKind]agent.InvocationStrategy{})

		s, err := registry.Create(ctx, domain.KindCursorAgent, "", "wartung", "task")
		require.NoError(t, err)

		err = spawner.Spawn(ctx, s, "task")
		require.ErrorIs(t, err, domain.ErrSpawn)
	})
}

func TestSpawner_SendInputWithoutProcess(t *testing.T) {
	t.Parallel()

	registry := agent.NewRegistry(memstore.NewSessionRepo())
	spawner := agent.NewSpawner(registry, nil)

	err := spawner.SendInput(context.Background(), uuid.New(), "hello")
	require.ErrorIs(t, err, domain.ErrDelivery)
}

func TestSpawner_StopWithoutProcess(t *testing.T) {
	t.Parallel()

	registry := agent.NewRegistry(memstore.NewSessionRepo())
	spawner := agent.NewSpawner(registry, nil)

	err := spawner.Stop(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInvocationStrategy_Command(t *testing.T) {
	t.Parallel()

	t.Run("task via argv", func(t *testing.T) {
		t.Parallel()

		s := agent.InvocationStrategy{
			Kind: domain.KindClaudeFlow,
			Bin:  "claude-flow",
			Args: []string{"swarm", "{task}"},
			IO:   agent.TaskViaArg,
		}

		argv, stdin, err := s.Command("fix the build", "", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"claude-flow", "swarm", "fix the build"}, argv)
		assert.Empty(t, stdin)
	})

	t.Run("wrapper prefixes argv", func(t *testing.T) {
		t.Parallel()

		s := agent.InvocationStrategy{
			Kind:    domain.KindCursorAgent,
			Bin:     "cursor-agent",
			Wrapper: []string{"wsl", "-e"},
			Args:    []string{"chat", "{task}"},
			IO:      agent.TaskViaArg,
		}

		argv, _, err := s.Command("review this", "", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"wsl", "-e", "cursor-agent", "chat", "review this"}, argv)
	})

	t.Run("task via stdin payload", func(t *testing.T) {
		t.Parallel()

		s := agent.InvocationStrategy{
			Kind: domain.KindNestedClaude,
			Bin:  "claude",
			Args: []string{"-p", "--output-format", "stream-json"},
			IO:   agent.TaskViaStdin,
		}

		argv, stdin, err := s.Command("analyze the repo", "be concise", []string{"earlier"})
		require.NoError(t, err)
		assert.Equal(t, []string{"claude", "-p", "--output-format", "stream-json"}, argv)
		assert.Contains(t, string(stdin), `"task":"analyze the repo"`)
		assert.Contains(t, string(stdin), `"system_prompt":"be concise"`)
		assert.Contains(t, string(stdin), `"history":["earlier"]`)
	})
}
