package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"botmaster/internal/domain"
)

const (
	defaultInactivityTimeout = 10 * time.Minute
	defaultStopGrace         = 5 * time.Second
	appendTimeout            = 5 * time.Second
)

// proc tracks one live child process.
type proc struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	strategy InvocationStrategy
	done     chan struct{}

	lastActivity atomic.Int64 // unix nanos of the last observed output
	timedOut     atomic.Bool
	stopRequest  atomic.Bool
	killed       atomic.Bool // SIGKILL escalation after the grace period
}

func (p *proc) touch() {
	p.lastActivity.Store(time.Now().UnixNano())
}

// Spawner launches external agent commands as child processes, captures
// their standard streams into the session registry, and watches for exits
// and inactivity. Spawning never blocks for the lifetime of the process;
// completion is observed asynchronously.
type Spawner struct {
	registry     *Registry
	strategies   map[domain.AgentKind]InvocationStrategy
	systemPrompt string
	inactivity   time.Duration
	grace        time.Duration

	mu    sync.Mutex
	procs map[uuid.UUID]*proc
}

// SpawnerOption configures optional Spawner parameters.
type SpawnerOption func(*Spawner)

// WithInactivityTimeout sets the default no-output watchdog timeout.
func WithInactivityTimeout(d time.Duration) SpawnerOption {
	return func(s *Spawner) { s.inactivity = d }
}

// WithStopGrace sets the SIGTERM-to-SIGKILL grace period.
func WithStopGrace(d time.Duration) SpawnerOption {
	return func(s *Spawner) { s.grace = d }
}

// WithSystemPrompt sets the system prompt embedded in stdin payloads.
func WithSystemPrompt(prompt string) SpawnerOption {
	return func(s *Spawner) { s.systemPrompt = prompt }
}

func NewSpawner(registry *Registry, strategies map[domain.AgentKind]InvocationStrategy, opts ...SpawnerOption) *Spawner {
	s := &Spawner{
		registry:   registry,
		strategies: strategies,
		inactivity: defaultInactivityTimeout,
		grace:      defaultStopGrace,
		procs:      make(map[uuid.UUID]*proc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn resolves the session's agent kind to its invocation strategy and
// starts the child process with the task as its primary input. It returns
// as soon as the process handle exists. On start failure the session is
// transitioned to failed and the error wraps domain.ErrSpawn; no retry is
// attempted.
func (s *Spawner) Spawn(ctx context.Context, session *domain.Session, task string) error {
	strategy, ok := s.strategies[session.Kind]
	if !ok {
		return s.failSpawn(ctx, session, fmt.Errorf("agent.Spawner.Spawn: no strategy for kind %q: %w", session.Kind, domain.ErrSpawn))
	}

	argv, stdinPayload, err := strategy.Command(task, s.systemPrompt, nil)
	if err != nil {
		return s.failSpawn(ctx, session, fmt.Errorf("agent.Spawner.Spawn: %v: %w", err, domain.ErrSpawn))
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if session.ProjectPath != "" {
		cmd.Dir = session.ProjectPath
	}

	// Own process group, so termination reaches the agent's children too.
	// Agent CLIs fork workers that inherit the output pipes; signalling only
	// the direct child would leave them running and the pipes open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return s.failSpawn(ctx, session, fmt.Errorf("agent.Spawner.Spawn: stdin pipe: %v: %w", err, domain.ErrSpawn))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.failSpawn(ctx, session, fmt.Errorf("agent.Spawner.Spawn: stdout pipe: %v: %w", err, domain.ErrSpawn))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.failSpawn(ctx, session, fmt.Errorf("agent.Spawner.Spawn: stderr pipe: %v: %w", err, domain.ErrSpawn))
	}

	err = cmd.Start()
	if err != nil {
		return s.failSpawn(ctx, session, fmt.Errorf("agent.Spawner.Spawn: start %s: %v: %w", session.Kind, err, domain.ErrSpawn))
	}

	p := &proc{
		cmd:      cmd,
		stdin:    stdin,
		strategy: strategy,
		done:     make(chan struct{}),
	}
	p.touch()

	s.mu.Lock()
	s.procs[session.ID] = p
	s.mu.Unlock()

	pid := cmd.Process.Pid
	if pidErr := s.registry.SetPID(ctx, session.ID, &pid); pidErr != nil {
		log.Error().Err(pidErr).Str("session_id", session.ID.String()).Msg("agent.Spawner: failed to record pid")
	}

	if len(stdinPayload) > 0 {
		if _, writeErr := stdin.Write(stdinPayload); writeErr != nil {
			log.Error().Err(writeErr).Str("session_id", session.ID.String()).Msg("agent.Spawner: failed to write initial payload")
		}
	}

	var streams sync.WaitGroup
	streams.Add(2)
	go s.captureStream(&streams, session.ID, p, stdout)
	go s.captureStream(&streams, session.ID, p, stderr)

	go s.watchInactivity(session.ID, p)
	go s.waitExit(session.ID, p, &streams)

	log.Info().
		Str("session_id", session.ID.String()).
		Str("kind", string(session.Kind)).
		Int("pid", pid).
		Msg("agent spawned")

	return nil
}

func (s *Spawner) failSpawn(ctx context.Context, session *domain.Session, err error) error {
	if trErr := s.registry.Transition(ctx, session.ID, domain.StatusFailed, nil, err.Error()); trErr != nil {
		log.Error().Err(trErr).Str("session_id", session.ID.String()).Msg("agent.Spawner: failed to mark session failed")
	}
	return err
}

// captureStream forwards one standard stream line by line into the session
// registry. Lines are delivered in the order the OS delivers them per
// stream; cross-stream interleaving is best effort.
func (s *Spawner) captureStream(wg *sync.WaitGroup, id uuid.UUID, p *proc, r io.Reader) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		p.touch()

		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		if err := s.registry.AppendOutput(ctx, id, line+"\n"); err != nil {
			log.Error().Err(err).Str("session_id", id.String()).Msg("agent.Spawner: append output")
		}
		cancel()

		if p.strategy.PromptPattern != nil && p.strategy.PromptPattern.MatchString(line) {
			s.markWaiting(id)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Str("session_id", id.String()).Msg("agent.Spawner: stream closed")
	}
}

// markWaiting transitions running -> waiting when the output heuristic
// fires. Already-waiting or terminal sessions are left alone.
func (s *Spawner) markWaiting(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	err := s.registry.Transition(ctx, id, domain.StatusWaiting, nil, "")
	if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		log.Error().Err(err).Str("session_id", id.String()).Msg("agent.Spawner: mark waiting")
	}
}

// watchInactivity forces termination when the process neither produces
// output nor exits within the inactivity timeout.
func (s *Spawner) watchInactivity(id uuid.UUID, p *proc) {
	timeout := p.strategy.InactivityTimeout
	if timeout <= 0 {
		timeout = s.inactivity
	}

	interval := timeout / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, p.lastActivity.Load()))
			if idle < timeout {
				continue
			}

			p.timedOut.Store(true)
			log.Warn().
				Str("session_id", id.String()).
				Dur("idle", idle).
				Msg("inactivity timeout, terminating agent")
			s.terminate(p)
			return
		}
	}
}

// terminate sends SIGTERM and escalates to SIGKILL after the grace period.
// Signals go to the whole process group.
func (s *Spawner) terminate(p *proc) {
	p.signal(syscall.SIGTERM)

	select {
	case <-p.done:
		return
	case <-time.After(s.grace):
	}

	p.killed.Store(true)
	p.signal(syscall.SIGKILL)
}

func (p *proc) signal(sig syscall.Signal) {
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil {
		_ = p.cmd.Process.Signal(sig)
	}
}

// waitExit reaps the child and transitions the session to its terminal
// status: exit 0 -> completed, non-zero exit -> failed, signal -> crashed.
// Inactivity timeouts yield failed with a timeout-specific message unless
// the process ignored SIGTERM and had to be SIGKILLed, which counts as
// crashed. Operator stops that do not exit cleanly yield failed.
func (s *Spawner) waitExit(id uuid.UUID, p *proc, streams *sync.WaitGroup) {
	streams.Wait()
	waitErr := p.cmd.Wait()
	close(p.done)

	s.mu.Lock()
	delete(s.procs, id)
	s.mu.Unlock()

	status, exitCode, errMsg := classifyExit(p, waitErr)

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if err := s.registry.SetPID(ctx, id, nil); err != nil {
		log.Error().Err(err).Str("session_id", id.String()).Msg("agent.Spawner: clear pid")
	}

	err := s.registry.Transition(ctx, id, status, exitCode, errMsg)
	if err != nil {
		log.Error().Err(err).
			Str("session_id", id.String()).
			Str("status", string(status)).
			Msg("agent.Spawner: terminal transition")
	}
}

func classifyExit(p *proc, waitErr error) (domain.SessionStatus, *int, string) {
	const timeoutMsg = "inactivity timeout: process produced no output and was terminated"

	if waitErr == nil {
		if p.timedOut.Load() {
			// Process exited cleanly only because we terminated it.
			return domain.StatusFailed, intPtr(0), timeoutMsg
		}
		return domain.StatusCompleted, intPtr(0), ""
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return domain.StatusFailed, nil, "wait failed: " + waitErr.Error()
	}

	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if ok && ws.Signaled() {
		sig := ws.Signal()
		switch {
		case p.timedOut.Load() && p.killed.Load():
			return domain.StatusCrashed, nil, "inactivity timeout: ignored SIGTERM, killed by " + sig.String()
		case p.timedOut.Load():
			return domain.StatusFailed, nil, timeoutMsg
		case p.stopRequest.Load():
			return domain.StatusFailed, nil, "stopped by operator (signal " + sig.String() + ")"
		default:
			return domain.StatusCrashed, nil, "terminated by signal " + sig.String()
		}
	}

	code := exitErr.ExitCode()
	if p.timedOut.Load() {
		return domain.StatusFailed, &code, timeoutMsg
	}
	if p.stopRequest.Load() {
		return domain.StatusFailed, &code, fmt.Sprintf("stopped by operator (exit code %d)", code)
	}
	return domain.StatusFailed, &code, fmt.Sprintf("exited with code %d", code)
}

func intPtr(n int) *int { return &n }

// SendInput delivers text to a live session's stdin, following the kind's
// I/O convention, and wakes a waiting session. Fails with
// domain.ErrDelivery when the process is gone or its stdin is closed.
func (s *Spawner) SendInput(ctx context.Context, id uuid.UUID, text string) error {
	s.mu.Lock()
	p, ok := s.procs[id]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("agent.Spawner.SendInput: session %s has no live process: %w", id, domain.ErrDelivery)
	}

	var payload []byte
	if p.strategy.IO == TaskViaStdin {
		b, err := json.Marshal(StdinPayload{SystemPrompt: s.systemPrompt, Task: text})
		if err != nil {
			return fmt.Errorf("agent.Spawner.SendInput: marshal payload: %w", err)
		}
		payload = append(b, '\n')
	} else {
		payload = []byte(text + "\n")
	}

	_, err := p.stdin.Write(payload)
	if err != nil {
		return fmt.Errorf("agent.Spawner.SendInput: write: %v: %w", err, domain.ErrDelivery)
	}
	p.touch()

	// New input wakes a waiting session.
	trErr := s.registry.Transition(ctx, id, domain.StatusRunning, nil, "")
	if trErr != nil && !errors.Is(trErr, domain.ErrInvalidTransition) {
		log.Error().Err(trErr).Str("session_id", id.String()).Msg("agent.Spawner: wake transition")
	}

	return nil
}

// Stop requests termination of a session's process: SIGTERM, then SIGKILL
// after the grace period. The exit classification in waitExit records the
// terminal status; no operation blocks longer than the grace bound.
func (s *Spawner) Stop(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	p, ok := s.procs[id]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("agent.Spawner.Stop: session %s has no live process: %w", id, domain.ErrNotFound)
	}

	p.stopRequest.Store(true)
	done := make(chan struct{})
	go func() {
		s.terminate(p)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("agent.Spawner.Stop: session %s: %w", id, domain.ErrTimeout)
		}
		return fmt.Errorf("agent.Spawner.Stop: %w", ctx.Err())
	}

	return nil
}

// Running reports whether a live process exists for the session.
func (s *Spawner) Running(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.procs[id]
	return ok
}
