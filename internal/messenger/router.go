package messenger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"botmaster/internal/agent"
	"botmaster/internal/domain"
)

// ErrAmbiguousSession is returned when a session ID prefix matches more
// than one active session.
var ErrAmbiguousSession = errors.New("messenger: ambiguous session id") //nolint:gochecknoglobals // sentinel error

// Orchestrator is the subset of the agent orchestrator the router drives.
type Orchestrator interface {
	ProcessRequest(ctx context.Context, text, projectHint string) (*agent.Result, error)
	SendTo(ctx context.Context, id uuid.UUID, text string) (*domain.Message, error)
	Stop(ctx context.Context, id uuid.UUID) error
	GetStatus(ctx context.Context) (*agent.Status, error)
}

// Router parses operator chat input, drives the orchestrator, and formats
// the replies. It also serves as the orchestrator's push target, mirroring
// agent output and lifecycle notices back into the operator chat.
type Router struct {
	orc      Orchestrator
	msg      Messenger
	chatID   string
	projects map[string]string
}

// NewRouter creates a Router bound to one operator chat.
func NewRouter(orc Orchestrator, msg Messenger, chatID string, projects map[string]string) *Router {
	return &Router{
		orc:      orc,
		msg:      msg,
		chatID:   chatID,
		projects: projects,
	}
}

// Compile-time interface check.
var _ agent.Pusher = (*Router)(nil) //nolint:gochecknoglobals // compile-time check

// Push forwards an orchestrator notification to the operator chat.
func (r *Router) Push(ctx context.Context, text string) error {
	_, err := r.msg.SendMessage(ctx, r.chatID, text)
	if err != nil {
		return fmt.Errorf("messenger.Router.Push: %w", err)
	}
	return nil
}

// HandleText processes one line of operator input. Slash commands are
// dispatched explicitly; anything else becomes an orchestration request.
// Replies always go back to the operator chat; HandleText itself only
// fails when the reply cannot be delivered.
func (r *Router) HandleText(ctx context.Context, text string) error {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	switch cmd {
	case "/start", "/help":
		return r.reply(ctx, helpText)
	case "/agents":
		return r.handleAgents(ctx)
	case "/new":
		return r.handleNew(ctx, parts[1:])
	case "/to":
		return r.handleTo(ctx, parts[1:])
	case "/stop":
		return r.handleStop(ctx, parts[1:])
	case "/status":
		return r.handleStatus(ctx)
	}

	if strings.HasPrefix(cmd, "/") {
		return r.reply(ctx, "Unknown command.\n\n"+helpText)
	}

	return r.handleRequest(ctx, text, "")
}

const helpText = `botMaster help
/help - this help
/agents - active agent sessions
/new [project_key] [task] - start an agent for a project
/to <id> <text> - send text to a running agent
/stop <id> - stop an agent
/status - sessions, queue and recent decisions

Plain text is classified and dispatched to the best-suited agent.`

func (r *Router) handleRequest(ctx context.Context, text, projectHint string) error {
	res, err := r.orc.ProcessRequest(ctx, text, projectHint)
	if err != nil {
		if errors.Is(err, domain.ErrSpawn) {
			return r.reply(ctx, "Spawn failed: "+err.Error())
		}
		return r.reply(ctx, "Request failed: "+err.Error())
	}

	var b strings.Builder
	if res.Reused {
		fmt.Fprintf(&b, "Routed to running %s session %s (message #%d).",
			res.Agent, shortID(res.SessionID), res.MessageID)
	} else {
		fmt.Fprintf(&b, "Started %s session %s.\n%s", res.Agent, shortID(res.SessionID), res.Reasoning)
	}

	if res.Completed {
		fmt.Fprintf(&b, "\n\nCompleted")
		if res.ExitCode != nil {
			fmt.Fprintf(&b, " (exit %d)", *res.ExitCode)
		}
		if res.Output != "" {
			fmt.Fprintf(&b, ":\n%s", res.Output)
		}
	} else if !res.Reused {
		fmt.Fprintf(&b, "\nUse '/to %s <text>' to talk to it.", shortID(res.SessionID))
	}

	return r.reply(ctx, b.String())
}

func (r *Router) handleAgents(ctx context.Context) error {
	status, err := r.orc.GetStatus(ctx)
	if err != nil {
		return r.reply(ctx, "Status failed: "+err.Error())
	}

	if len(status.ActiveSessions) == 0 {
		return r.reply(ctx, "No active agents.")
	}

	lines := make([]string, 0, len(status.ActiveSessions)+1)
	lines = append(lines, "Active agents:")
	for _, s := range status.ActiveSessions {
		project := s.ProjectName
		if project == "" {
			project = "-"
		}
		lines = append(lines, fmt.Sprintf("%s %s [%s] -> %s", shortID(s.ID), s.Kind, s.Status, project))
	}

	return r.reply(ctx, strings.Join(lines, "\n"))
}

func (r *Router) handleNew(ctx context.Context, args []string) error {
	if len(args) == 0 {
		if len(r.projects) == 0 {
			return r.reply(ctx, "No projects discovered. Check BM_PROJECT_DIRS.")
		}

		keys := make([]string, 0, len(r.projects))
		for k := range r.projects {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		lines := []string{"Pick a project:"}
		for _, k := range keys {
			lines = append(lines, "/new "+k)
		}
		return r.reply(ctx, strings.Join(lines, "\n"))
	}

	projectKey := strings.ToLower(args[0])
	task := strings.Join(args[1:], " ")
	if task == "" {
		task = "work on project " + projectKey
	}

	return r.handleRequest(ctx, task, projectKey)
}

func (r *Router) handleTo(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return r.reply(ctx, "Usage: /to <id> <text>")
	}

	id, err := r.resolveSession(ctx, args[0])
	if err != nil {
		return r.replyResolveError(ctx, args[0], err)
	}

	msg, err := r.orc.SendTo(ctx, id, strings.Join(args[1:], " "))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.reply(ctx, "Agent not found.")
		}
		return r.reply(ctx, "Delivery failed: "+err.Error())
	}

	return r.reply(ctx, fmt.Sprintf("(to %s) queued as message #%d", shortID(id), msg.ID))
}

func (r *Router) handleStop(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return r.reply(ctx, "Usage: /stop <id>")
	}

	id, err := r.resolveSession(ctx, args[0])
	if err != nil {
		return r.replyResolveError(ctx, args[0], err)
	}

	err = r.orc.Stop(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.reply(ctx, "Agent not found.")
		}
		return r.reply(ctx, "Stop failed: "+err.Error())
	}

	return r.reply(ctx, fmt.Sprintf("Agent %s stopping.", shortID(id)))
}

func (r *Router) handleStatus(ctx context.Context) error {
	status, err := r.orc.GetStatus(ctx)
	if err != nil {
		return r.reply(ctx, "Status failed: "+err.Error())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sessions: %d active\n", len(status.ActiveSessions))
	for _, s := range status.ActiveSessions {
		fmt.Fprintf(&b, "  %s %s [%s]\n", shortID(s.ID), s.Kind, s.Status)
	}

	fmt.Fprintf(&b, "Queue: %d pending\n", len(status.PendingMessages))

	fmt.Fprintf(&b, "Recent decisions: %d", len(status.RecentDecisions))
	for _, d := range status.RecentDecisions {
		fmt.Fprintf(&b, "\n  #%d [%s] %s", d.ID, d.Outcome, d.Decision)
	}

	return r.reply(ctx, b.String())
}

// resolveSession maps a full UUID or a unique ID prefix onto an active
// session.
func (r *Router) resolveSession(ctx context.Context, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}

	status, err := r.orc.GetStatus(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("messenger.Router.resolveSession: %w", err)
	}

	ref = strings.ToLower(ref)
	var match uuid.UUID
	found := 0
	for _, s := range status.ActiveSessions {
		if strings.HasPrefix(s.ID.String(), ref) {
			match = s.ID
			found++
		}
	}

	switch found {
	case 0:
		return uuid.Nil, fmt.Errorf("messenger.Router.resolveSession: %q: %w", ref, domain.ErrNotFound)
	case 1:
		return match, nil
	default:
		return uuid.Nil, fmt.Errorf("messenger.Router.resolveSession: %q: %w", ref, ErrAmbiguousSession)
	}
}

func (r *Router) replyResolveError(ctx context.Context, ref string, err error) error {
	switch {
	case errors.Is(err, ErrAmbiguousSession):
		return r.reply(ctx, fmt.Sprintf("ID %q matches several agents, use more characters.", ref))
	case errors.Is(err, domain.ErrNotFound):
		return r.reply(ctx, "Invalid agent ID.")
	default:
		return r.reply(ctx, "Lookup failed: "+err.Error())
	}
}

func (r *Router) reply(ctx context.Context, text string) error {
	_, err := r.msg.SendMessage(ctx, r.chatID, text)
	if err != nil {
		log.Error().Err(err).Msg("router: reply failed")
		return fmt.Errorf("messenger.Router.reply: %w", err)
	}
	return nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
