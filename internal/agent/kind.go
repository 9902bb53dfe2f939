package agent

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"botmaster/internal/domain"
)

// IOConvention describes how a spawned agent receives its task.
type IOConvention int

const (
	// TaskViaArg passes the task text as a command-line argument.
	TaskViaArg IOConvention = iota
	// TaskViaStdin writes a structured JSON payload to the agent's stdin.
	TaskViaStdin
)

const taskPlaceholder = "{task}"

// InvocationStrategy maps an agent kind to its concrete external command.
// Each kind has exactly one strategy; the set is fixed at construction.
type InvocationStrategy struct {
	Kind domain.AgentKind

	// Bin is the external binary. Wrapper, when non-empty, is an argv prefix
	// used to bridge environments where the tool is not natively available
	// (e.g. {"wsl", "-e"}).
	Bin     string
	Wrapper []string

	// Args is the argv template after Bin; occurrences of "{task}" are
	// replaced with the task text when the convention is TaskViaArg.
	Args []string

	IO IOConvention

	// Fast marks request/response style agents whose result the orchestrator
	// awaits synchronously (bounded).
	Fast bool

	// PromptPattern detects the agent signalling it is blocked on input
	// (running -> waiting). Nil disables waiting detection for this kind.
	PromptPattern *regexp.Regexp

	// InactivityTimeout forces termination when the process produces no
	// output and does not exit for this long. Zero uses the spawner default.
	InactivityTimeout time.Duration
}

// StdinPayload is the structured task payload for TaskViaStdin agents.
type StdinPayload struct {
	SystemPrompt string   `json:"system_prompt"`
	History      []string `json:"history,omitempty"`
	Task         string   `json:"task"`
}

// Command resolves the strategy into a full argv and optional stdin payload
// for the given task.
func (s InvocationStrategy) Command(task, systemPrompt string, history []string) (argv []string, stdin []byte, err error) {
	argv = make([]string, 0, len(s.Wrapper)+1+len(s.Args))
	argv = append(argv, s.Wrapper...)
	argv = append(argv, s.Bin)

	for _, a := range s.Args {
		if s.IO == TaskViaArg && strings.Contains(a, taskPlaceholder) {
			a = strings.ReplaceAll(a, taskPlaceholder, task)
		}
		argv = append(argv, a)
	}

	if s.IO == TaskViaStdin {
		payload := StdinPayload{
			SystemPrompt: systemPrompt,
			History:      history,
			Task:         task,
		}
		stdin, err = json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("agent.InvocationStrategy.Command: marshal payload: %w", err)
		}
		stdin = append(stdin, '\n')
	}

	return argv, stdin, nil
}

// Available checks that the strategy's entry binary can be resolved.
// For wrapped strategies the wrapper binary is what must exist locally.
func (s InvocationStrategy) Available() error {
	bin := s.Bin
	if len(s.Wrapper) > 0 {
		bin = s.Wrapper[0]
	}

	_, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("agent.InvocationStrategy.Available(%s): %w", s.Kind, err)
	}

	return nil
}

// StrategyConfig carries the configurable binary paths for the fixed kinds.
type StrategyConfig struct {
	ClaudeFlowBin  string
	GeminiBin      string
	CursorAgentBin string
	ClaudeCLIBin   string
	// CursorWrapper bridges cursor-agent through an intermediary shell on
	// hosts where it is not natively available. Empty means direct.
	CursorWrapper []string
}

// waitingPrompt matches the trailing prompt markers the CLI agents emit
// when blocked on input. Per-kind strategies may override it.
var waitingPrompt = regexp.MustCompile(`(?i)(\?\s*$|\(y/n\)\s*$|>\s*$|awaiting input)`)

// DefaultStrategies returns the closed strategy table for all agent kinds.
func DefaultStrategies(cfg StrategyConfig) map[domain.AgentKind]InvocationStrategy {
	return map[domain.AgentKind]InvocationStrategy{
		domain.KindClaudeFlow: {
			Kind:          domain.KindClaudeFlow,
			Bin:           cfg.ClaudeFlowBin,
			Args:          []string{"swarm", taskPlaceholder},
			IO:            TaskViaArg,
			PromptPattern: waitingPrompt,
		},
		domain.KindGemini: {
			Kind: domain.KindGemini,
			Bin:  cfg.GeminiBin,
			Args: []string{"-p", taskPlaceholder},
			IO:   TaskViaArg,
			Fast: true,
		},
		domain.KindCursorAgent: {
			Kind:          domain.KindCursorAgent,
			Bin:           cfg.CursorAgentBin,
			Wrapper:       cfg.CursorWrapper,
			Args:          []string{"chat", taskPlaceholder},
			IO:            TaskViaArg,
			PromptPattern: waitingPrompt,
		},
		domain.KindNestedClaude: {
			Kind:          domain.KindNestedClaude,
			Bin:           cfg.ClaudeCLIBin,
			Args:          []string{"-p", "--output-format", "stream-json", "--verbose"},
			IO:            TaskViaStdin,
			PromptPattern: waitingPrompt,
		},
	}
}
