package agent

import (
	"fmt"
	"strings"

	"botmaster/internal/domain"
)

// ProjectContext is the context the decision engine classifies against.
type ProjectContext struct {
	Name          string
	Path          string
	RecentHistory []string
}

// Selection is the decision engine's verdict: exactly one agent, a
// non-empty reasoning string, and the ordered list of alternatives that
// were considered.
type Selection struct {
	Agent        domain.AgentKind
	Reasoning    string
	Alternatives []domain.Alternative
}

// selectionRule is one entry of the ordered classification table. Rules
// are evaluated top to bottom; the first keyword hit wins, so the table
// order is the tie-breaking priority over agent kinds.
type selectionRule struct {
	kind     domain.AgentKind
	signal   string
	keywords []string
}

// DecisionEngine classifies a task description onto an agent kind. It is
// deterministic and side-effect-free; logging the resulting decision record
// is the caller's responsibility.
type DecisionEngine struct {
	rules    []selectionRule
	fallback domain.AgentKind
}

func NewDecisionEngine() *DecisionEngine {
	return &DecisionEngine{
		rules: []selectionRule{
			{
				kind:     domain.KindClaudeFlow,
				signal:   "backend/API",
				keywords: []string{"python", "backend", "api", "database"},
			},
			{
				kind:     domain.KindGemini,
				signal:   "quick lookup",
				keywords: []string{"quick", "simple", "check", "what is"},
			},
			{
				kind:     domain.KindCursorAgent,
				signal:   "IDE",
				keywords: []string{"cursor", "ide", "editor"},
			},
		},
		fallback: domain.KindNestedClaude,
	}
}

// Select classifies the task and returns exactly one agent kind. It never
// fails: absence of a strong signal yields the general-purpose fallback.
func (e *DecisionEngine) Select(task string, _ ProjectContext) Selection {
	lower := strings.ToLower(task)

	chosen := e.fallback
	reasoning := "no strong signal in task text; using nested claude for general analysis"
	matchedIdx := -1

	for i, rule := range e.rules {
		kw := matchKeyword(lower, rule.keywords)
		if kw == "" {
			continue
		}
		chosen = rule.kind
		matchedIdx = i
		reasoning = fmt.Sprintf("%s signal (%q) best suited for %s", rule.signal, kw, rule.kind)
		break
	}

	alternatives := make([]domain.Alternative, 0, len(e.rules)+1)
	for i, rule := range e.rules {
		note := "no " + rule.signal + " signal"
		switch {
		case i == matchedIdx:
			note = "accepted: " + rule.signal + " signal matched"
		case matchedIdx >= 0 && i > matchedIdx && matchKeyword(lower, rule.keywords) != "":
			note = "rejected: outranked by " + string(chosen)
		}
		alternatives = append(alternatives, domain.Alternative{Agent: rule.kind, Note: note})
	}

	fallbackNote := "rejected: stronger signal available"
	if matchedIdx < 0 {
		fallbackNote = "accepted: general-purpose fallback"
	}
	alternatives = append(alternatives, domain.Alternative{Agent: e.fallback, Note: fallbackNote})

	return Selection{
		Agent:        chosen,
		Reasoning:    reasoning,
		Alternatives: alternatives,
	}
}

func matchKeyword(text string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw
		}
	}
	return ""
}
