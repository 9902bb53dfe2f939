package agent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botmaster/internal/agent"
	"botmaster/internal/domain"
)

func TestDecisionEngine_Select(t *testing.T) {
	t.Parallel()

	engine := agent.NewDecisionEngine()
	pctx := agent.ProjectContext{Name: "wartung"}

	t.Run("backend keywords pick claude-flow", func(t *testing.T) {
		t.Parallel()

		sel := engine.Select("Fix the Python backend API", pctx)
		assert.Equal(t, domain.KindClaudeFlow, sel.Agent)
		assert.Contains(t, sel.Reasoning, "backend/API")
	})

	t.Run("quick lookup keywords pick gemini", func(t *testing.T) {
		t.Parallel()

		sel := engine.Select("quick check: what does this flag do", pctx)
		assert.Equal(t, domain.KindGemini, sel.Agent)
		assert.NotEmpty(t, sel.Reasoning)
	})

	t.Run("ide keywords pick cursor-agent", func(t *testing.T) {
		t.Parallel()

		sel := engine.Select("open the editor and refactor this file", pctx)
		assert.Equal(t, domain.KindCursorAgent, sel.Agent)
	})

	t.Run("no signal falls back to nested-claude", func(t *testing.T) {
		t.Parallel()

		sel := engine.Select("summarize the meeting notes", pctx)
		assert.Equal(t, domain.KindNestedClaude, sel.Agent)
		assert.NotEmpty(t, sel.Reasoning)
	})

	t.Run("empty task falls back", func(t *testing.T) {
		t.Parallel()

		sel := engine.Select("", pctx)
		assert.Equal(t, domain.KindNestedClaude, sel.Agent)
	})

	t.Run("matching is case-insensitive", func(t *testing.T) {
		t.Parallel()

		sel := engine.Select("DEPLOY THE BACKEND", pctx)
		assert.Equal(t, domain.KindClaudeFlow, sel.Agent)
	})

	t.Run("earlier rule outranks later on multi-signal tasks", func(t *testing.T) {
		t.Parallel()

		// Both backend and quick-lookup keywords present; table order wins.
		sel := engine.Select("quick fix for the backend", pctx)
		assert.Equal(t, domain.KindClaudeFlow, sel.Agent)
	})

	t.Run("deterministic for identical input", func(t *testing.T) {
		t.Parallel()

		a := engine.Select("check the database indexes", pctx)
		b := engine.Select("check the database indexes", pctx)
		assert.Equal(t, a, b)
	})

	t.Run("alternatives cover every kind exactly once", func(t *testing.T) {
		t.Parallel()

		sel := engine.Select("anything at all", pctx)
		require.Len(t, sel.Alternatives, len(domain.AgentKinds()))

		seen := make(map[domain.AgentKind]bool)
		for _, alt := range sel.Alternatives {
			assert.False(t, seen[alt.Agent], "kind %s listed twice", alt.Agent)
			assert.NotEmpty(t, alt.Note)
			seen[alt.Agent] = true
		}
	})

	t.Run("chosen agent is marked accepted", func(t *testing.T) {
		t.Parallel()

		sel := engine.Select("work on the api", pctx)
		for _, alt := range sel.Alternatives {
			if alt.Agent == sel.Agent {
				assert.Contains(t, alt.Note, "accepted")
			}
		}
	})
}
