package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"botmaster/internal/domain"
)

func TestAgentKind_Valid(t *testing.T) {
	t.Parallel()

	for _, k := range domain.AgentKinds() {
		assert.True(t, k.Valid(), "kind %q must be valid", k)
	}

	assert.False(t, domain.AgentKind("").Valid())
	assert.False(t, domain.AgentKind("gpt-5").Valid())
}

func TestSessionStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, domain.StatusRunning.Terminal())
	assert.False(t, domain.StatusWaiting.Terminal())
	assert.True(t, domain.StatusCompleted.Terminal())
	assert.True(t, domain.StatusFailed.Terminal())
	assert.True(t, domain.StatusCrashed.Terminal())
}

func TestSessionStatus_ValidTransition(t *testing.T) {
	t.Parallel()

	all := []domain.SessionStatus{
		domain.StatusRunning, domain.StatusWaiting,
		domain.StatusCompleted, domain.StatusFailed, domain.StatusCrashed,
	}

	allowed := map[domain.SessionStatus][]domain.SessionStatus{
		domain.StatusRunning: {domain.StatusWaiting, domain.StatusCompleted, domain.StatusFailed, domain.StatusCrashed},
		domain.StatusWaiting: {domain.StatusRunning, domain.StatusCompleted, domain.StatusFailed, domain.StatusCrashed},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.ValidTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestSessionStatus_NoSelfTransition(t *testing.T) {
	t.Parallel()

	assert.False(t, domain.StatusRunning.ValidTransition(domain.StatusRunning))
	assert.False(t, domain.StatusWaiting.ValidTransition(domain.StatusWaiting))
}

func TestSession_Active(t *testing.T) {
	t.Parallel()

	s := &domain.Session{Status: domain.StatusRunning}
	assert.True(t, s.Active())

	s.Status = domain.StatusWaiting
	assert.True(t, s.Active())

	for _, st := range []domain.SessionStatus{domain.StatusCompleted, domain.StatusFailed, domain.StatusCrashed} {
		s.Status = st
		assert.False(t, s.Active(), "terminal status %s must not be active", st)
	}
}
