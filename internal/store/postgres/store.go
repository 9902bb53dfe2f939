package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"botmaster/internal/domain"
)

type Store struct {
	pool      *pgxpool.Pool
	sessions  *SessionRepo
	messages  *MessageRepo
	decisions *DecisionRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:      pool,
		sessions:  NewSessionRepo(pool),
		messages:  NewMessageRepo(pool),
		decisions: NewDecisionRepo(pool),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Sessions() domain.SessionRepository   { return s.sessions }
func (s *Store) Messages() domain.MessageRepository   { return s.messages }
func (s *Store) Decisions() domain.DecisionRepository { return s.decisions }

// schema is the persisted state layout: three tables plus the two
// convenience read views (active sessions by start time, pending messages
// by age). Transition constraints are enforced by the core, not here.
const schema = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	id               UUID PRIMARY KEY,
	kind             TEXT NOT NULL,
	project_path     TEXT NOT NULL DEFAULT '',
	project_name     TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	pid              INTEGER,
	started_at       TIMESTAMPTZ NOT NULL,
	last_activity_at TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ,
	current_task     TEXT NOT NULL DEFAULT '',
	output_log       TEXT NOT NULL DEFAULT '',
	exit_code        INTEGER,
	error_message    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_agent_sessions_status ON agent_sessions (status);

CREATE TABLE IF NOT EXISTS agent_messages (
	id           BIGSERIAL PRIMARY KEY,
	from_session UUID,
	to_session   UUID,
	message_type TEXT NOT NULL,
	body         TEXT NOT NULL,
	context_data JSONB,
	status       TEXT NOT NULL DEFAULT 'pending',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ,
	response     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_agent_messages_claim ON agent_messages (status, created_at, id);

CREATE TABLE IF NOT EXISTS orchestration_decisions (
	id            BIGSERIAL PRIMARY KEY,
	project       TEXT NOT NULL,
	decision_type TEXT NOT NULL,
	decision      TEXT NOT NULL,
	reasoning     TEXT NOT NULL DEFAULT '',
	alternatives  JSONB,
	outcome       TEXT NOT NULL DEFAULT 'pending',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	feedback      TEXT NOT NULL DEFAULT '',
	feedback_at   TIMESTAMPTZ
);

CREATE OR REPLACE VIEW active_agents AS
	SELECT * FROM agent_sessions
	WHERE status IN ('running', 'waiting')
	ORDER BY started_at;

CREATE OR REPLACE VIEW pending_messages AS
	SELECT * FROM agent_messages
	WHERE status = 'pending'
	ORDER BY created_at, id;
`

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("postgres.Store.Migrate: %w", err)
	}
	return nil
}
