// Package memory provides in-process repository implementations backed by
// maps. It serves development mode and tests; semantics mirror the postgres
// implementations, including claim atomicity and settle guards.
package memory

import "botmaster/internal/domain"

type Store struct {
	sessions  *SessionRepo
	messages  *MessageRepo
	decisions *DecisionRepo
}

func New() *Store {
	return &Store{
		sessions:  NewSessionRepo(),
		messages:  NewMessageRepo(),
		decisions: NewDecisionRepo(),
	}
}

func (s *Store) Sessions() domain.SessionRepository   { return s.sessions }
func (s *Store) Messages() domain.MessageRepository   { return s.messages }
func (s *Store) Decisions() domain.DecisionRepository { return s.decisions }
