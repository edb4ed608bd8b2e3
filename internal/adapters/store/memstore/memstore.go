// Package memstore keeps sessions in process memory. It backs tests and the
// "memory" store driver for local development.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/callsignal/internal/domain"
)

type tokenKey struct {
	user domain.UserID
	role domain.Role
}

type Store struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]domain.Session
	tokens   map[tokenKey]string
	writes   int
}

func New() *Store {
	return &Store{
		sessions: make(map[domain.SessionID]domain.Session),
		tokens:   make(map[tokenKey]string),
	}
}

// Put inserts or replaces a session record.
func (s *Store) Put(sess domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Store) SetPushToken(user domain.UserID, role domain.Role, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey{user, role}] = token
}

// Writes counts successful ApplyTransition calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) FindSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &sess, nil
}

func (s *Store) ApplyTransition(_ context.Context, id domain.SessionID, tr domain.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if !tr.Allows(sess.Status) {
		return fmt.Errorf("%w: stored status %s", domain.ErrInvalidTransition, sess.Status)
	}
	tr.Apply(&sess)
	s.sessions[id] = sess
	s.writes++
	return nil
}

func (s *Store) PushToken(_ context.Context, user domain.UserID, role domain.Role) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[tokenKey{user, role}]
	if !ok || tok == "" {
		return "", domain.ErrNoPushToken
	}
	return tok, nil
}

func (s *Store) Close(context.Context) error { return nil }
