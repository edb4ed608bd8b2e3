package core

import (
	"context"

	"github.com/dkeye/callsignal/internal/domain"
)

// SessionStore is the persistent session collaborator.
// Implementations hold a pooled client and are safe for concurrent use.
type SessionStore interface {
	// FindSession returns domain.ErrSessionNotFound for unknown ids.
	FindSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	// ApplyTransition persists tr. It returns domain.ErrSessionNotFound when
	// the record is gone and domain.ErrInvalidTransition when the stored status
	// is no longer admitted by tr.From.
	ApplyTransition(ctx context.Context, id domain.SessionID, tr domain.Transition) error
	// PushToken returns domain.ErrNoPushToken when the user has none.
	PushToken(ctx context.Context, id domain.UserID, role domain.Role) (string, error)
	Close(ctx context.Context) error
}
