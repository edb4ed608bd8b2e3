package orch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrShuttingDown = errors.New("shutting down")

// Orchestrator drives the call lifecycle: validate, persist, notify, relay.
type Orchestrator struct {
	Store    core.SessionStore
	Relay    *app.Relay
	Notifier core.Notifier
	Now      func() time.Time

	mu       sync.Mutex
	draining bool
	pending  sync.WaitGroup
}

func New(store core.SessionStore, relay *app.Relay, notifier core.Notifier) *Orchestrator {
	return &Orchestrator{
		Store:    store,
		Relay:    relay,
		Notifier: notifier,
		Now:      time.Now,
	}
}

// Caller is the connection a trigger arrived on and whatever identity it
// authenticated as. Identity may be zero.
type Caller struct {
	Conn     core.ConnID
	Identity domain.Identity
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.draining {
		return false
	}
	o.pending.Add(1)
	return true
}

func (o *Orchestrator) end() { o.pending.Done() }

// Wait stops admitting transitions and blocks until the running ones finish
// or ctx expires.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	o.draining = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// load fetches the session and rejects non-call sessions.
func (o *Orchestrator) load(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	if id == "" {
		return nil, domain.ErrSessionNotFound
	}
	s, err := o.Store.FindSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Type.IsCall() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrNotCallSession, id, s.Type)
	}
	return s, nil
}

// persist validates tr against the loaded state, writes it and mirrors it on s.
// Nothing is written when the transition is not allowed.
func (o *Orchestrator) persist(ctx context.Context, s *domain.Session, tr domain.Transition) error {
	if !tr.Allows(s.Status) {
		return fmt.Errorf("%w: %s from %s", domain.ErrInvalidTransition, tr.Trigger, s.Status)
	}
	if err := o.Store.ApplyTransition(ctx, s.ID, tr); err != nil {
		return fmt.Errorf("persist %s: %w", tr.Trigger, err)
	}
	from := s.Status
	tr.Apply(s)
	log.Info().
		Str("module", "orch").
		Str("session", string(s.ID)).
		Str("trigger", string(tr.Trigger)).
		Str("from", string(from)).
		Str("to", string(s.Status)).
		Msg("transition persisted")
	return nil
}

func (o *Orchestrator) checkParticipant(s *domain.Session, caller domain.Identity, trigger domain.Trigger) {
	if caller.IsZero() || s.IsParticipant(caller.ID) {
		return
	}
	log.Warn().
		Str("module", "orch").
		Str("session", string(s.ID)).
		Str("user", string(caller.ID)).
		Str("trigger", string(trigger)).
		Bool("participant", false).
		Msg("trigger from non-participant")
}

// ErrorMessage is the human-readable call_error text for a failed trigger.
func ErrorMessage(t domain.Trigger, err error) string {
	verb := strings.ReplaceAll(string(t), "_", " ")
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return "Session not found"
	case errors.Is(err, domain.ErrNotCallSession):
		return "Session is not a call"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "Cannot " + verb + " in the current session state"
	case errors.Is(err, ErrShuttingDown):
		return "Server is shutting down"
	case errors.Is(err, ErrRateLimited):
		return "Too many call attempts, try again later"
	default:
		return "Failed to " + verb
	}
}
