package orch

import (
	"context"
	"errors"
	"strings"

	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrRateLimited = errors.New("rate limited")

type InitiateRequest struct {
	SessionID  domain.SessionID
	CallerID   string
	CallerName string
	CallerType string
	CallType   string
}

type RejectRequest struct {
	SessionID domain.SessionID
	Reason    string
}

type EndRequest struct {
	SessionID domain.SessionID
	EndedBy   string
	Reason    string
}

const (
	defaultRejectReason = "declined"
	defaultEndReason    = "hangup"
)

// InitiateCall rings the counterpart: persist ringing, queue a push, then
// relay incoming_call. The counterpart is always derived from the session.
func (o *Orchestrator) InitiateCall(ctx context.Context, caller Caller, req InitiateRequest) error {
	if !o.begin() {
		return ErrShuttingDown
	}
	defer o.end()
	ctx = context.WithoutCancel(ctx)

	s, err := o.load(ctx, req.SessionID)
	if err != nil {
		return err
	}

	who := callerIdentity(caller, req.CallerID, req.CallerType)
	o.checkParticipant(s, who, domain.TriggerInitiate)
	counterpart := s.Counterpart(who)

	at := o.now()
	tr := domain.NewTransition(domain.TriggerInitiate, at)
	if s.IsParticipant(who.ID) {
		tr.InitiatedBy = who.ID
	}
	if err := o.persist(ctx, s, tr); err != nil {
		return err
	}

	callerName := strings.TrimSpace(req.CallerName)
	if callerName == "" {
		callerName = domain.DefaultCallerName
	}
	callerType := strings.TrimSpace(req.CallerType)
	if callerType == "" {
		callerType = string(who.Role)
	}
	callType := strings.TrimSpace(req.CallType)
	if callType == "" {
		callType = callTypeOf(s.Type)
	}

	if o.Notifier != nil {
		recipientRole := domain.RoleAstrologer
		if counterpart == s.UserID {
			recipientRole = domain.RoleUser
		}
		o.Notifier.NotifyIncomingCall(domain.IncomingCall{
			SessionID:     s.ID,
			CallerID:      who.ID,
			CallerName:    callerName,
			CallerType:    who.Role,
			CallType:      callType,
			Recipient:     counterpart,
			RecipientRole: recipientRole,
			At:            at,
		})
	}

	o.Relay.DeliverToUser(counterpart, app.EventIncomingCall, app.IncomingCallEvent{
		SessionID:  string(s.ID),
		CallerID:   string(who.ID),
		CallerType: callerType,
		CallType:   callType,
		CallerName: callerName,
		Timestamp:  domain.FormatTime(at),
	})
	return nil
}

// AnswerCall connects a ringing session and tells the initiator.
func (o *Orchestrator) AnswerCall(ctx context.Context, caller Caller, id domain.SessionID) error {
	if !o.begin() {
		return ErrShuttingDown
	}
	defer o.end()
	ctx = context.WithoutCancel(ctx)

	s, err := o.load(ctx, id)
	if err != nil {
		return err
	}
	o.checkParticipant(s, caller.Identity, domain.TriggerAnswer)

	tr := domain.NewTransition(domain.TriggerAnswer, o.now())
	if err := o.persist(ctx, s, tr); err != nil {
		return err
	}

	o.Relay.DeliverToUser(answerTarget(s, caller.Identity), app.EventCallAnswered, app.CallAnsweredEvent{
		SessionID:  string(s.ID),
		AnsweredAt: domain.FormatTime(*tr.StartedAt),
	})
	return nil
}

// RejectCall declines a ringing session; only the initiator hears about it.
func (o *Orchestrator) RejectCall(ctx context.Context, caller Caller, req RejectRequest) error {
	if !o.begin() {
		return ErrShuttingDown
	}
	defer o.end()
	ctx = context.WithoutCancel(ctx)

	s, err := o.load(ctx, req.SessionID)
	if err != nil {
		return err
	}
	o.checkParticipant(s, caller.Identity, domain.TriggerReject)

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultRejectReason
	}
	tr := domain.NewTransition(domain.TriggerReject, o.now())
	tr.EndReason = reason
	if err := o.persist(ctx, s, tr); err != nil {
		return err
	}

	o.Relay.DeliverToUser(s.Initiator(), app.EventCallRejected, app.CallRejectedEvent{
		SessionID: string(s.ID),
		Reason:    reason,
	})
	return nil
}

// EndCall completes the session and tells both parties.
func (o *Orchestrator) EndCall(ctx context.Context, caller Caller, req EndRequest) error {
	if !o.begin() {
		return ErrShuttingDown
	}
	defer o.end()
	ctx = context.WithoutCancel(ctx)

	s, err := o.load(ctx, req.SessionID)
	if err != nil {
		return err
	}
	o.checkParticipant(s, caller.Identity, domain.TriggerEnd)

	endedBy := strings.TrimSpace(req.EndedBy)
	if endedBy == "" {
		endedBy = string(caller.Identity.ID)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultEndReason
	}
	tr := domain.NewTransition(domain.TriggerEnd, o.now())
	tr.EndReason = reason
	if err := o.persist(ctx, s, tr); err != nil {
		return err
	}

	ev := app.CallEndedEvent{SessionID: string(s.ID), EndedBy: endedBy}
	for _, party := range s.Parties() {
		if n := o.Relay.DeliverToUser(party, app.EventCallEnded, ev); n == 0 {
			log.Debug().Str("module", "orch").Str("session", string(s.ID)).Str("user", string(party)).Msg("call_ended: party offline")
		}
	}
	return nil
}

// callerIdentity prefers the authenticated binding over request fields.
func callerIdentity(caller Caller, id, role string) domain.Identity {
	if !caller.Identity.IsZero() {
		return caller.Identity
	}
	who := domain.Identity{ID: domain.UserID(strings.TrimSpace(id)), Role: domain.RoleUser}
	if r, err := domain.ParseRole(role); err == nil {
		who.Role = r
	}
	return who
}

// answerTarget is the party that placed the call, never the answerer itself.
func answerTarget(s *domain.Session, caller domain.Identity) domain.UserID {
	target := s.Initiator()
	if !caller.IsZero() && target == caller.ID {
		return s.Counterpart(caller)
	}
	return target
}

func callTypeOf(t domain.SessionType) string {
	if t == domain.SessionVideoCall {
		return "video"
	}
	return "voice"
}
