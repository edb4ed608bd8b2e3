package signal

import (
	"context"
	"errors"

	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/app/orch"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

type initiateCallPayload struct {
	SessionID  string `json:"sessionId" validate:"required"`
	CallerID   string `json:"callerId" validate:"max=64"`
	CallerName string `json:"callerName" validate:"max=128"`
	CallerType string `json:"callerType"`
	CallType   string `json:"callType"`
}

type answerCallPayload struct {
	SessionID string `json:"sessionId" validate:"required"`
}

type rejectCallPayload struct {
	SessionID string `json:"sessionId" validate:"required"`
	Reason    string `json:"reason" validate:"max=256"`
}

type endCallPayload struct {
	SessionID string `json:"sessionId" validate:"required"`
	EndedBy   string `json:"endedBy" validate:"max=64"`
	Reason    string `json:"reason" validate:"max=256"`
}

func (ctl *SignalWSController) caller(conn *wsSignalConn) orch.Caller {
	ident, _ := ctl.Registry.Lookup(conn.id)
	return orch.Caller{Conn: conn.id, Identity: ident}
}

func (ctl *SignalWSController) handleInitiateCall(ctx context.Context, conn *wsSignalConn, data []byte) {
	var p initiateCallPayload
	if !ctl.decode(conn.id, inInitiateCall, data, &p) {
		return
	}
	caller := ctl.caller(conn)
	limitKey := caller.Identity.ID
	if limitKey == "" {
		limitKey = domain.UserID(p.CallerID)
	}
	if limitKey == "" {
		limitKey = domain.UserID("conn:" + string(conn.id))
	}
	if !ctl.Limiter.Allow(limitKey) {
		ctl.callError(conn, domain.TriggerInitiate, domain.SessionID(p.SessionID), orch.ErrRateLimited)
		return
	}

	err := ctl.Orch.InitiateCall(ctx, caller, orch.InitiateRequest{
		SessionID:  domain.SessionID(p.SessionID),
		CallerID:   p.CallerID,
		CallerName: p.CallerName,
		CallerType: p.CallerType,
		CallType:   p.CallType,
	})
	if err != nil {
		ctl.callError(conn, domain.TriggerInitiate, domain.SessionID(p.SessionID), err)
	}
}

func (ctl *SignalWSController) handleAnswerCall(ctx context.Context, conn *wsSignalConn, data []byte) {
	var p answerCallPayload
	if !ctl.decode(conn.id, inAnswerCall, data, &p) {
		return
	}
	if err := ctl.Orch.AnswerCall(ctx, ctl.caller(conn), domain.SessionID(p.SessionID)); err != nil {
		ctl.callError(conn, domain.TriggerAnswer, domain.SessionID(p.SessionID), err)
	}
}

func (ctl *SignalWSController) handleRejectCall(ctx context.Context, conn *wsSignalConn, data []byte) {
	var p rejectCallPayload
	if !ctl.decode(conn.id, inRejectCall, data, &p) {
		return
	}
	err := ctl.Orch.RejectCall(ctx, ctl.caller(conn), orch.RejectRequest{
		SessionID: domain.SessionID(p.SessionID),
		Reason:    p.Reason,
	})
	if err != nil {
		ctl.callError(conn, domain.TriggerReject, domain.SessionID(p.SessionID), err)
	}
}

func (ctl *SignalWSController) handleEndCall(ctx context.Context, conn *wsSignalConn, data []byte) {
	var p endCallPayload
	if !ctl.decode(conn.id, inEndCall, data, &p) {
		return
	}
	err := ctl.Orch.EndCall(ctx, ctl.caller(conn), orch.EndRequest{
		SessionID: domain.SessionID(p.SessionID),
		EndedBy:   p.EndedBy,
		Reason:    p.Reason,
	})
	if err != nil {
		ctl.callError(conn, domain.TriggerEnd, domain.SessionID(p.SessionID), err)
	}
}

// callError reports a failed trigger to the sender only.
func (ctl *SignalWSController) callError(conn *wsSignalConn, t domain.Trigger, id domain.SessionID, err error) {
	ev := log.Warn()
	if !errors.Is(err, domain.ErrSessionNotFound) &&
		!errors.Is(err, domain.ErrInvalidTransition) &&
		!errors.Is(err, domain.ErrNotCallSession) &&
		!errors.Is(err, orch.ErrRateLimited) &&
		!errors.Is(err, orch.ErrShuttingDown) {
		ev = log.Error()
	}
	ev.Err(err).
		Str("module", "signal").
		Str("conn", string(conn.id)).
		Str("session", string(id)).
		Str("trigger", string(t)).
		Msg("call trigger failed")
	ctl.Relay.SendTo(conn.id, app.EventCallError, app.CallErrorEvent{Error: orch.ErrorMessage(t, err)})
}
