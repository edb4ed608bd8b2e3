package app

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/dkeye/callsignal/internal/core"
)

// Outbound event names.
const (
	EventAuthenticated   = "authenticated"
	EventIncomingCall    = "incoming_call"
	EventCallAnswered    = "call_answered"
	EventCallRejected    = "call_rejected"
	EventCallEnded       = "call_ended"
	EventCallError       = "call_error"
	EventWebRTCOffer     = "webrtc_offer"
	EventWebRTCAnswer    = "webrtc_answer"
	EventWebRTCCandidate = "webrtc_ice_candidate"
	EventPong            = "pong"
)

var ErrPayloadNotObject = errors.New("payload must encode to a JSON object")

type AuthenticatedEvent struct {
	Success  bool   `json:"success"`
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
}

type IncomingCallEvent struct {
	SessionID  string `json:"sessionId"`
	CallerID   string `json:"callerId"`
	CallerType string `json:"callerType"`
	CallType   string `json:"callType"`
	CallerName string `json:"callerName"`
	Timestamp  string `json:"timestamp"`
}

type CallAnsweredEvent struct {
	SessionID  string `json:"sessionId"`
	AnsweredAt string `json:"answeredAt"`
}

type CallRejectedEvent struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type CallEndedEvent struct {
	SessionID string `json:"sessionId"`
	EndedBy   string `json:"endedBy"`
}

type CallErrorEvent struct {
	Error string `json:"error"`
}

// Encode produces the wire frame {"type": event, ...payload fields}.
func Encode(event string, payload any) (core.Frame, error) {
	if payload == nil {
		payload = struct{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, ErrPayloadNotObject
	}
	typ, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.Grow(len(body) + len(typ) + 10)
	b.WriteString(`{"type":`)
	b.Write(typ)
	if len(bytes.TrimSpace(body[1:len(body)-1])) > 0 {
		b.WriteByte(',')
		b.Write(body[1:])
	} else {
		b.WriteByte('}')
	}
	return b.Bytes(), nil
}
