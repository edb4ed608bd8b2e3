package signal

import (
	"github.com/dkeye/callsignal/internal/adapters/rtc"
	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type negotiationPayload struct {
	SessionID    string                     `json:"sessionId" validate:"required"`
	TargetUserID string                     `json:"targetUserId" validate:"required,max=64"`
	Offer        *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer       *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// negotiationEvent is what the target receives: the sender's payload plus
// the authenticated sender id.
type negotiationEvent struct {
	SessionID    string                     `json:"sessionId"`
	TargetUserID string                     `json:"targetUserId"`
	FromUserID   string                     `json:"fromUserId"`
	Offer        *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer       *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func checkNegotiation(event string, p *negotiationPayload) error {
	switch event {
	case app.EventWebRTCOffer:
		return rtc.CheckDescription(p.Offer, webrtc.SDPTypeOffer)
	case app.EventWebRTCAnswer:
		return rtc.CheckDescription(p.Answer, webrtc.SDPTypeAnswer)
	default:
		return rtc.CheckCandidate(p.Candidate)
	}
}

// handleNegotiation forwards offer/answer/candidate to the target user's
// room. The payload is not interpreted beyond its shape.
func (ctl *SignalWSController) handleNegotiation(conn *wsSignalConn, event string, data []byte) {
	var p negotiationPayload
	if !ctl.decode(conn.id, event, data, &p) {
		return
	}
	if err := checkNegotiation(event, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn.id)).Str("event", event).Msg("malformed payload")
		return
	}
	from, ok := ctl.Registry.Lookup(conn.id)
	if !ok {
		log.Warn().Str("module", "signal").Str("conn", string(conn.id)).Str("event", event).Msg("negotiation before authenticate")
		return
	}

	ctl.Relay.DeliverToUser(domain.UserID(p.TargetUserID), event, negotiationEvent{
		SessionID:    p.SessionID,
		TargetUserID: p.TargetUserID,
		FromUserID:   string(from.ID),
		Offer:        p.Offer,
		Answer:       p.Answer,
		Candidate:    p.Candidate,
	})
}
