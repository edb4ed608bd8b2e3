package rtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/callsignal/internal/config"
	"github.com/pion/webrtc/v4"
)

var (
	ErrEmptySDP       = errors.New("empty sdp")
	ErrWrongSDPType   = errors.New("unexpected sdp type")
	ErrEmptyCandidate = errors.New("candidate without sdpMid or sdpMLineIndex")
)

// DefaultICEServers is used when nothing is configured.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// ICEServers converts configured STUN/TURN entries for clients.
func ICEServers(servers []config.ICEServer) []webrtc.ICEServer {
	if len(servers) == 0 {
		return DefaultICEServers()
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		ice := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
			ice.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, ice)
	}
	return out
}

// CheckDescription is a structural check only: the SDP is forwarded untouched.
func CheckDescription(sd *webrtc.SessionDescription, want webrtc.SDPType) error {
	if sd == nil || strings.TrimSpace(sd.SDP) == "" {
		return ErrEmptySDP
	}
	if sd.Type != want {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongSDPType, sd.Type, want)
	}
	return nil
}

// CheckCandidate accepts end-of-candidates (empty candidate string) but
// requires a media line reference for real candidates.
func CheckCandidate(c *webrtc.ICECandidateInit) error {
	if c == nil {
		return ErrEmptyCandidate
	}
	if c.Candidate != "" && c.SDPMid == nil && c.SDPMLineIndex == nil {
		return ErrEmptyCandidate
	}
	return nil
}
