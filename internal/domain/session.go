package domain

import "time"

type SessionID string

type Status string

const (
	StatusPending   Status = "pending"
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

type SessionType string

const (
	SessionVoiceCall SessionType = "voice_call"
	SessionVideoCall SessionType = "video_call"
	SessionChat      SessionType = "chat"
)

func (t SessionType) IsCall() bool {
	return t == SessionVoiceCall || t == SessionVideoCall
}

// Session is the persisted call/chat record. Only the fields the call
// lifecycle reads or writes are mapped.
type Session struct {
	ID           SessionID   `json:"id"`
	Status       Status      `json:"status"`
	Type         SessionType `json:"session_type"`
	UserID       UserID      `json:"user_id"`
	AstrologerID UserID      `json:"astrologer_id"`
	InitiatedBy  UserID      `json:"initiated_by,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
	EndReason    string      `json:"end_reason,omitempty"`
}

func (s *Session) IsParticipant(id UserID) bool {
	return id != "" && (id == s.UserID || id == s.AstrologerID)
}

// Counterpart resolves the other party relative to caller. The result is
// always one of the session's own ids, never a request-supplied target.
func (s *Session) Counterpart(caller Identity) UserID {
	switch {
	case caller.ID != "" && caller.ID == s.UserID:
		return s.AstrologerID
	case caller.ID != "" && caller.ID == s.AstrologerID:
		return s.UserID
	case caller.Role == RoleAstrologer:
		return s.UserID
	default:
		return s.AstrologerID
	}
}

// Initiator is whoever placed the call; sessions rung before initiated_by
// existed fall back to the customer.
func (s *Session) Initiator() UserID {
	if s.InitiatedBy != "" {
		return s.InitiatedBy
	}
	return s.UserID
}

// Parties returns both participants, customer first.
func (s *Session) Parties() []UserID {
	return []UserID{s.UserID, s.AstrologerID}
}

// TimeFormat is the wire format for event timestamps (ISO-8601, millisecond precision, UTC).
const TimeFormat = "2006-01-02T15:04:05.000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
