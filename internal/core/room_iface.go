package core

import (
	"github.com/dkeye/callsignal/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the relay.
type PublishResult struct {
	SendTo  int
	Dropped []ConnID
}

// RoomService is a set of live connections sharing a room name.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Name() domain.RoomName
	MemberCount() int
	MemberIDs() []ConnID

	// AddMember reports false when the connection already was a member.
	AddMember(id ConnID, conn SignalConnection) bool
	RemoveMember(id ConnID)
	Broadcast(data Frame) PublishResult
}

type RoomInfo struct {
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}
