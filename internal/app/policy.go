package app

import "github.com/dkeye/callsignal/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose outbound queue is full.
type Policy interface {
	OnBackPressure(room core.RoomService, id core.ConnID) BackpressureAction
}

// SimplePolicy kicks slow consumers.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, id core.ConnID) BackpressureAction {
	return KickMember
}
