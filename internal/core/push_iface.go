package core

import (
	"context"

	"github.com/dkeye/callsignal/internal/domain"
)

// PushMessage is a platform-neutral push notification.
type PushMessage struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
	// Urgent asks for high priority, calling-style presentation.
	Urgent bool
}

type PushSender interface {
	Send(ctx context.Context, msg PushMessage) error
}

// Notifier accepts incoming-call notifications without blocking the caller.
type Notifier interface {
	NotifyIncomingCall(call domain.IncomingCall) bool
}
