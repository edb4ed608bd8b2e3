// Package notify delivers best-effort push notifications off the call path.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// TokenSource is the slice of the session store the dispatcher reads.
type TokenSource interface {
	PushToken(ctx context.Context, id domain.UserID, role domain.Role) (string, error)
}

type Options struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	return o
}

// Dispatcher queues incoming-call notifications for a fixed worker group.
// Every notification is attempted once; failures are logged and dropped.
type Dispatcher struct {
	tokens TokenSource
	sender core.PushSender
	opts   Options

	mu     sync.RWMutex
	closed bool
	queue  chan domain.IncomingCall
	wg     conc.WaitGroup
}

func NewDispatcher(tokens TokenSource, sender core.PushSender, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		tokens: tokens,
		sender: sender,
		opts:   opts,
		queue:  make(chan domain.IncomingCall, opts.QueueSize),
	}
	for range opts.Workers {
		d.wg.Go(d.worker)
	}
	return d
}

func (d *Dispatcher) worker() {
	for call := range d.queue {
		d.Deliver(context.Background(), call)
	}
}

// NotifyIncomingCall enqueues without blocking. It reports false when the
// queue is full or the dispatcher is closed.
func (d *Dispatcher) NotifyIncomingCall(call domain.IncomingCall) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- call:
		return true
	default:
		log.Warn().
			Str("module", "notify").
			Str("session", string(call.SessionID)).
			Str("user", string(call.Recipient)).
			Msg("push queue full, notification dropped")
		return false
	}
}

// Deliver resolves the recipient's token and sends one urgent push.
func (d *Dispatcher) Deliver(ctx context.Context, call domain.IncomingCall) bool {
	ctx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	l := log.With().
		Str("module", "notify").
		Str("session", string(call.SessionID)).
		Str("user", string(call.Recipient)).
		Logger()

	token, err := d.tokens.PushToken(ctx, call.Recipient, call.RecipientRole)
	if errors.Is(err, domain.ErrNoPushToken) {
		l.Debug().Msg("no push token registered")
		return false
	}
	if err != nil {
		l.Warn().Err(err).Msg("push token lookup failed")
		return false
	}

	if err := d.sender.Send(ctx, IncomingCallMessage(token, call)); err != nil {
		l.Warn().Err(err).Msg("push send failed")
		return false
	}
	l.Info().Msg("incoming call push sent")
	return true
}

// Close stops accepting work and waits for queued notifications to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("push drain: %w", ctx.Err())
	}
}

// IncomingCallMessage builds the calling-style push for call.
func IncomingCallMessage(token string, call domain.IncomingCall) core.PushMessage {
	kind := "voice"
	if call.CallType == "video" {
		kind = "video"
	}
	return core.PushMessage{
		Token: token,
		Title: "Incoming " + kind + " call",
		Body:  call.CallerName + " is calling you",
		Data: map[string]string{
			"type":       "incoming_call",
			"sessionId":  string(call.SessionID),
			"callerId":   string(call.CallerID),
			"callerName": call.CallerName,
			"callerType": string(call.CallerType),
			"callType":   call.CallType,
			"timestamp":  domain.FormatTime(call.At),
		},
		Urgent: true,
	}
}
