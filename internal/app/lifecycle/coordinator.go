// Package lifecycle owns readiness and the bounded, ordered shutdown drain.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"
)

var ErrDrainTimeout = errors.New("shutdown drain exceeded deadline")

// Step is one stage of the drain. Steps run in registration order and share
// the coordinator deadline.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

type Coordinator struct {
	Timeout time.Duration
	// Exit is called when the drain overruns Timeout.
	Exit func(code int)
	// Notify reports state to the host supervisor.
	Notify func(state string) error

	ready atomic.Bool
	mu    sync.Mutex
	steps []Step
	once  sync.Once
	err   error
}

func NewCoordinator(timeout time.Duration) *Coordinator {
	return &Coordinator{
		Timeout: timeout,
		Exit:    os.Exit,
		Notify:  sdNotify,
	}
}

func sdNotify(state string) error {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		return err
	}
	if !sent {
		log.Debug().Str("module", "lifecycle").Str("state", state).Msg("no supervisor socket")
	}
	return nil
}

func (c *Coordinator) Add(name string, run func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, Step{Name: name, Run: run})
}

// MarkReady flips readiness on and tells the supervisor.
func (c *Coordinator) MarkReady() {
	c.ready.Store(true)
	c.notify(daemon.SdNotifyReady)
	log.Info().Str("module", "lifecycle").Msg("ready")
}

func (c *Coordinator) Ready() bool { return c.ready.Load() }

func (c *Coordinator) notify(state string) {
	if c.Notify == nil {
		return
	}
	if err := c.Notify(state); err != nil {
		log.Warn().Err(err).Str("module", "lifecycle").Str("state", state).Msg("supervisor notify failed")
	}
}

// Shutdown runs every step once. Step errors are collected and the drain
// continues. If the whole drain outlives Timeout the process is force-exited.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() { c.err = c.shutdown(ctx) })
	return c.err
}

func (c *Coordinator) shutdown(parent context.Context) error {
	c.ready.Store(false)
	c.notify(daemon.SdNotifyStopping)

	c.mu.Lock()
	steps := append([]Step(nil), c.steps...)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.Timeout)
	defer cancel()

	log.Info().Str("module", "lifecycle").Dur("timeout", c.Timeout).Int("steps", len(steps)).Msg("shutdown started")

	done := make(chan error, 1)
	go func() {
		var errs []error
		for _, s := range steps {
			start := time.Now()
			if err := s.Run(ctx); err != nil {
				log.Error().Err(err).Str("module", "lifecycle").Str("step", s.Name).Msg("shutdown step failed")
				errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
				continue
			}
			log.Info().Str("module", "lifecycle").Str("step", s.Name).Dur("took", time.Since(start)).Msg("shutdown step done")
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		log.Info().Str("module", "lifecycle").Msg("shutdown complete")
		return err
	case <-ctx.Done():
		log.Error().Str("module", "lifecycle").Dur("timeout", c.Timeout).Msg("shutdown overran deadline, forcing exit")
		if c.Exit != nil {
			c.Exit(1)
		}
		return ErrDrainTimeout
	}
}
