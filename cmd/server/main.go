package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/callsignal/internal/adapters/http"
	"github.com/dkeye/callsignal/internal/adapters/push"
	sig "github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/adapters/store"
	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/app/lifecycle"
	"github.com/dkeye/callsignal/internal/app/notify"
	"github.com/dkeye/callsignal/internal/app/orch"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/dkeye/callsignal/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func newPushSender(ctx context.Context, cfg config.PushConfig) core.PushSender {
	if !cfg.Enabled {
		return push.Disabled{}
	}
	sender, err := push.NewFCMSender(ctx, cfg.ProjectID, cfg.CredentialsFile)
	if err != nil {
		log.Error().Err(err).Msg("push disabled: fcm init failed")
		return push.Disabled{}
	}
	return sender
}

func run(ctx context.Context, cfg *config.Config) error {
	sessions, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(sessions, newPushSender(ctx, cfg.Push), notify.Options{
		Workers:     cfg.Push.Workers,
		QueueSize:   cfg.Push.QueueSize,
		SendTimeout: cfg.Push.SendTimeout,
	})

	reg := app.NewRegistry()
	relay := app.NewRelay(reg, app.SimplePolicy{})
	calls := orch.New(sessions, relay, dispatcher)
	limiter := app.NewRateLimiter(cfg.RateLimit.InitiateCalls, cfg.RateLimit.Interval)

	ctl := sig.NewSignalWSController(reg, relay, calls, limiter, sig.Options{
		ReadLimit:    cfg.WS.ReadLimit,
		PingPeriod:   cfg.WS.PingPeriod,
		PongWait:     cfg.WS.PongWait,
		WriteTimeout: cfg.WS.WriteTimeout,
		SendBuffer:   cfg.WS.SendBuffer,
	})

	coord := lifecycle.NewCoordinator(cfg.ShutdownTimeout)

	r := router.SetupRouter(cfg, router.Deps{
		Signal:   ctl,
		Registry: reg,
		Relay:    relay,
		Store:    sessions,
		Ready:    coord.Ready,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// hijacked websockets are not tracked by srv.Shutdown
	coord.Add("http", srv.Shutdown)
	coord.Add("signal", ctl.CloseAll)
	coord.Add("transitions", calls.Wait)
	coord.Add("push", dispatcher.Close)
	coord.Add("store", sessions.Close)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = sessions.Close(context.Background())
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("store", cfg.Store.Driver).Bool("push", cfg.Push.Enabled).Msg("call signaling server started")
		coord.MarkReady()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				limiter.Prune()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		return coord.Shutdown(context.Background())
	})
	return g.Wait()
}
