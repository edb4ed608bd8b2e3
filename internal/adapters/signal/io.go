package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Inbound event names.
const (
	inAuthenticate = "authenticate"
	inInitiateCall = "initiate_call"
	inAnswerCall   = "answer_call"
	inRejectCall   = "reject_call"
	inEndCall      = "end_call"
	inPing         = "ping"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		ctl.pumps.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump flushed")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Opts.WriteTimeout)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ping")
				return
			}
		}
	}
}

// readPump handles one inbound event at a time, which keeps relays from a
// single connection in order.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *wsSignalConn) {
	defer func() {
		ctl.Registry.Deregister(c.id)
		c.Close()
		cancel()
		ctl.forget(c.id)
		ctl.pumps.Done()
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
	}()

	c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	}
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
			}
			return
		}
		_ = extend()
		ctl.handleSignal(ctx, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, c *wsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad json")
		return
	}

	switch env.Type {
	case inAuthenticate:
		ctl.handleAuthenticate(c, data)
	case inInitiateCall:
		ctl.handleInitiateCall(ctx, c, data)
	case inAnswerCall:
		ctl.handleAnswerCall(ctx, c, data)
	case inRejectCall:
		ctl.handleRejectCall(ctx, c, data)
	case inEndCall:
		ctl.handleEndCall(ctx, c, data)
	case app.EventWebRTCOffer, app.EventWebRTCAnswer, app.EventWebRTCCandidate:
		ctl.handleNegotiation(c, env.Type, data)
	case inPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("conn", string(c.id)).Str("type", env.Type).Msg("unknown signal")
	}
}

// decode parses and validates an inbound payload. Malformed input is logged
// and dropped without a reply.
func (ctl *SignalWSController) decode(id core.ConnID, event string, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Str("event", event).Msg("malformed payload")
		return false
	}
	if err := ctl.validate.Struct(v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Str("event", event).Msg("malformed payload")
		return false
	}
	return true
}
