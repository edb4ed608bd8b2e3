package signal

import (
	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

type authenticatePayload struct {
	UserID   string `json:"userId" validate:"required,max=64"`
	UserType string `json:"userType" validate:"required"`
}

// handleAuthenticate binds an identity to the connection. Bad input is
// logged and ignored; the connection stays open.
func (ctl *SignalWSController) handleAuthenticate(conn *wsSignalConn, data []byte) {
	var p authenticatePayload
	if !ctl.decode(conn.id, inAuthenticate, data, &p) {
		return
	}
	ident, err := domain.NewIdentity(p.UserID, p.UserType)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn.id)).Msg("authenticate rejected")
		return
	}
	if err := ctl.Registry.Authenticate(conn.id, ident); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn.id)).Msg("authenticate failed")
		return
	}
	ctl.Relay.SendTo(conn.id, app.EventAuthenticated, app.AuthenticatedEvent{
		Success:  true,
		UserID:   string(ident.ID),
		UserType: p.UserType,
	})
}
