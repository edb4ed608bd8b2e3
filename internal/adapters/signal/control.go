package signal

import "github.com/dkeye/callsignal/internal/app"

func (ctl *SignalWSController) handlePing(conn *wsSignalConn) {
	ctl.Relay.SendTo(conn.id, app.EventPong, nil)
}
