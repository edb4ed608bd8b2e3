package app

import (
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

// Relay forwards events to the rooms resolved through the Registry.
// It never blocks on a receiver and never reports offline targets as errors.
type Relay struct {
	Registry *Registry
	Policy   Policy
}

func NewRelay(reg *Registry, policy Policy) *Relay {
	return &Relay{Registry: reg, Policy: policy}
}

// DeliverToUser enqueues the event on every connection of target and
// returns how many accepted it. Zero means the user is offline.
func (r *Relay) DeliverToUser(target domain.UserID, event string, payload any) int {
	if target == "" {
		log.Debug().Str("module", "app.relay").Str("event", event).Msg("delivery miss: empty target")
		return 0
	}
	return r.deliver(domain.UserRoom(target), event, payload)
}

// BroadcastToRole is DeliverToUser for the role-wide room.
func (r *Relay) BroadcastToRole(role domain.Role, event string, payload any) int {
	return r.deliver(domain.RoleRoom(role), event, payload)
}

// SendTo writes directly to one connection, used for replies to the sender.
func (r *Relay) SendTo(id core.ConnID, event string, payload any) bool {
	conn, ok := r.Registry.Conn(id)
	if !ok {
		return false
	}
	frame, err := Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("event", event).Msg("encode")
		return false
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("conn", string(id)).Str("event", event).Msg("reply dropped")
		return false
	}
	return true
}

func (r *Relay) deliver(name domain.RoomName, event string, payload any) int {
	frame, err := Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("event", event).Msg("encode")
		return 0
	}
	room, res, ok := r.Registry.Broadcast(name, frame)
	if !ok {
		log.Debug().Str("module", "app.relay").Str("room", name.String()).Str("event", event).Msg("delivery miss: room empty")
		return 0
	}
	if len(res.Dropped) > 0 {
		r.onDropped(room, res.Dropped)
	}
	log.Debug().Str("module", "app.relay").Str("room", name.String()).Str("event", event).Int("sent_to", res.SendTo).Msg("relayed")
	return res.SendTo
}

func (r *Relay) onDropped(room core.RoomService, dropped []core.ConnID) {
	if r.Policy == nil {
		return
	}
	for _, id := range dropped {
		switch r.Policy.OnBackPressure(room, id) {
		case KickMember:
			log.Warn().Str("module", "app.relay").Str("conn", string(id)).Str("room", room.Name().String()).Msg("slow consumer kicked")
			if conn, ok := r.Registry.Conn(id); ok {
				conn.Close()
			}
			r.Registry.Cancel(id)
		case DropFrame, NoAction:
		}
	}
}
