package core

import (
	"errors"
	"sync"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	name    domain.RoomName
	mu      sync.RWMutex
	members map[ConnID]SignalConnection
}

func NewRoomService(name domain.RoomName) RoomService {
	return &roomImpl{
		name:    name,
		members: make(map[ConnID]SignalConnection),
	}
}

func (r *roomImpl) Name() domain.RoomName { return r.name }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) MemberIDs() []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnID, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

func (r *roomImpl) AddMember(id ConnID, conn SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; ok {
		return false
	}
	r.members[id] = conn
	log.Debug().Str("module", "core.room").Str("room", r.name.String()).Str("conn", string(id)).Msg("member added")
	return true
}

func (r *roomImpl) RemoveMember(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
	log.Debug().Str("module", "core.room").Str("room", r.name.String()).Str("conn", string(id)).Msg("member removed")
}

// Broadcast enqueues data on every member. The read lock is held for the
// whole fan-out so a concurrent join or leave is seen entirely or not at all.
// Only back-pressured members are reported as dropped; closing ones are skipped.
func (r *roomImpl) Broadcast(data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, conn := range r.members {
		if err := conn.TrySend(data); err != nil {
			if errors.Is(err, ErrBackpressure) {
				res.Dropped = append(res.Dropped, id)
			}
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", r.name.String()).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
