package app

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrUnknownConnection = errors.New("unknown connection")

type connEntry struct {
	Conn     core.SignalConnection
	Identity domain.Identity
	Rooms    []domain.RoomName
	Cancel   context.CancelFunc
}

// Registry is the presence routing table: connection -> identity and rooms.
// It is not a liveness oracle; nobody is told when an entry goes away.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
	rooms map[domain.RoomName]core.RoomService
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[core.ConnID]*connEntry),
		rooms: make(map[domain.RoomName]core.RoomService),
	}
}

// BindSignal records a freshly opened connection. It has no identity and
// belongs to no room until Authenticate.
func (r *Registry) BindSignal(id core.ConnID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("bound signal")
}

// Authenticate binds ident to the connection, replacing any previous
// binding. Rooms of the old identity that the new one does not need are left.
func (r *Registry) Authenticate(id core.ConnID, ident domain.Identity) error {
	if ident.IsZero() {
		return domain.ErrEmptyUserID
	}
	want := []domain.RoomName{domain.UserRoom(ident.ID)}
	if domain.JoinsRoleRoom(ident.Role) {
		want = append(want, domain.RoleRoom(ident.Role))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	for _, name := range entry.Rooms {
		if !slices.Contains(want, name) {
			r.leaveLocked(id, name)
		}
	}
	for _, name := range want {
		room, ok := r.rooms[name]
		if !ok {
			room = core.NewRoomService(name)
			r.rooms[name] = room
		}
		room.AddMember(id, entry.Conn)
	}
	entry.Identity = ident
	entry.Rooms = want
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(ident.ID)).Str("role", string(ident.Role)).Msg("authenticated")
	return nil
}

// Lookup returns the last identity bound to the connection.
func (r *Registry) Lookup(id core.ConnID) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[id]
	if !ok || entry.Identity.IsZero() {
		return domain.Identity{}, false
	}
	return entry.Identity, true
}

// Deregister drops the connection and its room memberships.
func (r *Registry) Deregister(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[id]
	if !ok {
		return
	}
	for _, name := range entry.Rooms {
		r.leaveLocked(id, name)
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(entry.Identity.ID)).Msg("deregistered")
}

func (r *Registry) leaveLocked(id core.ConnID, name domain.RoomName) {
	room, ok := r.rooms[name]
	if !ok {
		return
	}
	room.RemoveMember(id)
	if room.MemberCount() == 0 {
		delete(r.rooms, name)
	}
}

func (r *Registry) Room(name domain.RoomName) (core.RoomService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	return room, ok
}

// Broadcast fans frame out to the named room while membership is pinned,
// so a concurrent Deregister/Authenticate cannot swap the room underneath.
func (r *Registry) Broadcast(name domain.RoomName, frame core.Frame) (core.RoomService, core.PublishResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	if !ok {
		return nil, core.PublishResult{}, false
	}
	return room, room.Broadcast(frame), true
}

func (r *Registry) Conn(id core.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return entry.Conn, true
}

// RoomsOf lists the rooms the connection currently belongs to.
func (r *Registry) RoomsOf(id core.ConnID) []domain.RoomName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[id]
	if !ok {
		return nil
	}
	return slices.Clone(entry.Rooms)
}

func (r *Registry) Presence(user domain.UserID) domain.Presence {
	p := domain.Presence{UserID: user}
	if room, ok := r.Room(domain.UserRoom(user)); ok {
		p.Connections = room.MemberCount()
	}
	p.Online = p.Connections > 0
	return p
}

func (r *Registry) Rooms() []core.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(r.rooms))
	for name, room := range r.rooms {
		out = append(out, core.RoomInfo{Name: name.String(), MemberCount: room.MemberCount()})
	}
	return out
}

// ConnIDs is a snapshot of every bound connection.
func (r *Registry) ConnIDs() []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnID, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Cancel(id core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}
