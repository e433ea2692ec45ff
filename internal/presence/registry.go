// Package presence tracks which connections are joined to which rooms and
// under what display name. State is in memory only and advisory.
package presence

import (
	"sort"
	"sync"
)

// RoomRoster is the roster of one room after a change.
type RoomRoster struct {
	Room  string
	Users []string
}

type member struct {
	name string
	seq  uint64
}

type room struct {
	mu      sync.Mutex
	members map[string]member
}

// Registry is guarded at two levels: mu protects the room and connection
// indexes, each room's own lock protects its member set.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
	conns map[string]map[string]struct{}
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds connId to the room under name, replacing the name if the
// connection is already present, and returns the room's roster.
func (r *Registry) Join(roomKey, connId, name string) []string {
	r.mu.Lock()
	rm, ok := r.rooms[roomKey]
	if !ok {
		rm = &room{members: make(map[string]member)}
		r.rooms[roomKey] = rm
	}
	if r.conns[connId] == nil {
		r.conns[connId] = make(map[string]struct{})
	}
	r.conns[connId][roomKey] = struct{}{}
	r.seq++
	seq := r.seq
	rm.mu.Lock()
	r.mu.Unlock()
	defer rm.mu.Unlock()

	if existing, ok := rm.members[connId]; ok {
		seq = existing.seq
	}
	rm.members[connId] = member{name: name, seq: seq}
	return rm.rosterLocked()
}

// Leave removes connId from the room. The returned bool is false when the
// connection was not in the room, in which case nothing changed.
func (r *Registry) Leave(roomKey, connId string) ([]string, bool) {
	r.mu.Lock()
	rm, ok := r.rooms[roomKey]
	if !ok {
		r.mu.Unlock()
		return []string{}, false
	}
	if rooms, ok := r.conns[connId]; ok {
		delete(rooms, roomKey)
		if len(rooms) == 0 {
			delete(r.conns, connId)
		}
	}
	rm.mu.Lock()
	_, present := rm.members[connId]
	delete(rm.members, connId)
	roster := rm.rosterLocked()
	if len(rm.members) == 0 {
		delete(r.rooms, roomKey)
	}
	rm.mu.Unlock()
	r.mu.Unlock()

	return roster, present
}

// Disconnect removes connId from every room it joined and returns the
// updated roster of each affected room.
func (r *Registry) Disconnect(connId string) []RoomRoster {
	r.mu.Lock()
	rooms := r.conns[connId]
	delete(r.conns, connId)
	keys := make([]string, 0, len(rooms))
	for k := range rooms {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)

	out := make([]RoomRoster, 0, len(keys))
	for _, k := range keys {
		roster, present := r.removeFromRoom(k, connId)
		if present {
			out = append(out, RoomRoster{Room: k, Users: roster})
		}
	}
	return out
}

func (r *Registry) removeFromRoom(roomKey, connId string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomKey]
	if !ok {
		return []string{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, present := rm.members[connId]
	delete(rm.members, connId)
	if len(rm.members) == 0 {
		delete(r.rooms, roomKey)
	}
	return rm.rosterLocked(), present
}

// Roster returns the display names currently joined to the room, in join
// order.
func (r *Registry) Roster(roomKey string) []string {
	var names []string
	if !r.withRoom(roomKey, func(rm *room) { names = rm.rosterLocked() }) {
		return []string{}
	}
	return names
}

// Members returns the connection ids joined to the room.
func (r *Registry) Members(roomKey string) []string {
	var ids []string
	r.withRoom(roomKey, func(rm *room) {
		ids = make([]string, 0, len(rm.members))
		for id := range rm.members {
			ids = append(ids, id)
		}
	})
	sort.Strings(ids)
	return ids
}

// Rooms returns the rooms connId is currently joined to.
func (r *Registry) Rooms(connId string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.conns[connId]))
	for k := range r.conns[connId] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// withRoom runs fn under both the registry lock and the room lock.
func (r *Registry) withRoom(roomKey string, fn func(rm *room)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomKey]
	if !ok {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	fn(rm)
	return true
}

func (rm *room) rosterLocked() []string {
	ms := make([]member, 0, len(rm.members))
	for _, m := range rm.members {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].seq < ms[j].seq })

	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.name
	}
	return names
}
