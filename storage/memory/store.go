package memory

import (
	"sort"
	"sync"
)

// Roster tracks live room membership in two mirrored maps, one per query
// direction. Both maps are updated under the same lock, so for every
// (user, room) pair: room ∈ userRooms[user] ⟺ user ∈ roomUsers[room],
// and no key ever maps to an empty set.
type Roster struct {
	mx        *sync.RWMutex
	userRooms map[string]map[string]struct{}
	roomUsers map[string]map[string]struct{}
}

func NewRoster() *Roster {
	return &Roster{
		mx:        &sync.RWMutex{},
		userRooms: make(map[string]map[string]struct{}),
		roomUsers: make(map[string]map[string]struct{}),
	}
}

func (r *Roster) Join(user, room string) {
	r.mx.Lock()
	defer r.mx.Unlock()

	insert(r.userRooms, user, room)
	insert(r.roomUsers, room, user)
}

func (r *Roster) Leave(user, room string) {
	r.mx.Lock()
	defer r.mx.Unlock()

	remove(r.userRooms, user, room)
	remove(r.roomUsers, room, user)
}

func (r *Roster) UserRooms(user string) []string {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return members(r.userRooms[user])
}

func (r *Roster) RoomUsers(room string) []string {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return members(r.roomUsers[room])
}

// Rooms returns a point-in-time copy of every room and its members.
func (r *Roster) Rooms() map[string][]string {
	r.mx.RLock()
	defer r.mx.RUnlock()

	out := make(map[string][]string, len(r.roomUsers))
	for room, set := range r.roomUsers {
		out[room] = members(set)
	}
	return out
}

func (r *Roster) Counts() (users, rooms int) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return len(r.userRooms), len(r.roomUsers)
}

func insert(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[member] = struct{}{}
}

// remove also drops the key once its set empties, so an abandoned room
// is indistinguishable from one that never existed.
func remove(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(m, key)
	}
}

func members(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for member := range set {
		out = append(out, member)
	}
	sort.Strings(out)
	return out
}
