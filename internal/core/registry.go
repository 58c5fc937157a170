package core

// DefaultRoom always exists and is the implicit target when a client does
// not name one.
const DefaultRoom = "main"

// Departure records a room a connection was removed from and the display
// name it used there.
type Departure struct {
	Room     string
	Username string
}

// Registry tracks which connections are members of which rooms. Rooms are
// created lazily on first join and never deleted; an empty room is a valid
// steady state at this population size.
//
// The registry is owned by the hub goroutine and must not be touched from
// anywhere else, which is what makes it safe without a lock.
type Registry struct {
	rooms map[string]map[string]string // room -> client id -> display name
}

// NewRegistry constructs a registry with the default room present.
func NewRegistry() *Registry {
	return &Registry{
		rooms: map[string]map[string]string{
			DefaultRoom: {},
		},
	}
}

// Join adds the connection to the room, creating the room if needed, and
// returns the new member count. Re-joining overwrites the stored name.
func (r *Registry) Join(clientID, room, name string) int {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]string)
		r.rooms[room] = members
	}
	members[clientID] = name
	return len(members)
}

// Leave removes the connection from the room. The second return value is
// false when the connection was not a member, in which case the room is
// unaffected. Leaving is never an error.
func (r *Registry) Leave(clientID, room string) (int, bool) {
	members, ok := r.rooms[room]
	if !ok {
		return 0, false
	}
	if _, ok := members[clientID]; !ok {
		return len(members), false
	}
	delete(members, clientID)
	return len(members), true
}

// RemoveEverywhere removes the connection from every room it belongs to and
// returns one departure per affected room.
func (r *Registry) RemoveEverywhere(clientID string) []Departure {
	var departures []Departure
	for room, members := range r.rooms {
		if name, ok := members[clientID]; ok {
			delete(members, clientID)
			departures = append(departures, Departure{Room: room, Username: name})
		}
	}
	return departures
}

// MemberCount returns the current size of a room's member set, 0 for an
// unknown room.
func (r *Registry) MemberCount(room string) int {
	return len(r.rooms[room])
}

// Known reports whether the room has an entry.
func (r *Registry) Known(room string) bool {
	_, ok := r.rooms[room]
	return ok
}

// Members returns the client ids currently in the room.
func (r *Registry) Members(room string) map[string]string {
	return r.rooms[room]
}
