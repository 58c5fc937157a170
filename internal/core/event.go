package core

import (
	"github.com/freebox-portal/freebox-server/internal/store"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventChatMessage carries one persisted message to a room.
	EventChatMessage EventKind = iota
	// EventChatHistory delivers recent messages to a client upon joining.
	EventChatHistory
	// EventUserJoined notifies a room that a user joined.
	EventUserJoined
	// EventUserLeft notifies a room that a user left.
	EventUserLeft
	// EventUserCount carries a room's updated member count.
	EventUserCount
	// EventStatsUpdated carries a fresh stats snapshot.
	EventStatsUpdated
	// EventFileListUpdated tells clients to refresh their file listing.
	EventFileListUpdated
	// EventFileDownloaded announces that a file was downloaded.
	EventFileDownloaded
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Room     string
	Username string
	Notice   string // human-readable text for presence events
	Count    int    // member count for EventUserCount
	Message  *store.ChatMessage
	Messages []*store.ChatMessage // oldest first, for EventChatHistory
	Stats    *StatsSnapshot
	File     *store.File // for EventFileDownloaded
}

// ScopeKind selects the fan-out primitive for an outbound event.
type ScopeKind int

const (
	// ScopeUnicast delivers to a single connection.
	ScopeUnicast ScopeKind = iota
	// ScopeRoom delivers to the members of one room.
	ScopeRoom
	// ScopeGlobal delivers to every connected client.
	ScopeGlobal
)

// Scope names the set of connections an event is delivered to.
type Scope struct {
	Kind     ScopeKind
	ClientID string // unicast target, or the excluded actor for room scope
	Room     string
	Exclude  bool // room scope only: skip ClientID
}

func unicast(clientID string) Scope {
	return Scope{Kind: ScopeUnicast, ClientID: clientID}
}

func roomScope(room string) Scope {
	return Scope{Kind: ScopeRoom, Room: room}
}

func roomScopeExcluding(room, clientID string) Scope {
	return Scope{Kind: ScopeRoom, Room: room, ClientID: clientID, Exclude: true}
}

func globalScope() Scope {
	return Scope{Kind: ScopeGlobal}
}
