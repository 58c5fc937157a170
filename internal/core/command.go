package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom subscribes the client to a room.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom unsubscribes the client from a room.
	CommandLeaveRoom
	// CommandSendMessage delivers a chat message to room participants.
	CommandSendMessage
	// CommandRequestStats asks for a fresh stats snapshot for this client only.
	CommandRequestStats
)

// Command represents an action requested by a client.
type Command struct {
	Kind     CommandKind
	Room     string
	Username string
	Text     string
}
