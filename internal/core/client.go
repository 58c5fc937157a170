package core

// Client is one connected channel as seen by the core layer. Display names
// are not stored here: they are supplied per join and tracked by the
// registry, so the same connection can use different names in different
// rooms.
type Client struct {
	ID       string
	Addr     string // remote address, attached to persisted messages
	Commands chan *Command
	Events   chan *Event
}

// NewClient constructs a client with initialized channels.
func NewClient(id, addr string) *Client {
	return &Client{
		ID:       id,
		Addr:     addr,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, 32),
	}
}
