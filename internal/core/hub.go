package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/freebox-portal/freebox-server/internal/store"
)

// AnonymousName is used when a client does not supply a display name.
const AnonymousName = "Anonymous"

// noticeKind is an externally triggered broadcast (file uploads and
// downloads happen in HTTP handlers, outside the channel).
type noticeKind int

const (
	noticeFileListChanged noticeKind = iota
	noticeFileDownloaded
	noticeStats
)

type notice struct {
	kind noticeKind
	file *store.File
}

type inbound struct {
	client *Client
	cmd    *Command
}

// Hub routes every channel event through a single goroutine: connection
// lifecycle, room membership, message fan-out and stats refreshes. One
// event is handled to completion before the next, which gives rooms their
// in-order delivery and lets the registry go lock-free.
type Hub struct {
	store        store.Store
	stats        *StatsAggregator
	historyLimit int
	log          *zerolog.Logger

	registry *Registry
	clients  map[string]*Client

	register   chan *Client
	unregister chan *Client
	commands   chan inbound
	notices    chan notice
}

// NewHub creates a hub over the given collaborators.
func NewHub(st store.Store, stats *StatsAggregator, historyLimit int, logger *zerolog.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Hub{
		store:        st,
		stats:        stats,
		historyLimit: historyLimit,
		log:          logger,
		registry:     NewRegistry(),
		clients:      make(map[string]*Client),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		commands:     make(chan inbound, 64),
		notices:      make(chan notice, 16),
	}
}

// RegisterClient announces a new connection to the hub.
func (h *Hub) RegisterClient(c *Client) {
	h.register <- c
}

// UnregisterClient removes a disconnected client. The caller must close the
// client's Commands channel after this returns; the hub closes Events.
func (h *Hub) UnregisterClient(c *Client) {
	h.unregister <- c
}

// NotifyFileListChanged broadcasts a file-list refresh to all clients,
// followed by fresh stats. Called by upload and delete handlers after their
// storage writes succeed.
func (h *Hub) NotifyFileListChanged() {
	h.notices <- notice{kind: noticeFileListChanged}
}

// NotifyFileDownloaded announces a completed download to all clients,
// followed by fresh stats.
func (h *Hub) NotifyFileDownloaded(f *store.File) {
	h.notices <- notice{kind: noticeFileDownloaded, file: f}
}

// BroadcastStats pushes a fresh snapshot to every client.
func (h *Hub) BroadcastStats() {
	h.notices <- notice{kind: noticeStats}
}

// Run processes events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.handleRegister(ctx, c)
		case c := <-h.unregister:
			h.handleUnregister(ctx, c)
		case in := <-h.commands:
			h.handleCommand(ctx, in.client, in.cmd)
		case n := <-h.notices:
			h.handleNotice(ctx, n)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleRegister(ctx context.Context, c *Client) {
	h.clients[c.ID] = c
	go h.pump(ctx, c)

	// A new connection immediately sees current stats.
	h.deliver(unicast(c.ID), h.statsEvent(ctx))

	if h.log != nil {
		h.log.Debug().Str("client_id", c.ID).Str("addr", c.Addr).Msg("client connected")
	}
}

// pump forwards one client's commands into the hub's single event stream.
func (h *Hub) pump(ctx context.Context, c *Client) {
	for cmd := range c.Commands {
		select {
		case h.commands <- inbound{client: c, cmd: cmd}:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleUnregister(ctx context.Context, c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}

	departures := h.registry.RemoveEverywhere(c.ID)
	delete(h.clients, c.ID)
	close(c.Events)

	for _, d := range departures {
		h.deliver(roomScope(d.Room), &Event{
			Kind:     EventUserLeft,
			Room:     d.Room,
			Username: d.Username,
			Notice:   fmt.Sprintf("%s has left the room.", d.Username),
		})
		h.deliver(roomScope(d.Room), &Event{
			Kind:  EventUserCount,
			Room:  d.Room,
			Count: h.registry.MemberCount(d.Room),
		})
	}

	// One stats refresh per disconnect, not one per affected room.
	if len(departures) > 0 {
		h.deliver(globalScope(), h.statsEvent(ctx))
	}

	if h.log != nil {
		h.log.Debug().Str("client_id", c.ID).Int("rooms", len(departures)).Msg("client disconnected")
	}
}

func (h *Hub) handleCommand(ctx context.Context, c *Client, cmd *Command) {
	if _, ok := h.clients[c.ID]; !ok {
		// Command raced with disconnect; the session is gone.
		return
	}

	switch cmd.Kind {
	case CommandJoinRoom:
		h.handleJoin(ctx, c, cmd)
	case CommandLeaveRoom:
		h.handleLeave(ctx, c, cmd)
	case CommandSendMessage:
		h.handleMessage(ctx, c, cmd)
	case CommandRequestStats:
		h.deliver(unicast(c.ID), h.statsEvent(ctx))
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, cmd *Command) {
	room, name := normalizeRoom(cmd.Room), normalizeName(cmd.Username)

	count := h.registry.Join(c.ID, room, name)

	// History goes to the joiner only; the joiner never sees its own
	// user_joined notification.
	h.deliver(unicast(c.ID), &Event{
		Kind:     EventChatHistory,
		Room:     room,
		Messages: h.history(ctx, room),
	})
	h.deliver(roomScopeExcluding(room, c.ID), &Event{
		Kind:     EventUserJoined,
		Room:     room,
		Username: name,
		Notice:   fmt.Sprintf("%s has joined the room.", name),
	})
	h.deliver(roomScope(room), &Event{
		Kind:  EventUserCount,
		Room:  room,
		Count: count,
	})
	h.deliver(globalScope(), h.statsEvent(ctx))
}

func (h *Hub) handleLeave(ctx context.Context, c *Client, cmd *Command) {
	room, name := normalizeRoom(cmd.Room), normalizeName(cmd.Username)

	count, removed := h.registry.Leave(c.ID, room)

	h.deliver(roomScope(room), &Event{
		Kind:     EventUserLeft,
		Room:     room,
		Username: name,
		Notice:   fmt.Sprintf("%s has left the room.", name),
	})
	if removed || h.registry.Known(room) {
		h.deliver(roomScope(room), &Event{
			Kind:  EventUserCount,
			Room:  room,
			Count: count,
		})
	}
	h.deliver(globalScope(), h.statsEvent(ctx))
}

func (h *Hub) handleMessage(ctx context.Context, c *Client, cmd *Command) {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		// Whitespace-only messages are dropped with no side effects.
		return
	}
	room, name := normalizeRoom(cmd.Room), normalizeName(cmd.Username)

	msg, err := h.store.AddMessage(ctx, name, cmd.Text, room, c.Addr)
	if err != nil {
		// Broadcast only happens after successful persistence.
		if h.log != nil {
			h.log.Error().Err(err).Str("room", room).Msg("persist chat message")
		}
		return
	}

	h.deliver(roomScope(room), &Event{
		Kind:    EventChatMessage,
		Room:    room,
		Message: msg,
	})
	h.deliver(globalScope(), h.statsEvent(ctx))
}

func (h *Hub) handleNotice(ctx context.Context, n notice) {
	switch n.kind {
	case noticeFileListChanged:
		h.deliver(globalScope(), &Event{Kind: EventFileListUpdated})
		h.deliver(globalScope(), h.statsEvent(ctx))
	case noticeFileDownloaded:
		h.deliver(globalScope(), &Event{Kind: EventFileDownloaded, File: n.file})
		h.deliver(globalScope(), h.statsEvent(ctx))
	case noticeStats:
		h.deliver(globalScope(), h.statsEvent(ctx))
	}
}

// history fetches the recent window for a room, re-ordered oldest first so
// the client can render it chronologically.
func (h *Hub) history(ctx context.Context, room string) []*store.ChatMessage {
	messages, err := h.store.RecentMessages(ctx, room, h.historyLimit)
	if err != nil {
		if h.log != nil {
			h.log.Error().Err(err).Str("room", room).Msg("load chat history")
		}
		return nil
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages
}

// statsEvent computes a fresh snapshot. On storage failure the snapshot is
// degraded rather than withheld, so dashboards keep updating.
func (h *Hub) statsEvent(ctx context.Context) *Event {
	snap, err := h.stats.Snapshot(ctx)
	if err != nil && h.log != nil {
		h.log.Warn().Err(err).Msg("stats snapshot degraded")
	}
	return &Event{Kind: EventStatsUpdated, Stats: snap}
}

// deliver is the single fan-out primitive: one scope, one event.
func (h *Hub) deliver(scope Scope, ev *Event) {
	switch scope.Kind {
	case ScopeUnicast:
		if c, ok := h.clients[scope.ClientID]; ok {
			h.send(c, ev)
		}
	case ScopeRoom:
		for id := range h.registry.Members(scope.Room) {
			if scope.Exclude && id == scope.ClientID {
				continue
			}
			if c, ok := h.clients[id]; ok {
				h.send(c, ev)
			}
		}
	case ScopeGlobal:
		for _, c := range h.clients {
			h.send(c, ev)
		}
	}
}

func (h *Hub) send(c *Client, ev *Event) {
	select {
	case c.Events <- ev:
	default:
		// Drop if slow consumer.
	}
}

func normalizeRoom(room string) string {
	if strings.TrimSpace(room) == "" {
		return DefaultRoom
	}
	return room
}

func normalizeName(name string) string {
	if strings.TrimSpace(name) == "" {
		return AnonymousName
	}
	return name
}
