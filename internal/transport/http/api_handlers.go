package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/freebox-portal/freebox-server/internal/core"
	"github.com/freebox-portal/freebox-server/internal/proto"
	"github.com/freebox-portal/freebox-server/internal/store"
)

// APIHandlers provides the REST endpoints: box status, stats and the
// non-WebSocket chat fallback.
type APIHandlers struct {
	store        store.Store
	hub          *core.Hub
	stats        *core.StatsAggregator
	historyLimit int
	log          *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(st store.Store, hub *core.Hub, stats *core.StatsAggregator, historyLimit int, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		store:        st,
		hub:          hub,
		stats:        stats,
		historyLimit: historyLimit,
		log:          logger,
	}
}

// Status handles GET /api/status.
func (h *APIHandlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "online",
		"name":   "FreeBox",
		"mode":   "hotspot",
	})
}

// Stats handles GET /api/stats. Besides answering the caller it pushes the
// fresh snapshot to every connected client.
func (h *APIHandlers) Stats(c *gin.Context) {
	snap, err := h.stats.Snapshot(c.Request.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("stats snapshot degraded")
	}

	h.hub.BroadcastStats()

	c.JSON(http.StatusOK, snap)
}

// PostMessageRequest is the chat fallback request body.
type PostMessageRequest struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	Room     string `json:"room"`
}

// Messages handles GET /api/chat/messages.
func (h *APIHandlers) Messages(c *gin.Context) {
	room := c.DefaultQuery("room", core.DefaultRoom)
	limit := intQuery(c, "limit", h.historyLimit)

	messages, err := h.store.RecentMessages(c.Request.Context(), room, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("load messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	payload := make([]proto.MessagePayload, 0, len(messages))
	for _, m := range messages {
		payload = append(payload, messagePayload(m))
	}
	c.JSON(http.StatusOK, payload)
}

// PostMessage handles POST /api/chat/messages, the fallback for clients
// without WebSocket support. It persists but does not broadcast.
func (h *APIHandlers) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no data provided"})
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "message cannot be empty"})
		return
	}

	username := req.Username
	if strings.TrimSpace(username) == "" {
		username = core.AnonymousName
	}
	room := req.Room
	if strings.TrimSpace(room) == "" {
		room = core.DefaultRoom
	}

	msg, err := h.store.AddMessage(c.Request.Context(), username, req.Message, room, c.ClientIP())
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("persist chat message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": messagePayload(msg),
	})
}

// Rooms handles GET /api/chat/rooms.
func (h *APIHandlers) Rooms(c *gin.Context) {
	c.JSON(http.StatusOK, []gin.H{
		{
			"id":          core.DefaultRoom,
			"name":        "Main Room",
			"description": "The main FreeBox chat room",
		},
	})
}
