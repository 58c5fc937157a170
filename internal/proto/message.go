package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeJoin         = "join"
	InboundTypeLeave        = "leave"
	InboundTypeChatMessage  = "chat_message"
	InboundTypeRequestStats = "request_stats_update"

	OutboundTypeChatMessage     = "chat_message"
	OutboundTypeChatHistory     = "chat_history"
	OutboundTypeUserJoined      = "user_joined"
	OutboundTypeUserLeft        = "user_left"
	OutboundTypeUserCount       = "user_count"
	OutboundTypeStatsUpdated    = "stats_updated"
	OutboundTypeFileListUpdated = "file_list_updated"
	OutboundTypeFileDownloaded  = "file_downloaded"
	OutboundTypeError           = "error"
)

// JoinData subscribes the client to a room; it doubles as leave payload.
type JoinData struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// ChatMessageData is a chat message from the client.
type ChatMessageData struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// MessagePayload is a persisted chat message as presented to clients.
type MessagePayload struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Room      string `json:"room"`
	Timestamp int64  `json:"timestamp"`
}

// PresenceData announces a join or leave to a room.
type PresenceData struct {
	Username string `json:"username"`
	Room     string `json:"room"`
	Message  string `json:"message"`
}

// UserCountData carries a room's member count.
type UserCountData struct {
	Count int `json:"count"`
}

// FilePayload is a stored file as presented to clients.
type FilePayload struct {
	ID            int64  `json:"id"`
	Filename      string `json:"filename"`
	Size          int64  `json:"size"`
	MimeType      string `json:"mime_type,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	DownloadCount int64  `json:"download_count"`
	Description   string `json:"description,omitempty"`
}

// FileDownloadedData announces a completed download.
type FileDownloadedData struct {
	File FilePayload `json:"file"`
}
