package http

import (
	"encoding/json"

	"github.com/freebox-portal/freebox-server/internal/core"
	"github.com/freebox-portal/freebox-server/internal/proto"
	"github.com/freebox-portal/freebox-server/internal/store"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, error) {
	switch inbound.Type {
	case proto.InboundTypeJoin, proto.InboundTypeLeave:
		var data proto.JoinData
		if len(inbound.Data) > 0 {
			if err := json.Unmarshal(inbound.Data, &data); err != nil {
				return nil, err
			}
		}
		kind := core.CommandJoinRoom
		if inbound.Type == proto.InboundTypeLeave {
			kind = core.CommandLeaveRoom
		}
		return &core.Command{
			Kind:     kind,
			Room:     data.Room,
			Username: data.Username,
		}, nil
	case proto.InboundTypeChatMessage:
		var data proto.ChatMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		return &core.Command{
			Kind:     core.CommandSendMessage,
			Room:     data.Room,
			Username: data.Username,
			Text:     data.Message,
		}, nil
	case proto.InboundTypeRequestStats:
		return &core.Command{Kind: core.CommandRequestStats}, nil
	default:
		// Unknown types are dropped; the channel carries no error frames
		// for client mistakes.
		return nil, nil
	}
}

func messagePayload(m *store.ChatMessage) proto.MessagePayload {
	return proto.MessagePayload{
		ID:        m.ID,
		Username:  m.Username,
		Message:   m.Message,
		Room:      m.Room,
		Timestamp: m.CreatedAt.Unix(),
	}
}

func filePayload(f *store.File) proto.FilePayload {
	return proto.FilePayload{
		ID:            f.ID,
		Filename:      f.OriginalName,
		Size:          f.Size,
		MimeType:      f.MimeType,
		CreatedAt:     f.CreatedAt.Unix(),
		DownloadCount: f.DownloadCount,
		Description:   f.Description,
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventChatMessage:
		return proto.Outbound{
			Type: proto.OutboundTypeChatMessage,
			Data: messagePayload(event.Message),
		}
	case core.EventChatHistory:
		messages := make([]proto.MessagePayload, 0, len(event.Messages))
		for _, m := range event.Messages {
			messages = append(messages, messagePayload(m))
		}
		return proto.Outbound{
			Type: proto.OutboundTypeChatHistory,
			Data: messages,
		}
	case core.EventUserJoined:
		return proto.Outbound{
			Type: proto.OutboundTypeUserJoined,
			Data: proto.PresenceData{
				Username: event.Username,
				Room:     event.Room,
				Message:  event.Notice,
			},
		}
	case core.EventUserLeft:
		return proto.Outbound{
			Type: proto.OutboundTypeUserLeft,
			Data: proto.PresenceData{
				Username: event.Username,
				Room:     event.Room,
				Message:  event.Notice,
			},
		}
	case core.EventUserCount:
		return proto.Outbound{
			Type: proto.OutboundTypeUserCount,
			Data: proto.UserCountData{Count: event.Count},
		}
	case core.EventStatsUpdated:
		return proto.Outbound{
			Type: proto.OutboundTypeStatsUpdated,
			Data: event.Stats,
		}
	case core.EventFileListUpdated:
		return proto.Outbound{
			Type: proto.OutboundTypeFileListUpdated,
			Data: struct{}{},
		}
	case core.EventFileDownloaded:
		outbound := proto.Outbound{Type: proto.OutboundTypeFileDownloaded}
		if event.File != nil {
			outbound.Data = proto.FileDownloadedData{File: filePayload(event.File)}
		}
		return outbound
	default:
		return proto.Outbound{Type: proto.OutboundTypeError}
	}
}
