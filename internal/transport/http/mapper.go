package http

import (
	"fmt"

	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/proto"
)

// inboundToCommand turns a decoded frame into a hub command. Errors wrap
// proto.ErrMalformed; the caller drops the frame and keeps the connection.
func inboundToCommand(client *core.Client, inbound proto.Inbound) (*core.Command, error) {
	switch inbound.Event {
	case proto.EventMessage:
		msg, err := proto.DecodeMessage(inbound.Data)
		if err != nil {
			return nil, err
		}
		return &core.Command{
			Kind: core.CommandSendMessage,
			From: client,
			Message: core.Message{
				ID:        msg.ID,
				RoomID:    msg.RoomID,
				UserID:    msg.UserID,
				Text:      msg.Text,
				Timestamp: msg.Timestamp,
			},
		}, nil
	case proto.EventTyping:
		typing, err := proto.DecodeTyping(inbound.Data)
		if err != nil {
			return nil, err
		}
		return &core.Command{
			Kind:     core.CommandTyping,
			From:     client,
			IsTyping: typing.IsTyping,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event %q", proto.ErrMalformed, inbound.Event)
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventConnected:
		return proto.Outbound{
			Event: proto.EventConnect,
			Data:  proto.ConnectPayload{ID: event.ConnID, UserID: event.User},
		}
	case core.EventMessage:
		return proto.Outbound{
			Event: proto.EventMessage,
			Data: proto.MessagePayload{
				Text:      event.Message.Text,
				UserID:    event.Message.UserID,
				ID:        event.Message.ID,
				Timestamp: event.Message.Timestamp,
				RoomID:    event.Message.RoomID,
			},
		}
	case core.EventUserTyping:
		return proto.Outbound{
			Event: proto.EventUserTyping,
			Data:  proto.UserTypingPayload{UserID: event.User, IsTyping: event.IsTyping},
		}
	default:
		return proto.Outbound{Event: event.Kind.String()}
	}
}
