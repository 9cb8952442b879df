package chat

import (
	"context"
	"strings"
	"time"

	"chatcore/pkg/apperrors"
	"chatcore/pkg/messages"
	"chatcore/pkg/room"
	"chatcore/pkg/sendemail"

	"github.com/google/uuid"
)

func (h *Handler) dispatch(ctx context.Context, client *Client, cmd Command) error {
	switch cmd := cmd.(type) {
	case SendCommand:
		return h.handleSend(ctx, client, cmd)
	case EditCommand:
		return h.handleEdit(ctx, client, cmd)
	case DeleteCommand:
		return h.handleDelete(ctx, client, cmd)
	case MarkReadCommand:
		return h.handleMarkRead(ctx, client, cmd)
	case TypingCommand:
		return h.handleTyping(client, cmd)
	case AddUserCommand:
		user := strings.TrimSpace(cmd.Envelope.Sender)
		if user == "" {
			return apperrors.Validation("sender is required")
		}
		h.identify(client, user)
		return nil
	case RemoveUserCommand:
		h.forget(client)
		return nil
	case SendToRoomCommand:
		return h.handleSendToRoom(client, cmd)
	case BroadcastCommand:
		return h.handleBroadcast(client, cmd)
	case JoinRoomCommand:
		if h.cfg.StrictRooms && client.User() == "" {
			return apperrors.Forbidden("forbidden: identify before joining a room")
		}
		h.router.JoinRoom(cmd.RoomID, client)
		return nil
	case LeaveRoomCommand:
		h.router.LeaveRoom(cmd.RoomID, client)
		return nil
	default:
		return apperrors.Validation("unsupported operation")
	}
}

// speaker is who a frame speaks for. A bound identity always wins over the
// sender the client put in the payload.
func speaker(client *Client, claimed string) string {
	if user := client.User(); user != "" {
		return user
	}
	return strings.TrimSpace(claimed)
}

func (h *Handler) identify(client *Client, user string) {
	h.router.RegisterConnection(user, client)
	h.touch(user)
	h.log.Info("user identified", "user", user, "client", client.ID)
}

func (h *Handler) forget(client *Client) {
	user := client.User()
	if user == "" {
		return
	}
	h.router.UnregisterConnection(user, client)
	h.touch(user)
	h.log.Info("user removed", "user", user, "client", client.ID)
}

// messageEnvelope renders a stored message for push delivery.
func messageEnvelope(m messages.Message, t MessageType, roomID string) Envelope {
	env := Envelope{
		ID:                   formatID(m.ID),
		Sender:               m.Sender,
		SenderDisplayName:    m.SenderDisplayName,
		Recipient:            m.Recipient,
		RecipientDisplayName: m.RecipientDisplayName,
		Subject:              m.Subject,
		Message:              m.Body,
		MessageType:          t,
		Priority:             string(m.Priority),
		NationalCode:         m.NationalCode,
		Recipients:           m.Recipients,
		NotifyOffline:        m.NotifyOffline,
		Timestamp:            m.CreatedAt.UnixMilli(),
		RoomID:               room.Resolve(roomID, m.Sender, m.Recipient),
	}
	if m.ParentID != nil {
		env.ParentMessageID = formatID(*m.ParentID)
	}
	if t != TypeChat {
		env.OriginalMessageID = env.ID
	}
	return env
}

func (h *Handler) handleSend(ctx context.Context, client *Client, cmd SendCommand) error {
	in := cmd.Envelope
	msg, err := h.service.Send(ctx, messages.SendRequest{
		Sender:               speaker(client, in.Sender),
		SenderDisplayName:    in.SenderDisplayName,
		Recipient:            in.Recipient,
		RecipientDisplayName: in.RecipientDisplayName,
		Subject:              in.Subject,
		Body:                 in.Message,
		Priority:             in.Priority,
		ParentID:             cmd.ParentID,
		NationalCode:         in.NationalCode,
		Recipients:           in.Recipients,
		NotifyOffline:        in.NotifyOffline,
	})
	if err != nil {
		return err
	}

	out := messageEnvelope(msg, TypeChat, in.RoomID)
	h.router.SendToUser(msg.Recipient, out)

	confirm := out
	confirm.MessageType = TypeSentConfirmation
	confirm.OriginalMessageID = out.ID
	h.toSelf(client, confirm)

	if h.notifier != nil && (msg.Priority == messages.PriorityUrgent || msg.NotifyOffline) && !h.router.IsOnline(msg.Recipient) {
		go h.notifyOffline(msg)
	}
	return nil
}

func (h *Handler) notifyOffline(msg messages.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result := "sent"
	err := h.notifier.Notify(ctx, sendemail.OfflineNotice{
		MessageID:  msg.ID,
		Recipient:  msg.Recipient,
		SenderName: msg.SenderDisplayName,
		Subject:    msg.Subject,
		Body:       msg.Body,
		Priority:   string(msg.Priority),
	})
	if err != nil {
		result = "failed"
		h.log.Warn("offline notice failed", "message_id", msg.ID, "recipient", msg.Recipient, "error", err)
	}
	if h.metrics != nil {
		h.metrics.OfflineNotices.WithLabelValues(result).Inc()
	}
}

// pushChange tells both parties about an edit or delete.
func (h *Handler) pushChange(client *Client, msg messages.Message, t MessageType, roomID string) {
	out := messageEnvelope(msg, t, roomID)
	out.Timestamp = nowMillis()
	if msg.Recipient != "" && msg.Recipient != msg.Sender {
		h.router.SendToUser(msg.Recipient, out)
	}
	h.toSelf(client, out)
}

func (h *Handler) handleEdit(ctx context.Context, client *Client, cmd EditCommand) error {
	actor := speaker(client, cmd.Envelope.Sender)
	if actor == "" {
		return apperrors.Validation("sender is required")
	}
	msg, err := h.service.Edit(ctx, cmd.MessageID, actor, cmd.Envelope.Message)
	if err != nil {
		return err
	}
	h.pushChange(client, msg, TypeEdited, cmd.Envelope.RoomID)
	return nil
}

func (h *Handler) handleDelete(ctx context.Context, client *Client, cmd DeleteCommand) error {
	actor := speaker(client, cmd.Envelope.Sender)
	if actor == "" {
		return apperrors.Validation("sender is required")
	}
	msg, err := h.service.Delete(ctx, cmd.MessageID, actor)
	if err != nil {
		return err
	}
	h.pushChange(client, msg, TypeDeleted, cmd.Envelope.RoomID)
	return nil
}

// handleMarkRead sends the receipt to the message's author, never back to the
// reader.
func (h *Handler) handleMarkRead(ctx context.Context, client *Client, cmd MarkReadCommand) error {
	msg, err := h.service.MarkRead(ctx, cmd.MessageID)
	if err != nil {
		return err
	}
	h.router.SendToUser(msg.Sender, Envelope{
		ID:                formatID(msg.ID),
		Sender:            speaker(client, cmd.Envelope.Sender),
		Recipient:         msg.Sender,
		MessageType:       TypeReadConfirmation,
		OriginalMessageID: formatID(msg.ID),
		Timestamp:         nowMillis(),
		RoomID:            room.Resolve(cmd.Envelope.RoomID, msg.Sender, msg.Recipient),
	})
	return nil
}

func (h *Handler) handleTyping(client *Client, cmd TypingCommand) error {
	recipient := strings.TrimSpace(cmd.Envelope.Recipient)
	if recipient == "" {
		return apperrors.Validation("recipient is required")
	}
	sender := speaker(client, cmd.Envelope.Sender)
	name := strings.TrimSpace(cmd.Envelope.SenderDisplayName)
	if name == "" {
		name = sender
	}
	h.router.SendToUser(recipient, Envelope{
		ID:                uuid.NewString(),
		Sender:            sender,
		SenderDisplayName: name,
		Recipient:         recipient,
		MessageType:       TypeTyping,
		Timestamp:         nowMillis(),
		RoomID:            room.Resolve(cmd.Envelope.RoomID, sender, recipient),
	})
	return nil
}

func (h *Handler) handleSendToRoom(client *Client, cmd SendToRoomCommand) error {
	env := cmd.Envelope
	env.Sender = speaker(client, env.Sender)
	roomID := room.Resolve(env.RoomID, env.Sender, env.Recipient)
	if roomID == "" {
		return apperrors.Validation("roomId is required")
	}
	if h.cfg.StrictRooms && (client.User() == "" || !h.router.InRoom(roomID, client)) {
		return apperrors.Forbidden("forbidden: join the room before posting to it")
	}
	env.RoomID = roomID
	if env.MessageType == "" {
		env.MessageType = TypeChat
	}
	h.router.SendToRoom(roomID, env.stamped())
	return nil
}

func (h *Handler) handleBroadcast(client *Client, cmd BroadcastCommand) error {
	env := cmd.Envelope
	env.Sender = speaker(client, env.Sender)
	if h.cfg.StrictRooms {
		user := client.User()
		if _, ok := h.broadcastAllow[user]; user == "" || !ok {
			return apperrors.Forbidden("forbidden: broadcast is not allowed for this user")
		}
	}
	if env.MessageType == "" {
		env.MessageType = TypeChat
	}
	h.router.Broadcast(env.stamped())
	return nil
}
