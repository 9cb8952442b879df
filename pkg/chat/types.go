package chat

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"chatcore/pkg/apperrors"
)

type MessageType string

const (
	TypeChat             MessageType = "chat"
	TypeTyping           MessageType = "typing"
	TypeReadConfirmation MessageType = "read_confirmation"
	TypeSentConfirmation MessageType = "sent_confirmation"
	TypeError            MessageType = "error"
	TypeUserConnected    MessageType = "user_connected"
	TypeUserDisconnected MessageType = "user_disconnected"
	TypeEdited           MessageType = "edited"
	TypeDeleted          MessageType = "deleted"
)

// SystemSender is the sender of presence and error envelopes.
const SystemSender = "system"

// Envelope is the JSON object pushed to clients and carried as the payload
// of inbound frames. Ids travel as strings; Timestamp is epoch milliseconds.
type Envelope struct {
	ID                   string      `json:"id,omitempty"`
	Sender               string      `json:"sender,omitempty"`
	SenderDisplayName    string      `json:"senderDisplayName,omitempty"`
	Recipient            string      `json:"recipient,omitempty"`
	RecipientDisplayName string      `json:"recipientDisplayName,omitempty"`
	Subject              string      `json:"subject,omitempty"`
	Message              string      `json:"message,omitempty"`
	MessageType          MessageType `json:"messageType,omitempty"`
	OriginalMessageID    string      `json:"originalMessageId,omitempty"`
	ParentMessageID      string      `json:"parentMessageId,omitempty"`
	Priority             string      `json:"priority,omitempty"`
	NationalCode         string      `json:"nationalCode,omitempty"`
	Recipients           string      `json:"recipients,omitempty"`
	NotifyOffline        bool        `json:"enableSendSms,omitempty"`
	Timestamp            int64       `json:"timestamp,omitempty"`
	RoomID               string      `json:"roomId,omitempty"`
}

// UnmarshalJSON accepts originalMessageId and parentMessageId written either
// as strings or as JSON numbers.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type plain Envelope
	aux := struct {
		*plain
		OriginalMessageID messageRef `json:"originalMessageId"`
		ParentMessageID   messageRef `json:"parentMessageId"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.OriginalMessageID = string(aux.OriginalMessageID)
	e.ParentMessageID = string(aux.ParentMessageID)
	return nil
}

type messageRef string

func (r *messageRef) UnmarshalJSON(data []byte) error {
	switch {
	case string(data) == "null":
		*r = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = messageRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*r = messageRef(n.String())
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// stamped returns a copy with Timestamp set when the sender left it empty.
func (e Envelope) stamped() Envelope {
	if e.Timestamp == 0 {
		e.Timestamp = nowMillis()
	}
	return e
}

func errorEnvelope(recipient, msg string) Envelope {
	return Envelope{
		Sender:      SystemSender,
		Recipient:   recipient,
		Message:     msg,
		MessageType: TypeError,
		Timestamp:   nowMillis(),
	}
}

// Op names one inbound operation. The set is closed: frames with any other
// op are rejected before dispatch.
type Op string

const (
	OpSend       Op = "chat.send"
	OpEdit       Op = "chat.edit"
	OpDelete     Op = "chat.delete"
	OpMarkRead   Op = "chat.markRead"
	OpTyping     Op = "chat.typing"
	OpAddUser    Op = "chat.addUser"
	OpRemoveUser Op = "chat.removeUser"
	OpSendToRoom Op = "chat.sendToRoom"
	OpBroadcast  Op = "chat.broadcast"
	OpJoinRoom   Op = "chat.joinRoom"
	OpLeaveRoom  Op = "chat.leaveRoom"
)

// Frame is the inbound wire shape: {"op": "chat.send", "payload": {...}}.
type Frame struct {
	Op      Op       `json:"op"`
	Payload Envelope `json:"payload"`
}

// Command is one parsed inbound operation.
type Command interface {
	op() Op
}

type SendCommand struct {
	Envelope Envelope
	ParentID *int64
}

type EditCommand struct {
	Envelope  Envelope
	MessageID int64
}

type DeleteCommand struct {
	Envelope  Envelope
	MessageID int64
}

type MarkReadCommand struct {
	Envelope  Envelope
	MessageID int64
}

type TypingCommand struct{ Envelope Envelope }
type AddUserCommand struct{ Envelope Envelope }
type RemoveUserCommand struct{ Envelope Envelope }
type SendToRoomCommand struct{ Envelope Envelope }
type BroadcastCommand struct{ Envelope Envelope }
type JoinRoomCommand struct{ RoomID string }
type LeaveRoomCommand struct{ RoomID string }

func (SendCommand) op() Op       { return OpSend }
func (EditCommand) op() Op       { return OpEdit }
func (DeleteCommand) op() Op     { return OpDelete }
func (MarkReadCommand) op() Op   { return OpMarkRead }
func (TypingCommand) op() Op     { return OpTyping }
func (AddUserCommand) op() Op    { return OpAddUser }
func (RemoveUserCommand) op() Op { return OpRemoveUser }
func (SendToRoomCommand) op() Op { return OpSendToRoom }
func (BroadcastCommand) op() Op  { return OpBroadcast }
func (JoinRoomCommand) op() Op   { return OpJoinRoom }
func (LeaveRoomCommand) op() Op  { return OpLeaveRoom }

// ParseFrame decodes raw frame bytes into a typed command. Every failure is a
// validation error.
func ParseFrame(data []byte) (Command, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, apperrors.Validation("invalid message format")
	}
	return parseCommand(f)
}

func parseCommand(f Frame) (Command, error) {
	env := f.Payload
	switch f.Op {
	case OpSend:
		parent, err := optionalID(env.ParentMessageID, "parentMessageId")
		if err != nil {
			return nil, err
		}
		return SendCommand{Envelope: env, ParentID: parent}, nil
	case OpEdit:
		id, err := requiredID(env.OriginalMessageID)
		if err != nil {
			return nil, err
		}
		return EditCommand{Envelope: env, MessageID: id}, nil
	case OpDelete:
		id, err := requiredID(env.OriginalMessageID)
		if err != nil {
			return nil, err
		}
		return DeleteCommand{Envelope: env, MessageID: id}, nil
	case OpMarkRead:
		id, err := requiredID(env.OriginalMessageID)
		if err != nil {
			return nil, err
		}
		return MarkReadCommand{Envelope: env, MessageID: id}, nil
	case OpTyping:
		return TypingCommand{Envelope: env}, nil
	case OpAddUser:
		return AddUserCommand{Envelope: env}, nil
	case OpRemoveUser:
		return RemoveUserCommand{Envelope: env}, nil
	case OpSendToRoom:
		return SendToRoomCommand{Envelope: env}, nil
	case OpBroadcast:
		return BroadcastCommand{Envelope: env}, nil
	case OpJoinRoom, OpLeaveRoom:
		roomID := strings.TrimSpace(env.RoomID)
		if roomID == "" {
			return nil, apperrors.Validation("roomId is required")
		}
		if f.Op == OpJoinRoom {
			return JoinRoomCommand{RoomID: roomID}, nil
		}
		return LeaveRoomCommand{RoomID: roomID}, nil
	case "":
		return nil, apperrors.Validation("op is required")
	default:
		return nil, apperrors.Validation("unknown operation: " + string(f.Op))
	}
}

func requiredID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, apperrors.Validation("originalMessageId is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation("originalMessageId must be a positive integer")
	}
	return id, nil
}

func optionalID(raw, field string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, apperrors.Validation(field + " must be a positive integer")
	}
	return &id, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
