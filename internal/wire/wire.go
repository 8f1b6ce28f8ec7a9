// Package wire defines the JSON frames exchanged over the realtime channel.
//
// Every frame is {"type": "<kind>", "data": {...}}. Payload structs are
// decoded from the generic data map with mapstructure so that unknown fields
// are ignored and numeric fields survive the trip through JSON numbers.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/mitchellh/mapstructure"
)

// Client to server.
const (
	TypeJoinRoom    = "join-room"
	TypeLeaveRoom   = "leave-room"
	TypeSendMessage = "send-message"
	TypeTyping      = "typing"
	TypeStopTyping  = "stop-typing"
)

// Server to client.
const (
	TypeMessage        = "message"
	TypeUserTyping     = "user-typing"
	TypeUserStopTyping = "user-stop-typing"
	TypeNotification   = "notification"
	TypeJoined         = "joined"
	TypeError          = "error"
)

var ErrMalformed = errors.New("malformed frame")

// Frame is one decoded websocket message.
type Frame struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// RoomPayload addresses a room (join-room, leave-room, typing, joined).
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// SendPayload is the body of send-message.
type SendPayload struct {
	RoomID   string `json:"roomId"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// TypingPayload is the body of user-typing and user-stop-typing.
type TypingPayload struct {
	RoomID     string    `json:"roomId"`
	SenderRole chat.Role `json:"senderRole"`
}

// NotificationPayload tells admins about a message in a room they are not viewing.
type NotificationPayload struct {
	Message chat.Message `json:"message"`
}

// ErrorPayload reports a rejected client frame. Op is the type of the
// frame that failed, when it could be parsed.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RoomID  string `json:"roomId,omitempty"`
	Op      string `json:"op,omitempty"`
}

// Error codes.
const (
	CodeBadRequest = "bad_request"
	CodeForbidden  = "forbidden"
	CodeInternal   = "internal"
	CodeUnknown    = "unknown_type"
)

// Encode marshals a frame of the given type.
func Encode(typ string, payload any) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{typ, payload})
}

// Parse decodes a raw websocket message into a frame.
func Parse(data []byte) (*Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var f Frame
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &f, nil
}

// Decode fills out (a pointer to a payload struct) from the frame data.
func (f *Frame) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(f.Data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, f.Type, err)
	}
	return nil
}
