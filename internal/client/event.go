package client

import (
	"fmt"

	"github.com/matheus3301/rentchat/internal/chat"
)

// EventType tags a client Event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventJoined       EventType = "joined"
	EventMessage      EventType = "message"
	EventTypingStart  EventType = "typing-start"
	EventTypingStop   EventType = "typing-stop"
	EventNotification EventType = "notification"
	EventError        EventType = "error"
)

// Event is one inbound occurrence on a connection. Which fields are set
// depends on Type: Message for message and notification, SenderRole for
// typing events, Err for disconnected and error.
type Event struct {
	Type       EventType
	Room       string
	SenderRole chat.Role
	Message    *chat.Message
	Err        error
}

// ServerError is an error frame sent by chatd in response to a client frame.
// Op is the type of the rejected frame.
type ServerError struct {
	Code    string
	Message string
	RoomID  string
	Op      string
}

func (e *ServerError) Error() string {
	if e.RoomID != "" {
		return fmt.Sprintf("server error %s (%s): %s", e.Code, e.RoomID, e.Message)
	}
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}
