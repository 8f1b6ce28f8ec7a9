package router

import (
	"github.com/matheus3301/rentchat/internal/auth"
	"github.com/matheus3301/rentchat/internal/chat"
)

// EventType tags an event delivered to a subscriber.
type EventType string

const (
	EventMessage      EventType = "message"
	EventTypingStart  EventType = "typing-start"
	EventTypingStop   EventType = "typing-stop"
	EventNotification EventType = "notification"
)

// Event is one room event queued for a subscriber.
type Event struct {
	Type       EventType
	Room       string
	SenderRole chat.Role
	Message    *chat.Message
}

// Subscriber is a connection the router delivers events to.
type Subscriber interface {
	ID() string
	Identity() auth.Identity
	// Deliver enqueues evt without blocking. It returns false when the
	// subscriber cannot keep up; the router then drops it.
	Deliver(evt Event) bool
	// Kick closes the underlying connection.
	Kick(reason string)
}
