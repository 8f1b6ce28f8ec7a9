package bus

import "time"

// Event kinds published inside chatd. Subscribers filter by prefix,
// e.g. "chat." or "room.".
const (
	KindMessage       = "chat.message"
	KindRead          = "chat.read"
	KindTypingStarted = "chat.typing_started"
	KindTypingStopped = "chat.typing_stopped"
	KindRoomJoined    = "room.joined"
	KindRoomLeft      = "room.left"
	KindConnOpened    = "conn.opened"
	KindConnClosed    = "conn.closed"
	KindStatusChanged = "daemon.status_changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Room      string
	Timestamp time.Time
	Payload   any
}
