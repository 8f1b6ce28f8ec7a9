package client

import (
	"context"
	"sort"
	"sync"

	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/logging"
	"go.uber.org/zap"
)

// RoomLister is the REST side of the inbox. Implemented by *REST.
type RoomLister interface {
	GetRooms(ctx context.Context) ([]chat.InboxEntry, error)
	MarkRead(ctx context.Context, roomID string) error
}

// Inbox is the admin's live list of rooms.
type Inbox struct {
	rooms  RoomLister
	logger *zap.Logger

	mu      sync.Mutex
	entries []chat.InboxEntry
	active  string
}

// NewInbox creates an empty inbox.
func NewInbox(rooms RoomLister, logger *zap.Logger) *Inbox {
	return &Inbox{rooms: rooms, logger: logging.OrNop(logger)}
}

// Load replaces the entries with the store's view.
func (in *Inbox) Load(ctx context.Context) error {
	entries, err := in.rooms.GetRooms(ctx)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.entries = entries
	sortEntries(in.entries)
	in.mu.Unlock()
	return nil
}

// SetActive records the room whose session is open and focused ("" for none).
// Messages for the active room do not count as unread.
func (in *Inbox) SetActive(roomID string) {
	in.mu.Lock()
	in.active = roomID
	in.mu.Unlock()
}

// Handle applies a message or notification event.
func (in *Inbox) Handle(evt Event) {
	if (evt.Type != EventMessage && evt.Type != EventNotification) || evt.Message == nil {
		return
	}
	m := evt.Message

	in.mu.Lock()
	defer in.mu.Unlock()

	i := in.indexLocked(m.Room)
	if i < 0 {
		e := chat.InboxEntry{Room: m.Room}
		if id, ok := chat.CustomerIDFromRoom(m.Room); ok {
			e.Customer.ID = id
		}
		in.entries = append(in.entries, e)
		i = len(in.entries) - 1
	}
	e := &in.entries[i]
	if m.SenderRole == chat.RoleCustomer {
		if m.SenderName != "" {
			e.Customer.Name = m.SenderName
		}
		if m.Room != in.active {
			e.UnreadCount++
		}
	}
	// A late older message does not replace the preview.
	if m.CreatedAt >= e.LastMessageTime {
		e.LastMessage = m.Preview()
		e.LastMessageTime = m.CreatedAt
	}
	sortEntries(in.entries)
}

// Select marks roomID read and reloads the list so the store's read state
// is authoritative. sess, when it is the room's open session, has its unread
// counter reset as well.
func (in *Inbox) Select(ctx context.Context, roomID string, sess *Session) error {
	if err := in.rooms.MarkRead(ctx, roomID); err != nil {
		return err
	}
	in.SetActive(roomID)
	if sess != nil && sess.Room() == roomID {
		sess.resetUnread()
	}
	if err := in.Load(ctx); err != nil {
		in.logger.Warn("reload after mark read failed", zap.Error(err))
		in.mu.Lock()
		if i := in.indexLocked(roomID); i >= 0 {
			in.entries[i].UnreadCount = 0
		}
		in.mu.Unlock()
		return err
	}
	return nil
}

// Entries returns a snapshot, most recent first.
func (in *Inbox) Entries() []chat.InboxEntry {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]chat.InboxEntry(nil), in.entries...)
}

// Entry returns the entry for roomID.
func (in *Inbox) Entry(roomID string) (chat.InboxEntry, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if i := in.indexLocked(roomID); i >= 0 {
		return in.entries[i], true
	}
	return chat.InboxEntry{}, false
}

// TotalUnread sums unread counts across rooms.
func (in *Inbox) TotalUnread() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, e := range in.entries {
		n += e.UnreadCount
	}
	return n
}

func (in *Inbox) indexLocked(roomID string) int {
	for i := range in.entries {
		if in.entries[i].Room == roomID {
			return i
		}
	}
	return -1
}

func sortEntries(entries []chat.InboxEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].LastMessageTime != entries[j].LastMessageTime {
			return entries[i].LastMessageTime > entries[j].LastMessageTime
		}
		return entries[i].Room < entries[j].Room
	})
}
