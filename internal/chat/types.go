package chat

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Role identifies which side of a support conversation a participant is on.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// Counterpart returns the role on the other side of the conversation.
func (r Role) Counterpart() Role {
	if r == RoleAdmin {
		return RoleCustomer
	}
	return RoleAdmin
}

// ImagePreview is shown in inbox entries for attachment-only messages.
const ImagePreview = "📷 Image"

var (
	ErrEmptyMessage = errors.New("message has neither text nor attachment")
	ErrInvalidRoom  = errors.New("invalid room id")
	ErrInvalidText  = errors.New("message is not valid UTF-8")
)

// Message is one persisted unit of communication within a room.
type Message struct {
	ID         string `json:"id"`
	Room       string `json:"room"`
	Seq        int64  `json:"seq"`
	SenderID   string `json:"senderId"`
	SenderRole Role   `json:"senderRole"`
	SenderName string `json:"senderName"`
	Body       string `json:"body,omitempty"`
	Attachment string `json:"attachment,omitempty"`
	CreatedAt  int64  `json:"createdAt"` // unix ms
}

// Validate checks the body/attachment invariant.
func (m *Message) Validate() error {
	if !utf8.ValidString(m.Body) || !utf8.ValidString(m.Attachment) {
		return ErrInvalidText
	}
	if strings.TrimSpace(m.Body) == "" && strings.TrimSpace(m.Attachment) == "" {
		return ErrEmptyMessage
	}
	if m.Room == "" {
		return ErrInvalidRoom
	}
	if !m.SenderRole.Valid() {
		return fmt.Errorf("invalid sender role %q", m.SenderRole)
	}
	return nil
}

// Preview returns the inbox preview text for the message.
func (m *Message) Preview() string {
	if body := strings.TrimSpace(m.Body); body != "" {
		return Truncate(body, 100)
	}
	return ImagePreview
}

// Customer is the identity a room belongs to.
type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InboxEntry summarises one room for the admin room list.
type InboxEntry struct {
	Room            string   `json:"room"`
	Customer        Customer `json:"customer"`
	LastMessage     string   `json:"lastMessage"`
	LastMessageTime int64    `json:"lastMessageTime"`
	UnreadCount     int      `json:"unreadCount"`
}

// Truncate cuts s to at most maxLen runes.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
