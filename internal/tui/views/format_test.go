package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/rentchat/internal/chat"
)

func TestFormatTimestamp(t *testing.T) {
	now := time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC)
	tests := []struct {
		ms   int64
		want string
	}{
		{0, ""},
		{time.Date(2024, 6, 1, 9, 5, 0, 0, time.UTC).UnixMilli(), "09:05"},
		{time.Date(2024, 5, 30, 9, 5, 0, 0, time.UTC).UnixMilli(), "05/30"},
	}
	for _, tt := range tests {
		if got := formatTimestamp(tt.ms, now); got != tt.want {
			t.Errorf("formatTimestamp(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestMessageLine(t *testing.T) {
	now := time.Now()
	own := chat.Message{SenderRole: chat.RoleCustomer, SenderName: "Somchai", Body: "hi", CreatedAt: now.UnixMilli()}
	if got := messageLine(own, chat.RoleCustomer, now); !strings.Contains(got, "You") || strings.Contains(got, "Somchai") {
		t.Errorf("own message line = %q", got)
	}

	img := chat.Message{SenderRole: chat.RoleAdmin, SenderName: "Support", Attachment: "/uploads/a.png"}
	got := messageLine(img, chat.RoleCustomer, now)
	if !strings.Contains(got, "Support") || !strings.Contains(got, chat.ImagePreview) || !strings.Contains(got, "/uploads/a.png") {
		t.Errorf("image message line = %q", got)
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("ok 👍\U0001F3FB"); got != "ok 👍" {
		t.Errorf("sanitize() = %q", got)
	}
	if got := sanitize("[red]x"); got == "[red]x" {
		t.Error("colour tags not escaped")
	}
}

func TestRoomLabel(t *testing.T) {
	e := chat.InboxEntry{Room: "user_7", UnreadCount: 2}
	if got := roomLabel(e); !strings.Contains(got, "user_7 (2)") {
		t.Errorf("roomLabel() = %q", got)
	}
	e.Customer.Name = "Nok"
	e.UnreadCount = 0
	if got := roomLabel(e); got != "Nok" {
		t.Errorf("roomLabel() = %q", got)
	}
}

func TestRenderStatus(t *testing.T) {
	got := renderStatus(Status{Identity: "Nok (admin)", Conn: "RECONNECTING", Unread: 3, Pending: 1, Flash: "connection lost", FlashTag: "orange"})
	for _, want := range []string{"Nok (admin)", "[yellow]RECONNECTING", "3 unread", "1 queued", "[orange]connection lost"} {
		if !strings.Contains(got, want) {
			t.Errorf("status %q missing %q", got, want)
		}
	}
}
