package wire

import (
	"errors"
	"testing"

	"github.com/matheus3301/rentchat/internal/chat"
)

func TestEncodeParseMessage(t *testing.T) {
	msg := chat.Message{
		ID: "m1", Room: "user_42", Seq: 7, SenderRole: chat.RoleCustomer,
		SenderName: "Somchai", Body: "hello", CreatedAt: 1_718_000_000_123,
	}
	data, err := Encode(TypeMessage, msg)
	if err != nil {
		t.Fatal(err)
	}

	f, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if f.Type != TypeMessage {
		t.Errorf("type = %q, want %q", f.Type, TypeMessage)
	}
	var got chat.Message
	if err := f.Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != msg {
		t.Errorf("decoded = %+v, want %+v", got, msg)
	}
}

func TestDecodeNotification(t *testing.T) {
	data, _ := Encode(TypeNotification, NotificationPayload{
		Message: chat.Message{ID: "m2", Room: "user_7", SenderRole: chat.RoleCustomer, Attachment: "/uploads/a.png"},
	})
	f, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	var p NotificationPayload
	if err := f.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Message.Room != "user_7" || p.Message.Attachment != "/uploads/a.png" {
		t.Errorf("notification = %+v", p)
	}
}

func TestParseClientFrames(t *testing.T) {
	f, err := Parse([]byte(`{"type":"send-message","data":{"roomId":"user_42","text":"hi","extra":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	var p SendPayload
	if err := f.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.RoomID != "user_42" || p.Text != "hi" || p.ImageURL != "" {
		t.Errorf("payload = %+v", p)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{"data":{}}`, `[]`} {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%s) error = %v, want ErrMalformed", raw, err)
		}
	}
}
