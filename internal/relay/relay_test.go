package relay

import (
	"encoding/json"
	"testing"

	"github.com/matheus3301/rentchat/internal/chat"
)

func TestDecode(t *testing.T) {
	env := Envelope{
		Origin:  "node-a",
		Kind:    KindMessage,
		Room:    "user_42",
		Message: &chat.Message{ID: "m1", Room: "user_42", SenderRole: chat.RoleCustomer, Body: "hello"},
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	got, ok := Decode(data, "node-b")
	if !ok {
		t.Fatal("Decode() rejected envelope from another node")
	}
	if got.Kind != KindMessage || got.Message == nil || got.Message.Body != "hello" {
		t.Errorf("decoded = %+v", got)
	}

	if _, ok := Decode(data, "node-a"); ok {
		t.Error("Decode() should skip envelopes from self")
	}
	if _, ok := Decode([]byte("{not json"), "node-b"); ok {
		t.Error("Decode() should reject malformed payloads")
	}
	if _, ok := Decode([]byte(`{"origin":"x","kind":"message"}`), "node-b"); ok {
		t.Error("Decode() should reject envelopes without a room")
	}
}
