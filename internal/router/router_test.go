package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/matheus3301/rentchat/internal/auth"
	"github.com/matheus3301/rentchat/internal/bus"
	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/relay"
	"github.com/matheus3301/rentchat/internal/store"
)

type fakeSub struct {
	id       string
	identity auth.Identity
	capacity int

	mu     sync.Mutex
	events []Event
	kicked string
}

func newSub(id string, identity auth.Identity) *fakeSub {
	return &fakeSub{id: id, identity: identity, capacity: 1000}
}

func (s *fakeSub) ID() string              { return s.id }
func (s *fakeSub) Identity() auth.Identity { return s.identity }

func (s *fakeSub) Deliver(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) >= s.capacity {
		return false
	}
	s.events = append(s.events, evt)
	return true
}

func (s *fakeSub) Kick(reason string) {
	s.mu.Lock()
	s.kicked = reason
	s.mu.Unlock()
}

func (s *fakeSub) received(typ EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type recordingRelay struct {
	mu   sync.Mutex
	envs []relay.Envelope
}

func (r *recordingRelay) Publish(_ context.Context, env relay.Envelope) error {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
	return nil
}
func (r *recordingRelay) Subscribe(func(relay.Envelope)) error { return nil }
func (r *recordingRelay) Close() error                         { return nil }

var (
	customer = auth.Identity{ID: "42", Name: "Somchai", Role: chat.RoleCustomer}
	admin    = auth.Identity{ID: "a1", Name: "Support", Role: chat.RoleAdmin}
	admin2   = auth.Identity{ID: "a2", Name: "Support 2", Role: chat.RoleAdmin}
)

func testRouter(t *testing.T) (*Router, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Options{Bus: bus.New()}), db
}

func join(t *testing.T, r *Router, sub *fakeSub, room string) {
	t.Helper()
	r.Register(context.Background(), sub)
	if err := r.Join(context.Background(), sub, room); err != nil {
		t.Fatalf("Join(%s) error = %v", room, err)
	}
}

func TestCustomerMessageEchoedAndDeliveredToAdmin(t *testing.T) {
	r, _ := testRouter(t)
	ctx := context.Background()

	c := newSub("c1", customer)
	a := newSub("s1", admin)
	join(t, r, c, "user_42")
	join(t, r, a, "user_42")

	msg, err := r.SendMessage(ctx, c, "user_42", "  hello  ", "")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Body != "hello" || msg.Seq != 1 || msg.ID == "" {
		t.Errorf("message = %+v", msg)
	}

	for _, s := range []*fakeSub{c, a} {
		got := s.received(EventMessage)
		if len(got) != 1 {
			t.Fatalf("%s got %d messages, want 1", s.id, len(got))
		}
		if got[0].Message.ID != msg.ID || got[0].SenderRole != chat.RoleCustomer {
			t.Errorf("%s got %+v", s.id, got[0])
		}
	}
	if n := len(a.received(EventNotification)); n != 0 {
		t.Errorf("joined admin got %d notifications, want 0", n)
	}
}

func TestAdminsObserveSameOrderAsHistory(t *testing.T) {
	r, db := testRouter(t)
	ctx := context.Background()

	c := newSub("c1", customer)
	a1 := newSub("s1", admin)
	a2 := newSub("s2", admin2)
	join(t, r, c, "user_42")
	join(t, r, a1, "user_42")
	join(t, r, a2, "user_42")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if _, err := r.SendMessage(ctx, c, "user_42", fmt.Sprintf("c%d", i), ""); err != nil {
				t.Error(err)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			if _, err := r.SendMessage(ctx, a1, "user_42", fmt.Sprintf("a%d", i), ""); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	history, err := db.ListMessages("user_42")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 20 {
		t.Fatalf("history has %d messages, want 20", len(history))
	}
	for _, s := range []*fakeSub{c, a1, a2} {
		got := s.received(EventMessage)
		if len(got) != len(history) {
			t.Fatalf("%s got %d messages, want %d", s.id, len(got), len(history))
		}
		for i := range history {
			if got[i].Message.ID != history[i].ID {
				t.Fatalf("%s position %d: got %s, want %s", s.id, i, got[i].Message.ID, history[i].ID)
			}
		}
	}
}

func TestAdminNotJoinedGetsNotification(t *testing.T) {
	r, _ := testRouter(t)
	ctx := context.Background()

	c := newSub("c1", customer)
	a := newSub("s1", admin)
	join(t, r, c, "user_42")
	r.Register(ctx, a)

	if _, err := r.SendMessage(ctx, c, "user_42", "", "/uploads/x.png"); err != nil {
		t.Fatal(err)
	}
	notes := a.received(EventNotification)
	if len(notes) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notes))
	}
	if notes[0].Room != "user_42" || notes[0].Message.Preview() != chat.ImagePreview {
		t.Errorf("notification = %+v", notes[0])
	}
	if n := len(a.received(EventMessage)); n != 0 {
		t.Errorf("unjoined admin got %d room messages", n)
	}
}

func TestCustomerForbiddenFromOtherRooms(t *testing.T) {
	r, _ := testRouter(t)
	ctx := context.Background()
	c := newSub("c1", customer)
	r.Register(ctx, c)

	if err := r.Join(ctx, c, "user_7"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Join() error = %v, want ErrForbidden", err)
	}
	if _, err := r.SendMessage(ctx, c, "user_7", "hi", ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("SendMessage() error = %v, want ErrForbidden", err)
	}
	if err := r.Typing(ctx, c, "user_7", true); !errors.Is(err, ErrForbidden) {
		t.Errorf("Typing() error = %v, want ErrForbidden", err)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	r, db := testRouter(t)
	c := newSub("c1", customer)
	join(t, r, c, "user_42")

	if _, err := r.SendMessage(context.Background(), c, "user_42", "   ", ""); !errors.Is(err, chat.ErrEmptyMessage) {
		t.Errorf("error = %v, want ErrEmptyMessage", err)
	}
	if n, _ := db.MessageCount(); n != 0 {
		t.Errorf("stored %d messages, want 0", n)
	}
}

func TestInvalidUTF8Rejected(t *testing.T) {
	r, db := testRouter(t)
	c := newSub("c1", customer)
	join(t, r, c, "user_42")

	_, err := r.SendMessage(context.Background(), c, "user_42", "caf\xe9", "")
	if !errors.Is(err, chat.ErrInvalidText) {
		t.Fatalf("SendMessage() error = %v, want ErrInvalidText", err)
	}
	if n := len(c.received(EventMessage)); n != 0 {
		t.Errorf("invalid message delivered %d times", n)
	}
	if n, _ := db.MessageCount(); n != 0 {
		t.Errorf("MessageCount = %d, want 0", n)
	}
}

func TestTypingExcludesSender(t *testing.T) {
	r, _ := testRouter(t)
	ctx := context.Background()
	c := newSub("c1", customer)
	a := newSub("s1", admin)
	join(t, r, c, "user_42")
	join(t, r, a, "user_42")

	if err := r.Typing(ctx, c, "user_42", true); err != nil {
		t.Fatal(err)
	}
	if err := r.Typing(ctx, c, "user_42", false); err != nil {
		t.Fatal(err)
	}
	if n := len(c.received(EventTypingStart)); n != 0 {
		t.Errorf("sender got %d typing events", n)
	}
	starts := a.received(EventTypingStart)
	if len(starts) != 1 || starts[0].SenderRole != chat.RoleCustomer {
		t.Errorf("admin typing-start = %+v", starts)
	}
	if n := len(a.received(EventTypingStop)); n != 1 {
		t.Errorf("admin got %d typing-stop, want 1", n)
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	r, _ := testRouter(t)
	ctx := context.Background()
	c := newSub("c1", customer)
	slow := newSub("s1", admin)
	slow.capacity = 1
	join(t, r, c, "user_42")
	join(t, r, slow, "user_42")

	for i := 0; i < 3; i++ {
		if _, err := r.SendMessage(ctx, c, "user_42", fmt.Sprintf("m%d", i), ""); err != nil {
			t.Fatal(err)
		}
	}
	if slow.kicked == "" {
		t.Error("slow subscriber was not kicked")
	}
	if got := len(c.received(EventMessage)); got != 3 {
		t.Errorf("healthy subscriber got %d messages, want 3", got)
	}
	if members := r.Members("user_42"); len(members) != 1 || members[0] != "c1" {
		t.Errorf("members = %v, want [c1]", members)
	}
}

func TestDropAndStats(t *testing.T) {
	r, _ := testRouter(t)
	ctx := context.Background()
	c := newSub("c1", customer)
	a := newSub("s1", admin)
	join(t, r, c, "user_42")
	join(t, r, a, "user_42")

	s := r.Stats()
	if s.Connections != 2 || s.Admins != 1 || s.ActiveRooms != 1 {
		t.Errorf("stats = %+v", s)
	}

	r.Drop(ctx, a)
	r.Leave(ctx, c, "user_42")
	s = r.Stats()
	if s.Connections != 1 || s.Admins != 0 || s.ActiveRooms != 0 {
		t.Errorf("stats after drop = %+v", s)
	}
}

func TestRelayPublishAndRemoteDelivery(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	rel := &recordingRelay{}
	r := New(db, Options{Relay: rel})
	ctx := context.Background()

	c := newSub("c1", customer)
	join(t, r, c, "user_42")
	msg, err := r.SendMessage(ctx, c, "user_42", "hi", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rel.envs) != 1 || rel.envs[0].Kind != relay.KindMessage || rel.envs[0].Message.ID != msg.ID {
		t.Fatalf("relayed = %+v", rel.envs)
	}

	a := newSub("s1", admin)
	join(t, r, a, "user_42")
	remote := *msg
	remote.ID, remote.Seq, remote.Body = "remote-1", 2, "from node b"
	r.Remote(ctx, relay.Envelope{Origin: "b", Kind: relay.KindMessage, Room: "user_42", Message: &remote})
	r.Remote(ctx, relay.Envelope{Origin: "b", Kind: relay.KindTypingStart, Room: "user_42", SenderRole: chat.RoleAdmin})

	got := a.received(EventMessage)
	if len(got) != 1 || got[0].Message.ID != "remote-1" {
		t.Errorf("remote message = %+v", got)
	}
	if n := len(c.received(EventTypingStart)); n != 1 {
		t.Errorf("remote typing delivered %d times, want 1", n)
	}
}

func TestShutdownKicksEveryone(t *testing.T) {
	r, _ := testRouter(t)
	ctx := context.Background()
	c := newSub("c1", customer)
	a := newSub("s1", admin)
	join(t, r, c, "user_42")
	r.Register(ctx, a)

	r.Shutdown(ctx)
	if c.kicked == "" || a.kicked == "" {
		t.Errorf("kicked = %q / %q, want both", c.kicked, a.kicked)
	}
	if s := r.Stats(); s.Connections != 0 || s.ActiveRooms != 0 {
		t.Errorf("stats after shutdown = %+v", s)
	}
}

func TestBroadcastReachesEveryMember(t *testing.T) {
	r, _ := testRouter(t)
	ctx := context.Background()
	c := newSub("c1", customer)
	a := newSub("s1", admin)
	other := newSub("s2", admin2)
	join(t, r, c, "user_42")
	join(t, r, a, "user_42")
	join(t, r, other, "user_7")

	r.Broadcast(ctx, "user_42", Event{Type: EventTypingStop, Room: "user_42", SenderRole: chat.RoleAdmin})
	for _, s := range []*fakeSub{c, a} {
		if n := len(s.received(EventTypingStop)); n != 1 {
			t.Errorf("%s got %d events, want 1", s.id, n)
		}
	}
	if n := len(other.received(EventTypingStop)); n != 0 {
		t.Errorf("member of another room got %d events", n)
	}
}

// heldRelay queues published envelopes until the test hands them to a
// sibling router, so cross-node delivery can be delayed on purpose.
type heldRelay struct {
	mu   sync.Mutex
	envs []relay.Envelope
}

func (h *heldRelay) Publish(_ context.Context, env relay.Envelope) error {
	h.mu.Lock()
	h.envs = append(h.envs, env)
	h.mu.Unlock()
	return nil
}
func (h *heldRelay) Subscribe(func(relay.Envelope)) error { return nil }
func (h *heldRelay) Close() error                         { return nil }

func (h *heldRelay) deliverTo(ctx context.Context, peer *Router) {
	h.mu.Lock()
	envs := h.envs
	h.envs = nil
	h.mu.Unlock()
	for _, env := range envs {
		peer.Remote(ctx, env)
	}
}

func openShared(t *testing.T, path string) *store.DB {
	t.Helper()
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func messageIDs(s *fakeSub) []string {
	var ids []string
	for _, e := range s.received(EventMessage) {
		ids = append(ids, e.Message.ID)
	}
	return ids
}

func TestLinkedNodesAgreeWithSharedHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	dbA := openShared(t, path)
	if _, err := dbA.Migrate(); err != nil {
		t.Fatal(err)
	}
	dbB := openShared(t, path)
	relA, relB := &heldRelay{}, &heldRelay{}
	nodeA := New(dbA, Options{Relay: relA})
	nodeB := New(dbB, Options{Relay: relB})
	ctx := context.Background()

	c := newSub("c1", customer)
	adminA := newSub("s1", admin)
	adminB := newSub("s2", admin2)
	join(t, nodeA, c, "user_42")
	join(t, nodeA, adminA, "user_42")
	join(t, nodeB, adminB, "user_42")

	// The admin on B replies before the customer's message is relayed to B.
	m1, err := nodeA.SendMessage(ctx, c, "user_42", "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	m2, err := nodeB.SendMessage(ctx, adminB, "user_42", "hi, how can we help?", "")
	if err != nil {
		t.Fatal(err)
	}
	relA.deliverTo(ctx, nodeB)
	relB.deliverTo(ctx, nodeA)

	history, err := dbB.ListMessages("user_42")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].ID != m1.ID || history[1].ID != m2.ID {
		t.Fatalf("history on B = %+v", history)
	}
	want := fmt.Sprint([]string{m1.ID, m2.ID})
	for _, s := range []*fakeSub{c, adminA, adminB} {
		if got := fmt.Sprint(messageIDs(s)); got != want {
			t.Errorf("%s saw %s, want %s", s.id, got, want)
		}
	}
}

func TestRemoteMessageAlreadyDeliveredIsSkipped(t *testing.T) {
	r, db := testRouter(t)
	ctx := context.Background()
	a := newSub("s1", admin)
	join(t, r, a, "user_42")

	m := customerMsgFor("user_42", "persisted by a sibling")
	if err := db.AppendMessage(m); err != nil {
		t.Fatal(err)
	}
	env := relay.Envelope{Origin: "b", Kind: relay.KindMessage, Room: "user_42", Message: m}
	r.Remote(ctx, env)
	r.Remote(ctx, env)

	if got := messageIDs(a); len(got) != 1 || got[0] != m.ID {
		t.Errorf("delivered %v, want exactly [%s]", got, m.ID)
	}
}

func customerMsgFor(room, body string) *chat.Message {
	return &chat.Message{Room: room, SenderID: customer.ID, SenderRole: chat.RoleCustomer, SenderName: customer.Name, Body: body}
}
