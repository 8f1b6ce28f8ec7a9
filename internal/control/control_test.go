package control

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/rentchat/internal/auth"
	"github.com/matheus3301/rentchat/internal/bus"
	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/presence"
	"github.com/matheus3301/rentchat/internal/router"
	"github.com/matheus3301/rentchat/internal/status"
	"github.com/matheus3301/rentchat/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func startControl(t *testing.T) (*Client, *store.DB, *bus.Bus) {
	t.Helper()
	c, db, b, _ := startControlWith(t, presence.Nop{})
	return c, db, b
}

func startControlWith(t *testing.T, pres presence.Tracker) (*Client, *store.DB, *bus.Bus, *router.Router) {
	t.Helper()
	// Short path to stay under the unix socket length limit.
	dir, err := os.MkdirTemp("/tmp", "rentchat-ctl-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	db, err := store.Open(filepath.Join(dir, "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	machine := status.NewMachine(status.Booting, status.DaemonTable, nil)
	if err := machine.Transition(status.Serving); err != nil {
		t.Fatal(err)
	}
	r := router.New(db, router.Options{Bus: b})
	svc := NewService("test", ":5000", machine, r, db, b, pres)

	socketPath := filepath.Join(dir, "c.sock")
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	Register(srv, svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, db, b, r
}

func TestStatus(t *testing.T) {
	c, db, _ := startControl(t)
	if err := db.AppendMessage(&chat.Message{Room: "user_42", SenderID: "42", SenderRole: chat.RoleCustomer, Body: "hi"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if info.Instance != "test" || info.State != string(status.Serving) {
		t.Errorf("status = %+v", info)
	}
	if info.Rooms != 1 || info.Messages != 1 {
		t.Errorf("counts = rooms %d messages %d, want 1/1", info.Rooms, info.Messages)
	}
}

func TestListRooms(t *testing.T) {
	c, db, _ := startControl(t)
	for _, body := range []string{"a", "b"} {
		m := &chat.Message{Room: "user_42", SenderID: "42", SenderRole: chat.RoleCustomer, SenderName: "Somchai", Body: body}
		if err := db.AppendMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rooms, err := c.ListRooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 {
		t.Fatalf("rooms = %+v", rooms)
	}
	r := rooms[0]
	if r.Room != "user_42" || r.Customer.Name != "Somchai" || r.UnreadCount != 2 || r.LastMessage != "b" {
		t.Errorf("room = %+v", r)
	}
}

type member struct {
	id       string
	identity auth.Identity
}

func (m member) ID() string { return m.id }

func (m member) Identity() auth.Identity { return m.identity }

func (m member) Deliver(router.Event) bool { return true }

func (m member) Kick(string) {}

type countingTracker struct {
	presence.Nop
	n int64
}

func (c countingTracker) RoomConnections(context.Context, string) (int64, error) {
	return c.n, nil
}

func TestGetRoom(t *testing.T) {
	c, db, _, r := startControlWith(t, countingTracker{n: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	customer := auth.Identity{ID: "42", Name: "Somchai", Role: chat.RoleCustomer}
	agent := auth.Identity{ID: "a1", Name: "Agent", Role: chat.RoleAdmin}
	for _, m := range []member{{"conn-b", agent}, {"conn-a", customer}} {
		if err := r.Join(ctx, m, "user_42"); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.AppendMessage(&chat.Message{Room: "user_42", SenderID: "42", SenderRole: chat.RoleCustomer, Body: "hi"}); err != nil {
		t.Fatal(err)
	}

	info, err := c.GetRoom(ctx, "user_42")
	if err != nil {
		t.Fatalf("GetRoom() error = %v", err)
	}
	if info.Entry.Room != "user_42" || info.Entry.Customer.Name != "Somchai" || info.Entry.UnreadCount != 1 {
		t.Errorf("entry = %+v", info.Entry)
	}
	if len(info.Members) != 2 || info.Members[0] != "conn-a" || info.Members[1] != "conn-b" {
		t.Errorf("members = %v, want [conn-a conn-b]", info.Members)
	}
	if info.ClusterConnections == nil || *info.ClusterConnections != 3 {
		t.Errorf("clusterConnections = %v, want 3", info.ClusterConnections)
	}
}

func TestGetRoomErrors(t *testing.T) {
	c, _, _ := startControl(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.GetRoom(ctx, "user_404"); grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("unknown room: code = %v, want NotFound", grpcstatus.Code(err))
	}
	if _, err := c.GetRoom(ctx, "lobby"); grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("bad id: code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
}

func TestGetRoomWithoutPresenceCounter(t *testing.T) {
	c, db, _ := startControl(t)
	if err := db.EnsureRoom("user_42", "Somchai"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := c.GetRoom(ctx, "user_42")
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Members) != 0 || info.ClusterConnections != nil {
		t.Errorf("info = %+v, want no members and no cluster count", info)
	}
}

func TestWatchEvents(t *testing.T) {
	c, _, b := startControl(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	watchCtx, stop := context.WithCancel(ctx)
	defer stop()
	got := make(chan WatchedEvent, 1)
	go func() {
		_ = c.WatchEvents(watchCtx, "chat.", func(evt WatchedEvent) {
			select {
			case got <- evt:
			default:
			}
		})
	}()

	// Publish until the stream has subscribed.
	msg := chat.Message{Room: "user_42", Seq: 3, SenderRole: chat.RoleAdmin, Body: "hello"}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case evt := <-got:
			if evt.Kind != bus.KindMessage || evt.Room != "user_42" || evt.Summary != "#3 admin: hello" {
				t.Errorf("event = %+v", evt)
			}
			return
		case <-ticker.C:
			b.Publish(bus.Event{Kind: bus.KindRoomJoined, Room: "user_42"})
			b.Publish(bus.Event{Kind: bus.KindMessage, Room: "user_42", Payload: msg})
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
}
