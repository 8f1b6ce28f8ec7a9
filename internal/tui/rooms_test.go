package tui

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/client"
)

type recordingLeaver struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingLeaver) Leave(_ context.Context, roomID string) error {
	r.record("leave " + roomID)
	return nil
}

func (r *recordingLeaver) record(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recordingLeaver) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func adminSession(room string) *client.Session {
	return client.NewSession(client.SessionOptions{Room: room, Viewer: chat.RoleAdmin})
}

func TestRoomQueueKeepsOrder(t *testing.T) {
	q := newRoomQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		q.Push(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 49 {
				close(done)
			}
		})
	}
	go q.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("op %d ran at position %d", v, i)
		}
	}
}

func TestReopenSameRoomDoesNotLeave(t *testing.T) {
	l := &recordingLeaver{}
	closed := adminSession("user_42")
	reopened := adminSession("user_42")

	left, err := leaveAbandoned(context.Background(), l, closed, reopened)
	if err != nil {
		t.Fatal(err)
	}
	if left || len(l.all()) != 0 {
		t.Errorf("left = %v calls = %v, want no leave", left, l.all())
	}
}

func TestLeaveRunsBeforeLaterJoin(t *testing.T) {
	l := &recordingLeaver{}
	q := newRoomQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Esc out of user_42 while nothing else is open, then open it again.
	var current *client.Session
	var mu sync.Mutex
	closed := adminSession("user_42")
	q.Push(func() {
		mu.Lock()
		cur := current
		mu.Unlock()
		_, _ = leaveAbandoned(ctx, l, closed, cur)
	})
	mu.Lock()
	current = adminSession("user_42")
	mu.Unlock()
	done := make(chan struct{})
	q.Push(func() {
		l.record("join user_42")
		close(done)
	})
	go q.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}
	calls := l.all()
	if len(calls) == 0 || calls[len(calls)-1] != "join user_42" {
		t.Errorf("calls = %v, want join last", calls)
	}
	for _, c := range calls {
		if c == "leave user_42" {
			t.Errorf("calls = %v, reopened room was left", calls)
		}
	}
}

func TestLeaveOtherRoom(t *testing.T) {
	l := &recordingLeaver{}
	left, err := leaveAbandoned(context.Background(), l, adminSession("user_42"), adminSession("user_7"))
	if err != nil {
		t.Fatal(err)
	}
	if !left || len(l.all()) != 1 || l.all()[0] != "leave user_42" {
		t.Errorf("left = %v calls = %v", left, l.all())
	}
	l = &recordingLeaver{}
	if left, _ := leaveAbandoned(context.Background(), l, adminSession("user_42"), nil); !left {
		t.Error("closing with nothing open should leave")
	}
}
