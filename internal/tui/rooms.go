package tui

import (
	"context"
	"sync"

	"github.com/matheus3301/rentchat/internal/client"
)

// roomQueue runs room transitions one at a time in the order they were
// pushed, so leave-room and join-room frames reach chatd in the order the
// user caused them.
type roomQueue struct {
	mu   sync.Mutex
	ops  []func()
	wake chan struct{}
}

func newRoomQueue() *roomQueue {
	return &roomQueue{wake: make(chan struct{}, 1)}
}

// Push never blocks, so it is safe from the UI goroutine.
func (q *roomQueue) Push(op func()) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run executes queued transitions until ctx is done.
func (q *roomQueue) Run(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.ops) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		op := q.ops[0]
		q.ops = q.ops[1:]
		q.mu.Unlock()
		op()
	}
}

type leaver interface {
	Leave(ctx context.Context, roomID string) error
}

// leaveAbandoned sends leave-room for a closed admin session unless the
// conversation now open is the same room again. It reports whether it left.
func leaveAbandoned(ctx context.Context, l leaver, closed, current *client.Session) (bool, error) {
	if current != nil && current.Room() == closed.Room() {
		return false, nil
	}
	return true, l.Leave(ctx, closed.Room())
}
