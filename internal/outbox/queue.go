// Package outbox buffers realtime frames sent while the connection is down
// and replays them in order once it is back.
package outbox

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/rentchat/internal/logging"
	"go.uber.org/zap"
)

var ErrFull = errors.New("outbox full")

// Writer delivers one encoded frame over the live connection.
type Writer interface {
	WriteFrame(ctx context.Context, frame []byte) error
}

// Entry is one buffered frame.
type Entry struct {
	ID    string
	Frame []byte
}

// Queue is a bounded FIFO of pending frames.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	logger  *zap.Logger
}

// NewQueue creates a queue holding at most max frames (unbounded when max <= 0).
func NewQueue(max int, logger *zap.Logger) *Queue {
	return &Queue{max: max, logger: logging.OrNop(logger)}
}

// Push appends a frame and returns its entry id.
func (q *Queue) Push(frame []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.max > 0 && len(q.entries) >= q.max {
		return "", ErrFull
	}
	e := Entry{ID: uuid.NewString(), Frame: frame}
	q.entries = append(q.entries, e)
	q.logger.Debug("frame buffered", zap.String("entry", e.ID), zap.Int("pending", len(q.entries)))
	return e.ID, nil
}

// Len returns the number of pending frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Flush writes pending frames in order. It stops at the first failure and
// keeps that frame and everything after it for the next flush.
func (q *Queue) Flush(ctx context.Context, w Writer) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sent := 0
	for sent < len(q.entries) {
		e := q.entries[sent]
		if err := w.WriteFrame(ctx, e.Frame); err != nil {
			q.entries = q.entries[sent:]
			q.logger.Warn("outbox flush interrupted", zap.Error(err), zap.String("entry", e.ID), zap.Int("sent", sent))
			return sent, err
		}
		sent++
	}
	q.entries = nil
	if sent > 0 {
		q.logger.Info("outbox flushed", zap.Int("sent", sent))
	}
	return sent, nil
}

// Drain removes and returns every pending entry.
func (q *Queue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = nil
	return out
}
