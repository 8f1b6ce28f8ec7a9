package client

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/matheus3301/rentchat/internal/chat"
)

type call struct {
	Op       string // join, send, typing, stop-typing
	Room     string
	Text     string
	ImageURL string
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []call
	// onJoin runs after the join is acknowledged and before Join returns.
	onJoin  func()
	joinErr error
}

func (f *fakeTransport) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeTransport) Join(_ context.Context, roomID string) error {
	f.record(call{Op: "join", Room: roomID})
	if f.joinErr != nil {
		return f.joinErr
	}
	if f.onJoin != nil {
		f.onJoin()
	}
	return nil
}

func (f *fakeTransport) SendMessage(_ context.Context, roomID, text, imageURL string) error {
	f.record(call{Op: "send", Room: roomID, Text: text, ImageURL: imageURL})
	return nil
}

func (f *fakeTransport) Typing(_ context.Context, roomID string, started bool) error {
	op := "stop-typing"
	if started {
		op = "typing"
	}
	f.record(call{Op: op, Room: roomID})
	return nil
}

func (f *fakeTransport) ops(op string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) all() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type fakeHistory struct {
	mu        sync.Mutex
	messages  []chat.Message
	err       error
	gate      chan struct{} // when set, GetMessages blocks until closed
	marked    int
	uploads   int
	uploadErr error
}

func (f *fakeHistory) GetMessages(ctx context.Context, _ string) ([]chat.Message, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]chat.Message(nil), f.messages...), nil
}

func (f *fakeHistory) MarkRead(context.Context, string) error {
	f.mu.Lock()
	f.marked++
	f.mu.Unlock()
	return nil
}

func (f *fakeHistory) Upload(_ context.Context, name string, r io.Reader) (*UploadResult, error) {
	f.mu.Lock()
	f.uploads++
	err := f.uploadErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	return &UploadResult{URL: "/uploads/" + name, Path: name}, nil
}

func (f *fakeHistory) markCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marked
}

var errBackend = errors.New("backend unavailable")
