package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/logging"
	"github.com/matheus3301/rentchat/internal/outbox"
	"github.com/matheus3301/rentchat/internal/status"
	"github.com/matheus3301/rentchat/internal/wire"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized = errors.New("credential rejected")
	ErrClosed       = errors.New("connection closed")
)

// Connection states.
const (
	Disconnected status.State = "DISCONNECTED"
	Connecting   status.State = "CONNECTING"
	Connected    status.State = "CONNECTED"
	Reconnecting status.State = "RECONNECTING"
	Closed       status.State = "CLOSED"
)

var connTable = status.Table{
	Disconnected: {Connecting, Closed},
	Connecting:   {Connected, Reconnecting, Closed},
	Connected:    {Reconnecting, Closed},
	Reconnecting: {Connecting, Closed},
}

// Options configures Dial.
type Options struct {
	// URL of the realtime endpoint, e.g. ws://localhost:5000/ws.
	URL   string
	Token string
	// AutoJoin is joined on every (re)connect. Customers set it to their own room.
	AutoJoin string

	Logger       *zap.Logger
	Dialer       *websocket.Dialer
	NewBackOff   func() backoff.BackOff
	OutboxSize   int
	EventBuffer  int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	// JoinTimeout bounds how long Join waits for chatd's acknowledgement.
	JoinTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if o.NewBackOff == nil {
		o.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 15 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 100
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 10 * time.Second
	}
}

// Conn is a realtime connection to chatd that reconnects on transport
// failure. Inbound traffic is delivered on Events.
type Conn struct {
	opts    Options
	logger  *zap.Logger
	machine *status.Machine
	events  chan Event
	outbox  *outbox.Queue

	mu    sync.Mutex
	ws    *websocket.Conn
	live  bool
	rooms map[string]struct{}
	acks  map[string][]chan error

	writeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Dial connects to chatd. It fails with ErrUnauthorized when the credential
// is rejected and returns the transport error when the first attempt fails.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	opts.applyDefaults()
	c := &Conn{
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).With(zap.String("component", "conn")),
		machine: status.NewMachine(Disconnected, connTable, nil),
		events:  make(chan Event, opts.EventBuffer),
		rooms:   make(map[string]struct{}),
		acks:    make(map[string][]chan error),
	}
	c.outbox = outbox.NewQueue(opts.OutboxSize, c.logger)
	if opts.AutoJoin != "" {
		c.rooms[opts.AutoJoin] = struct{}{}
	}

	_ = c.machine.Transition(Connecting)
	ws, err := c.dial(ctx)
	if err != nil {
		_ = c.machine.Transition(Closed)
		return nil, err
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	if err := c.establish(ws); err != nil {
		_ = ws.Close()
		c.cancel()
		_ = c.machine.Transition(Closed)
		return nil, err
	}

	c.wg.Add(1)
	go c.run(ws)
	return c, nil
}

// Events returns the inbound event stream. It is closed by Close.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// State returns the connection state.
func (c *Conn) State() status.State {
	return c.machine.Current()
}

// Pending returns the number of frames buffered for the next reconnect.
func (c *Conn) Pending() int {
	return c.outbox.Len()
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.opts.Token)
	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	return ws, nil
}

// establish installs ws, rejoins rooms and flushes the outbox, then marks
// the connection live.
func (c *Conn) establish(ws *websocket.Conn) error {
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.opts.WriteTimeout))
	})

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	// Rooms joined while this loop runs are picked up by the next pass, so
	// the connection only goes live once every room and frame was written.
	joined := make(map[string]struct{})
	w := wsWriter{c: c, ws: ws}
	for {
		c.mu.Lock()
		var rooms []string
		for r := range c.rooms {
			if _, ok := joined[r]; !ok {
				rooms = append(rooms, r)
			}
		}
		if len(rooms) == 0 && c.outbox.Len() == 0 {
			c.live = true
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		for _, r := range rooms {
			frame, err := wire.Encode(wire.TypeJoinRoom, wire.RoomPayload{RoomID: r})
			if err != nil {
				return err
			}
			if err := c.write(ws, frame); err != nil {
				return err
			}
			joined[r] = struct{}{}
		}
		if _, err := c.outbox.Flush(c.ctx, w); err != nil {
			return err
		}
	}

	if err := c.machine.Transition(Connected); err != nil {
		return err
	}
	c.logger.Info("connected", zap.String("url", c.opts.URL), zap.Int("rooms", len(joined)))
	c.emit(Event{Type: EventConnected})
	return nil
}

type wsWriter struct {
	c  *Conn
	ws *websocket.Conn
}

func (w wsWriter) WriteFrame(_ context.Context, frame []byte) error {
	return w.c.write(w.ws, frame)
}

func (c *Conn) write(ws *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) run(ws *websocket.Conn) {
	defer c.wg.Done()
	for {
		err := c.readLoop(ws)

		c.mu.Lock()
		c.live = false
		c.mu.Unlock()
		_ = ws.Close()

		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("connection lost", zap.Error(err))
		_ = c.machine.Transition(Reconnecting)
		c.emit(Event{Type: EventDisconnected, Err: err})

		next, err := c.reconnect()
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.emit(Event{Type: EventError, Err: err})
			}
			c.logger.Info("reconnect abandoned", zap.Error(err))
			_ = c.machine.Transition(Closed)
			return
		}
		ws = next
	}
}

func (c *Conn) reconnect() (*websocket.Conn, error) {
	var ws *websocket.Conn
	op := func() error {
		if err := c.machine.Transition(Connecting); err != nil {
			return backoff.Permanent(err)
		}
		next, err := c.dial(c.ctx)
		if err == nil {
			err = c.establish(next)
			if err != nil {
				_ = next.Close()
			}
		}
		if err != nil {
			_ = c.machine.Transition(Reconnecting)
			if errors.Is(err, ErrUnauthorized) {
				return backoff.Permanent(err)
			}
			return err
		}
		ws = next
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("reconnect failed", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.opts.NewBackOff(), c.ctx), notify); err != nil {
		return nil, err
	}
	return ws, nil
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	_ = ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		f, err := wire.Parse(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		evt, ok := decodeEvent(f)
		if !ok {
			c.logger.Debug("ignoring frame", zap.String("type", f.Type))
			continue
		}
		c.ack(evt)
		c.emit(evt)
	}
}

func decodeEvent(f *wire.Frame) (Event, bool) {
	switch f.Type {
	case wire.TypeMessage:
		var m chat.Message
		if err := f.Decode(&m); err != nil {
			return Event{}, false
		}
		return Event{Type: EventMessage, Room: m.Room, SenderRole: m.SenderRole, Message: &m}, true
	case wire.TypeNotification:
		var p wire.NotificationPayload
		if err := f.Decode(&p); err != nil {
			return Event{}, false
		}
		return Event{Type: EventNotification, Room: p.Message.Room, SenderRole: p.Message.SenderRole, Message: &p.Message}, true
	case wire.TypeUserTyping, wire.TypeUserStopTyping:
		var p wire.TypingPayload
		if err := f.Decode(&p); err != nil {
			return Event{}, false
		}
		typ := EventTypingStart
		if f.Type == wire.TypeUserStopTyping {
			typ = EventTypingStop
		}
		return Event{Type: typ, Room: p.RoomID, SenderRole: p.SenderRole}, true
	case wire.TypeJoined:
		var p wire.RoomPayload
		if err := f.Decode(&p); err != nil {
			return Event{}, false
		}
		return Event{Type: EventJoined, Room: p.RoomID}, true
	case wire.TypeError:
		var p wire.ErrorPayload
		if err := f.Decode(&p); err != nil {
			return Event{}, false
		}
		return Event{Type: EventError, Room: p.RoomID, Err: &ServerError{Code: p.Code, Message: p.Message, RoomID: p.RoomID, Op: p.Op}}, true
	}
	return Event{}, false
}

func (c *Conn) emit(evt Event) {
	select {
	case c.events <- evt:
	case <-c.ctx.Done():
	}
}

// ack resolves the Join calls waiting on evt's room.
func (c *Conn) ack(evt Event) {
	var result error
	switch evt.Type {
	case EventJoined:
	case EventError:
		var se *ServerError
		if !errors.As(evt.Err, &se) || se.Op != wire.TypeJoinRoom {
			return
		}
		result = se
	default:
		return
	}
	c.mu.Lock()
	waiters := c.acks[evt.Room]
	delete(c.acks, evt.Room)
	if result != nil {
		delete(c.rooms, evt.Room)
	}
	c.mu.Unlock()
	for _, w := range waiters {
		w <- result
	}
}

// Join subscribes to roomID now and on every reconnect. It returns once
// chatd has acknowledged the join, so every message persisted afterwards is
// delivered live. While disconnected the join is sent by the next reconnect
// and Join keeps waiting for it, up to JoinTimeout.
func (c *Conn) Join(ctx context.Context, roomID string) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	done := make(chan error, 1)
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.acks[roomID] = append(c.acks[roomID], done)
	c.mu.Unlock()

	if err := c.send(ctx, wire.TypeJoinRoom, wire.RoomPayload{RoomID: roomID}, false); err != nil {
		c.forgetAck(roomID, done)
		return err
	}

	timer := time.NewTimer(c.opts.JoinTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		c.forgetAck(roomID, done)
		return fmt.Errorf("join %s: no acknowledgement after %s", roomID, c.opts.JoinTimeout)
	case <-ctx.Done():
		c.forgetAck(roomID, done)
		return ctx.Err()
	case <-c.ctx.Done():
		c.forgetAck(roomID, done)
		return ErrClosed
	}
}

func (c *Conn) forgetAck(roomID string, done chan error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.acks[roomID]
	for i, w := range waiters {
		if w == done {
			c.acks[roomID] = append(waiters[:i:i], waiters[i+1:]...)
			break
		}
	}
	if len(c.acks[roomID]) == 0 {
		delete(c.acks, roomID)
	}
}

// Leave unsubscribes from roomID.
func (c *Conn) Leave(ctx context.Context, roomID string) error {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
	return c.send(ctx, wire.TypeLeaveRoom, wire.RoomPayload{RoomID: roomID}, false)
}

// SendMessage emits send-message. While disconnected the frame is buffered
// and sent after the next successful reconnect.
func (c *Conn) SendMessage(ctx context.Context, roomID, text, imageURL string) error {
	return c.send(ctx, wire.TypeSendMessage, wire.SendPayload{RoomID: roomID, Text: text, ImageURL: imageURL}, true)
}

// Typing emits typing or stop-typing. Typing signals are not buffered.
func (c *Conn) Typing(ctx context.Context, roomID string, started bool) error {
	typ := wire.TypeStopTyping
	if started {
		typ = wire.TypeTyping
	}
	return c.send(ctx, typ, wire.RoomPayload{RoomID: roomID}, false)
}

func (c *Conn) send(_ context.Context, typ string, payload any, buffer bool) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	frame, err := wire.Encode(typ, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.live {
		defer c.mu.Unlock()
		if !buffer {
			return nil
		}
		_, err := c.outbox.Push(frame)
		return err
	}
	ws := c.ws
	c.mu.Unlock()

	if err := c.write(ws, frame); err != nil {
		c.logger.Warn("write failed", zap.Error(err), zap.String("type", typ))
		c.mu.Lock()
		c.live = false
		c.mu.Unlock()
		_ = ws.Close()
		if buffer {
			_, perr := c.outbox.Push(frame)
			return perr
		}
	}
	return nil
}

// Close shuts the connection down and closes the event stream. Safe to call
// more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		ws := c.ws
		c.live = false
		c.mu.Unlock()
		if ws != nil {
			c.writeMu.Lock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = ws.Close()
		}
		c.wg.Wait()
		_ = c.machine.Transition(Closed)
		close(c.events)
		for _, e := range c.outbox.Drain() {
			c.logger.Warn("discarding unsent frame", zap.String("entry", e.ID))
		}
	})
	return nil
}
