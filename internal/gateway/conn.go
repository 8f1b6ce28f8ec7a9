package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/rentchat/internal/auth"
	"github.com/matheus3301/rentchat/internal/router"
	"github.com/matheus3301/rentchat/internal/wire"
	"go.uber.org/zap"
)

// Conn is one authenticated websocket connection. All writes go through
// the send queue, which a single writer goroutine drains.
type Conn struct {
	id       string
	identity auth.Identity
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	logger   *zap.Logger

	closeOnce sync.Once
}

func newConn(id string, identity auth.Identity, ws *websocket.Conn, queue int, logger *zap.Logger) *Conn {
	return &Conn{
		id:       id,
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, queue),
		done:     make(chan struct{}),
		logger:   logger.With(zap.String("conn", id), zap.String("user", identity.ID)),
	}
}

func (c *Conn) ID() string              { return c.id }
func (c *Conn) Identity() auth.Identity { return c.identity }

// Deliver encodes evt and queues it. It reports false when the queue is full.
func (c *Conn) Deliver(evt router.Event) bool {
	var (
		data []byte
		err  error
	)
	switch evt.Type {
	case router.EventMessage:
		data, err = wire.Encode(wire.TypeMessage, evt.Message)
	case router.EventTypingStart:
		data, err = wire.Encode(wire.TypeUserTyping, wire.TypingPayload{RoomID: evt.Room, SenderRole: evt.SenderRole})
	case router.EventTypingStop:
		data, err = wire.Encode(wire.TypeUserStopTyping, wire.TypingPayload{RoomID: evt.Room, SenderRole: evt.SenderRole})
	case router.EventNotification:
		data, err = wire.Encode(wire.TypeNotification, wire.NotificationPayload{Message: *evt.Message})
	default:
		return true
	}
	if err != nil {
		c.logger.Error("encode event failed", zap.Error(err), zap.String("type", string(evt.Type)))
		return true
	}
	return c.enqueue(data)
}

func (c *Conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Kick closes the connection. Safe to call more than once.
func (c *Conn) Kick(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.ws.Close()
		c.logger.Info("connection kicked", zap.String("reason", reason))
	})
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				c.close()
				return
			}
		}
	}
}
