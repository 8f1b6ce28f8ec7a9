// Package gateway serves the realtime websocket endpoint.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/rentchat/internal/auth"
	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/logging"
	"github.com/matheus3301/rentchat/internal/router"
	"github.com/matheus3301/rentchat/internal/wire"
	"go.uber.org/zap"
)

// Options tunes per-connection behaviour.
type Options struct {
	SendQueue      int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxFrameSize   int64
	AllowedOrigins []string
}

func (o *Options) applyDefaults() {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = 64 << 10
	}
}

type handlerFunc func(ctx context.Context, c *Conn, f *wire.Frame) error

// Server upgrades authenticated requests and feeds frames to the router.
type Server struct {
	router   *router.Router
	verifier *auth.Verifier
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
}

// New creates a websocket server.
func New(r *router.Router, v *auth.Verifier, opts Options, logger *zap.Logger) *Server {
	opts.applyDefaults()
	s := &Server{
		router:   r,
		verifier: v,
		opts:     opts,
		logger:   logging.OrNop(logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.handlers = map[string]handlerFunc{
		wire.TypeJoinRoom:    s.handleJoin,
		wire.TypeLeaveRoom:   s.handleLeave,
		wire.TypeSendMessage: s.handleSend,
		wire.TypeTyping:      s.handleTyping(true),
		wire.TypeStopTyping:  s.handleTyping(false),
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// ServeHTTP authenticates, upgrades and runs the read loop until the peer
// goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		http.Error(w, auth.ErrMissingToken.Error(), http.StatusUnauthorized)
		return
	}
	identity, err := s.verifier.Verify(token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := newConn(uuid.NewString(), identity, ws, s.opts.SendQueue, s.logger)
	ctx := context.Background()
	s.router.Register(ctx, c)
	c.logger.Info("connection opened", zap.String("role", string(identity.Role)))

	go c.writePump(s.opts.PingInterval, s.opts.WriteTimeout)
	s.readLoop(ctx, c)

	s.router.Drop(ctx, c)
	c.close()
	c.logger.Info("connection closed")
}

func (s *Server) readLoop(ctx context.Context, c *Conn) {
	pongWait := 2 * s.opts.PingInterval
	c.ws.SetReadLimit(s.opts.MaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
			case errors.As(err, &ne) && ne.Timeout():
				c.logger.Info("read timeout")
			default:
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(ctx, c, data)
	}
}

func (s *Server) dispatch(ctx context.Context, c *Conn, data []byte) {
	f, err := wire.Parse(data)
	if err != nil {
		s.replyError(c, wire.CodeBadRequest, err, "", "")
		return
	}
	h, ok := s.handlers[f.Type]
	if !ok {
		s.replyError(c, wire.CodeUnknown, errors.New("unknown frame type "+f.Type), "", f.Type)
		return
	}
	if err := h(ctx, c, f); err != nil {
		var room wire.RoomPayload
		_ = f.Decode(&room)
		s.replyError(c, errorCode(err), err, room.RoomID, f.Type)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, router.ErrForbidden):
		return wire.CodeForbidden
	case errors.Is(err, wire.ErrMalformed), errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalidRoom), errors.Is(err, chat.ErrInvalidText):
		return wire.CodeBadRequest
	default:
		return wire.CodeInternal
	}
}

func (s *Server) replyError(c *Conn, code string, err error, roomID, op string) {
	msg := err.Error()
	if code == wire.CodeInternal {
		c.logger.Error("frame failed", zap.Error(err))
		msg = "internal error"
	}
	s.reply(c, wire.TypeError, wire.ErrorPayload{Code: code, Message: msg, RoomID: roomID, Op: op})
}

func (s *Server) reply(c *Conn, typ string, payload any) {
	data, err := wire.Encode(typ, payload)
	if err != nil {
		c.logger.Error("encode reply failed", zap.Error(err))
		return
	}
	if !c.enqueue(data) {
		s.router.Drop(context.Background(), c)
		c.Kick("send queue full")
	}
}

func (s *Server) handleJoin(ctx context.Context, c *Conn, f *wire.Frame) error {
	var p wire.RoomPayload
	if err := f.Decode(&p); err != nil {
		return err
	}
	if err := s.router.Join(ctx, c, p.RoomID); err != nil {
		return err
	}
	s.reply(c, wire.TypeJoined, p)
	return nil
}

func (s *Server) handleLeave(ctx context.Context, c *Conn, f *wire.Frame) error {
	var p wire.RoomPayload
	if err := f.Decode(&p); err != nil {
		return err
	}
	s.router.Leave(ctx, c, p.RoomID)
	return nil
}

func (s *Server) handleSend(ctx context.Context, c *Conn, f *wire.Frame) error {
	var p wire.SendPayload
	if err := f.Decode(&p); err != nil {
		return err
	}
	_, err := s.router.SendMessage(ctx, c, p.RoomID, p.Text, p.ImageURL)
	return err
}

func (s *Server) handleTyping(started bool) handlerFunc {
	return func(ctx context.Context, c *Conn, f *wire.Frame) error {
		var p wire.RoomPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		return s.router.Typing(ctx, c, p.RoomID, started)
	}
}
