package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/logging"
	"github.com/matheus3301/rentchat/internal/status"
	"github.com/matheus3301/rentchat/internal/upload"
	"go.uber.org/zap"
)

const DefaultTypingDebounce = time.Second

var (
	ErrNotReady = errors.New("session not ready")
	ErrStale    = errors.New("session changed while loading")
)

// Session states.
const (
	SessionClosed  status.State = "CLOSED"
	SessionLoading status.State = "LOADING"
	SessionReady   status.State = "READY"
	SessionError   status.State = "ERROR"
)

var sessionTable = status.Table{
	SessionClosed:  {SessionLoading},
	SessionLoading: {SessionLoading, SessionReady, SessionError, SessionClosed},
	SessionReady:   {SessionLoading, SessionClosed},
	SessionError:   {SessionLoading, SessionClosed},
}

// Transport emits realtime frames. Implemented by *Conn.
type Transport interface {
	Join(ctx context.Context, roomID string) error
	SendMessage(ctx context.Context, roomID, text, imageURL string) error
	Typing(ctx context.Context, roomID string, started bool) error
}

// History is the REST side a session needs. Implemented by *REST.
type History interface {
	GetMessages(ctx context.Context, roomID string) ([]chat.Message, error)
	MarkRead(ctx context.Context, roomID string) error
	Upload(ctx context.Context, name string, r io.Reader) (*UploadResult, error)
}

// SessionOptions configures NewSession.
type SessionOptions struct {
	Room      string
	Viewer    chat.Role
	Transport Transport
	History   History
	Logger    *zap.Logger
	// TypingDebounce is the idle time after the last keystroke before
	// stop-typing is sent. Zero means DefaultTypingDebounce.
	TypingDebounce time.Duration
}

// Session is the view state of one open conversation. It is safe for
// concurrent use: events may be handled from the connection goroutine while
// the UI sends.
type Session struct {
	room      string
	viewer    chat.Role
	transport Transport
	history   History
	logger    *zap.Logger
	debounce  time.Duration
	machine   *status.Machine

	mu          sync.Mutex
	messages    []chat.Message
	pending     []chat.Message
	typing      bool
	unread      int
	focused     bool
	stale       bool
	lastErr     error
	sending     int
	gen         uint64
	cancel      context.CancelFunc
	typingTimer *time.Timer
}

// NewSession creates a closed session for opts.Room.
func NewSession(opts SessionOptions) *Session {
	if opts.TypingDebounce <= 0 {
		opts.TypingDebounce = DefaultTypingDebounce
	}
	return &Session{
		room:      opts.Room,
		viewer:    opts.Viewer,
		transport: opts.Transport,
		history:   opts.History,
		logger:    logging.OrNop(opts.Logger).With(zap.String("room", opts.Room)),
		debounce:  opts.TypingDebounce,
		machine:   status.NewMachine(SessionClosed, sessionTable, nil),
	}
}

func (s *Session) Room() string { return s.room }

// State returns the lifecycle state.
func (s *Session) State() status.State { return s.machine.Current() }

// Open joins the room and loads its history. It also reloads a ready
// session. A result that arrives after Close or a newer Open is discarded
// and ErrStale is returned.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if err := s.machine.Transition(SessionLoading); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.pending = nil
	s.lastErr = nil
	s.mu.Unlock()

	err := s.transport.Join(ctx, s.room)
	var msgs []chat.Message
	if err == nil {
		msgs, err = s.history.GetMessages(ctx, s.room)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale history result")
		return ErrStale
	}
	if err != nil {
		s.lastErr = err
		_ = s.machine.Transition(SessionError)
		s.mu.Unlock()
		s.logger.Error("history fetch failed", zap.Error(err))
		return err
	}
	s.messages = mergeMessages(msgs, s.pending)
	s.pending = nil
	s.unread = 0
	s.focused = true
	s.stale = false
	_ = s.machine.Transition(SessionReady)
	s.mu.Unlock()

	s.markRead(ctx)
	return nil
}

// Retry reloads a session that failed to load.
func (s *Session) Retry(ctx context.Context) error {
	if s.machine.Current() != SessionError {
		return fmt.Errorf("retry from %s", s.machine.Current())
	}
	return s.Open(ctx)
}

// mergeMessages appends live messages received while loading that the
// history does not already contain.
func mergeMessages(history, live []chat.Message) []chat.Message {
	if len(live) == 0 {
		return history
	}
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		seen[m.ID] = struct{}{}
	}
	for _, m := range live {
		if _, ok := seen[m.ID]; !ok {
			history = append(history, m)
		}
	}
	return history
}

func (s *Session) markRead(ctx context.Context) {
	if err := s.history.MarkRead(ctx, s.room); err != nil {
		s.logger.Warn("mark read failed", zap.Error(err))
	}
}

// Handle applies an inbound event. Events for other rooms are ignored.
func (s *Session) Handle(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch evt.Type {
	case EventMessage:
		if evt.Message == nil || evt.Message.Room != s.room {
			return
		}
		switch s.machine.Current() {
		case SessionReady:
			s.messages = append(s.messages, *evt.Message)
		case SessionLoading:
			s.pending = append(s.pending, *evt.Message)
		}
		if evt.Message.SenderRole == s.viewer.Counterpart() && (!s.focused || s.machine.Current() != SessionReady) {
			s.unread++
		}
	case EventTypingStart, EventTypingStop:
		if evt.Room != s.room || evt.SenderRole == s.viewer {
			return
		}
		s.typing = evt.Type == EventTypingStart
	case EventDisconnected:
		s.typing = false
		if s.machine.Current() == SessionReady {
			s.stale = true
		}
	}
}

// SetFocused records whether the conversation is in front of the user.
// Focusing a ready session resets unread and marks the room read.
func (s *Session) SetFocused(ctx context.Context, focused bool) {
	s.mu.Lock()
	s.focused = focused
	ready := s.machine.Current() == SessionReady
	if focused && ready {
		s.unread = 0
	}
	s.mu.Unlock()
	if focused && ready {
		s.markRead(ctx)
	}
}

// resetUnread is used by the inbox after it marked the room read itself.
func (s *Session) resetUnread() {
	s.mu.Lock()
	s.unread = 0
	s.mu.Unlock()
}

// Send emits a text message. It is not appended locally: the router's echo
// adds it through Handle.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.ErrEmptyMessage
	}
	return s.emit(ctx, text, "")
}

// SendImage uploads r and then emits a message carrying its URL. Content that
// is not an image is rejected before anything is uploaded or sent.
func (s *Session) SendImage(ctx context.Context, name string, r io.Reader) error {
	if s.machine.Current() != SessionReady {
		return ErrNotReady
	}
	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read image: %w", err)
	}
	if _, _, ok := upload.DetectImage(head); !ok {
		return upload.ErrNotImage
	}

	res, err := s.history.Upload(ctx, name, br)
	if err != nil {
		s.logger.Warn("upload failed", zap.Error(err))
		return err
	}
	return s.emit(ctx, "", res.URL)
}

func (s *Session) emit(ctx context.Context, text, imageURL string) error {
	s.mu.Lock()
	if s.machine.Current() != SessionReady {
		s.mu.Unlock()
		return ErrNotReady
	}
	s.sending++
	s.mu.Unlock()

	err := s.transport.SendMessage(ctx, s.room, text, imageURL)

	s.mu.Lock()
	s.sending--
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.stopTyping(ctx)
	return nil
}

// Keystroke signals typing and (re)arms the debounce timer that sends a
// single stop-typing once input pauses.
func (s *Session) Keystroke(ctx context.Context) {
	if err := s.transport.Typing(ctx, s.room, true); err != nil {
		s.logger.Debug("typing failed", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		current := s.typingTimer == t
		if current {
			s.typingTimer = nil
		}
		s.mu.Unlock()
		if current {
			if err := s.transport.Typing(context.Background(), s.room, false); err != nil {
				s.logger.Debug("stop typing failed", zap.Error(err))
			}
		}
	})
	s.typingTimer = t
}

// stopTyping ends a typing signal early. Nothing is sent when no typing
// signal is pending.
func (s *Session) stopTyping(ctx context.Context) {
	s.mu.Lock()
	armed := s.typingTimer != nil
	if armed {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()
	if !armed {
		return
	}
	if err := s.transport.Typing(ctx, s.room, false); err != nil {
		s.logger.Debug("stop typing failed", zap.Error(err))
	}
}

// Close abandons in-flight loads and stops the typing timer.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.gen++
	s.focused = false
	s.typing = false
	if s.machine.Current() != SessionClosed {
		_ = s.machine.Transition(SessionClosed)
	}
}

// Messages returns a copy of the conversation.
func (s *Session) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message(nil), s.messages...)
}

// Typing reports whether the other party is typing.
func (s *Session) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

func (s *Session) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Sending returns the number of sends awaiting the transport.
func (s *Session) Sending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Stale reports whether live events may have been missed since the last
// load; reopen to catch up.
func (s *Session) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// Err returns the last load error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
