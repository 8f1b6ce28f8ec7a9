package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/rentchat/internal/auth"
	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/client"
	"github.com/matheus3301/rentchat/internal/logging"
	"github.com/matheus3301/rentchat/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageInbox = "inbox"
	pageChat  = "chat"

	flashFor = 5 * time.Second
)

// Options wires the app to an established connection.
type Options struct {
	Identity auth.Identity
	Conn     *client.Conn
	REST     *client.REST
	Logger   *zap.Logger
}

// App is the terminal chat client. Customers get their own conversation;
// admins get the inbox and open conversations from it.
type App struct {
	app    *tview.Application
	pages  *tview.Pages
	keys   *Keymap
	flash  Flash
	logger *zap.Logger

	identity auth.Identity
	conn     *client.Conn
	rest     *client.REST
	inbox    *client.Inbox

	inboxView *views.Inbox
	convView  *views.Conversation
	composer  *views.Composer
	statusBar *views.StatusBar

	rooms *roomQueue

	mu      sync.Mutex
	session *client.Session
	page    string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp builds the UI. Nothing is loaded until Run.
func NewApp(opts Options) *App {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		keys:      NewKeymap(),
		logger:    logging.OrNop(opts.Logger),
		identity:  opts.Identity,
		conn:      opts.Conn,
		rest:      opts.REST,
		inboxView: views.NewInbox(),
		convView:  views.NewConversation(opts.Identity.Role),
		composer:  views.NewComposer(),
		statusBar: views.NewStatusBar(),
		rooms:     newRoomQueue(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if a.isAdmin() {
		a.inbox = client.NewInbox(opts.REST, a.logger)
	}
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) isAdmin() bool { return a.identity.Role == chat.RoleAdmin }

func (a *App) setupBindings() {
	a.keys.Global(&Binding{Key: tcell.KeyRune, Rune: 'q', Hint: "q:quit", Handler: a.Stop})
	a.keys.Page(pageChat, &Binding{Key: tcell.KeyRune, Rune: 'i', Hint: "i:write", Handler: func() {
		a.app.SetFocus(a.composer)
	}})
	a.keys.Page(pageChat, &Binding{Key: tcell.KeyRune, Rune: 'r', Hint: "r:reload", Handler: func() {
		if s := a.currentSession(); s != nil {
			a.rooms.Push(func() { a.reload(s) })
		}
	}})
	if a.isAdmin() {
		a.keys.Page(pageInbox, &Binding{Key: tcell.KeyRune, Rune: 'r', Hint: "r:refresh", Handler: func() {
			go a.loadInbox()
		}})
		a.keys.Page(pageChat, &Binding{Key: tcell.KeyEscape, Hint: "esc:inbox", Handler: a.back})
	}
}

func (a *App) setupCallbacks() {
	a.inboxView.SetSelectedFunc(func(int, int) {
		if room := a.inboxView.Selected(); room != "" {
			a.openRoom(room)
		}
	})
	a.composer.SetOnType(func() {
		if s := a.currentSession(); s != nil && s.State() == client.SessionReady {
			go s.Keystroke(a.ctx)
		}
	})
	a.composer.SetOnSend(func(text string) {
		go a.submit(text)
	})
}

func (a *App) setupLayout() {
	chatPage := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.convView, 0, 1, false).
		AddItem(a.composer, 1, 0, true)
	a.pages.AddPage(pageChat, chatPage, true, !a.isAdmin())
	a.page = pageChat
	if a.isAdmin() {
		a.pages.AddPage(pageInbox, a.inboxView, true, true)
		a.page = pageInbox
	}

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)
	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		page, _ := a.pages.GetFrontPage()
		if _, typing := a.app.GetFocus().(*tview.InputField); typing {
			if ev.Key() == tcell.KeyEscape {
				a.app.SetFocus(a.convView.Messages())
				return nil
			}
			return ev
		}
		if a.keys.Dispatch(page, ev) {
			return nil
		}
		return ev
	})
}

// Run loads the initial view, pumps connection events and blocks until quit.
func (a *App) Run() error {
	go a.rooms.Run(a.ctx)
	go a.pump()
	if a.isAdmin() {
		go a.loadInbox()
	} else {
		a.openRoom(a.identity.Room())
	}
	a.app.QueueUpdateDraw(a.render)
	return a.app.Run()
}

// Stop closes the open session and leaves the UI loop.
func (a *App) Stop() {
	a.cancel()
	a.mu.Lock()
	if a.session != nil {
		a.session.Close()
	}
	a.mu.Unlock()
	a.app.Stop()
}

func (a *App) currentSession() *client.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *App) pump() {
	for evt := range a.conn.Events() {
		sess := a.currentSession()
		if sess != nil {
			sess.Handle(evt)
		}
		if a.inbox != nil {
			a.inbox.Handle(evt)
		}

		switch evt.Type {
		case client.EventMessage:
			// The open conversation is being read as it arrives.
			if sess != nil && evt.Message != nil && evt.Message.Room == sess.Room() &&
				evt.Message.SenderRole != a.identity.Role && a.onPage(pageChat) {
				go sess.SetFocused(a.ctx, true)
			}
		case client.EventDisconnected:
			a.flash.Set(FlashWarn, "connection lost, reconnecting", flashFor)
		case client.EventConnected:
			a.flash.Set(FlashInfo, "connected", flashFor)
			if sess != nil && sess.Stale() {
				a.rooms.Push(func() { a.reload(sess) })
			}
			if a.inbox != nil {
				go a.loadInbox()
			}
		case client.EventError:
			a.flash.Set(FlashErr, errorText(evt.Err), flashFor)
			if errors.Is(evt.Err, client.ErrUnauthorized) {
				a.logger.Error("credential rejected", zap.Error(evt.Err))
			}
		}
		a.app.QueueUpdateDraw(a.render)
	}
}

func (a *App) onPage(page string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.page == page
}

// show switches pages. Runs on the UI goroutine.
func (a *App) show(page string, focus tview.Primitive) {
	a.mu.Lock()
	a.page = page
	a.mu.Unlock()
	a.pages.SwitchToPage(page)
	a.app.SetFocus(focus)
}

func (a *App) loadInbox() {
	if err := a.inbox.Load(a.ctx); err != nil {
		a.logger.Warn("inbox load failed", zap.Error(err))
		a.flash.Set(FlashErr, "inbox: "+errorText(err), flashFor)
	}
	a.app.QueueUpdateDraw(a.render)
}

// openRoom replaces the open session with one for roomID and shows it.
func (a *App) openRoom(roomID string) {
	a.mu.Lock()
	prev := a.session
	sess := client.NewSession(client.SessionOptions{
		Room:      roomID,
		Viewer:    a.identity.Role,
		Transport: a.conn,
		History:   a.rest,
		Logger:    a.logger,
	})
	a.session = sess
	a.mu.Unlock()

	if prev != nil {
		a.rooms.Push(func() { a.closeSession(prev) })
	}
	if a.inbox != nil {
		a.inbox.SetActive(roomID)
	}

	title := roomID
	if a.inbox != nil {
		if e, ok := a.inbox.Entry(roomID); ok && e.Customer.Name != "" {
			title = e.Customer.Name
		}
	} else {
		title = "Support"
	}
	a.convView.SetTitle(title)
	a.show(pageChat, a.composer)

	a.rooms.Push(func() { a.reload(sess) })
}

func (a *App) reload(sess *client.Session) {
	err := sess.Open(a.ctx)
	switch {
	case errors.Is(err, client.ErrStale):
	case err != nil:
		a.flash.Set(FlashErr, "history: "+errorText(err), flashFor)
	case a.inbox != nil:
		if err := a.inbox.Select(a.ctx, sess.Room(), sess); err != nil {
			a.logger.Warn("select room failed", zap.Error(err), zap.String("room", sess.Room()))
		}
	}
	a.app.QueueUpdateDraw(a.render)
}

// closeSession runs on the room queue, after every transition pushed before it.
func (a *App) closeSession(sess *client.Session) {
	sess.Close()
	if !a.isAdmin() {
		return
	}
	// Leaving turns the room's messages back into notifications.
	if _, err := leaveAbandoned(a.ctx, a.conn, sess, a.currentSession()); err != nil {
		a.logger.Debug("leave failed", zap.Error(err))
	}
}

func (a *App) back() {
	a.mu.Lock()
	sess := a.session
	a.session = nil
	a.mu.Unlock()
	if sess != nil {
		a.rooms.Push(func() { a.closeSession(sess) })
	}
	a.inbox.SetActive("")
	a.show(pageInbox, a.inboxView)
	go a.loadInbox()
}

func (a *App) submit(text string) {
	sess := a.currentSession()
	if sess == nil {
		return
	}
	cmd, isCmd := ParseCommand(text)
	if !isCmd {
		if err := sess.Send(a.ctx, Unescape(text)); err != nil {
			a.flash.Set(FlashErr, "send: "+errorText(err), flashFor)
		}
		a.app.QueueUpdateDraw(a.render)
		return
	}
	if err := cmd.Validate(); err != nil {
		a.flash.Set(FlashWarn, err.Error(), flashFor)
		a.app.QueueUpdateDraw(a.render)
		return
	}

	switch cmd.Name {
	case CmdQuit:
		a.app.QueueUpdateDraw(a.Stop)
		return
	case CmdBack:
		if a.isAdmin() {
			a.app.QueueUpdateDraw(a.back)
		}
		return
	case CmdRetry:
		if err := sess.Retry(a.ctx); err != nil {
			a.flash.Set(FlashWarn, errorText(err), flashFor)
		}
	case CmdImage:
		if err := a.sendImage(sess, cmd.Args); err != nil {
			a.flash.Set(FlashErr, "image: "+errorText(err), flashFor)
		} else {
			a.flash.Set(FlashInfo, "image sent", flashFor)
		}
	}
	a.app.QueueUpdateDraw(a.render)
}

func (a *App) sendImage(sess *client.Session, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return sess.SendImage(a.ctx, filepath.Base(path), f)
}

// render pushes model state into the widgets. Runs on the UI goroutine.
func (a *App) render() {
	now := time.Now()
	page, _ := a.pages.GetFrontPage()

	unread := 0
	if a.inbox != nil {
		a.inboxView.Update(a.inbox.Entries(), now)
		unread = a.inbox.TotalUnread()
	}
	if sess := a.currentSession(); sess != nil {
		a.convView.Update(sess, now)
		if a.inbox == nil {
			unread = sess.Unread()
		}
	}

	msg, level := a.flash.Get()
	a.statusBar.Update(views.Status{
		Identity: fmt.Sprintf("%s (%s)", a.identity.Name, a.identity.Role),
		Conn:     string(a.conn.State()),
		Unread:   unread,
		Pending:  a.conn.Pending(),
		Hints:    a.keys.Hints(page),
		Flash:    msg,
		FlashTag: flashTag(level),
	})
}

func flashTag(level FlashLevel) string {
	switch level {
	case FlashWarn:
		return "orange"
	case FlashErr:
		return "red"
	}
	return "white"
}

// errorText shortens server and HTTP errors for the status line.
func errorText(err error) string {
	var se *client.ServerError
	if errors.As(err, &se) {
		return se.Message
	}
	var he *client.HTTPError
	if errors.As(err, &he) {
		return strings.TrimSpace(he.Message)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
