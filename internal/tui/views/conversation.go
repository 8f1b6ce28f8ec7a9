package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/client"
	"github.com/rivo/tview"
)

// Conversation shows one room's messages and the other party's typing state.
type Conversation struct {
	*tview.Flex
	messages *tview.TextView
	typing   *tview.TextView
	viewer   chat.Role
	count    int
}

func NewConversation(viewer chat.Role) *Conversation {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	typing := tview.NewTextView().SetDynamicColors(true)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, false).
		AddItem(typing, 1, 0, false)
	return &Conversation{Flex: flex, messages: messages, typing: typing, viewer: viewer}
}

// Messages is the scrollable message pane.
func (v *Conversation) Messages() *tview.TextView { return v.messages }

// SetTitle names the conversation.
func (v *Conversation) SetTitle(title string) {
	v.messages.SetTitle(" " + sanitize(title) + " ")
}

// Update renders the session. The pane only scrolls to the end when new
// messages arrived so the user can read back while the other side types.
func (v *Conversation) Update(s *client.Session, now time.Time) {
	switch s.State() {
	case client.SessionLoading:
		v.messages.SetText("[::d]Loading history...[-:-:-]")
		v.count = -1
	case client.SessionError:
		v.messages.SetText(fmt.Sprintf("[red]Could not load messages: %v[-]\n\nType /retry to try again.", s.Err()))
		v.count = -1
	default:
		msgs := s.Messages()
		if len(msgs) != v.count {
			var b strings.Builder
			for _, m := range msgs {
				b.WriteString(messageLine(m, v.viewer, now))
			}
			v.messages.SetText(b.String())
			v.messages.ScrollToEnd()
			v.count = len(msgs)
		}
	}

	status := ""
	switch {
	case s.Typing():
		status = "[::i]" + typingLabel(v.viewer) + "[-:-:-]"
	case s.Sending() > 0:
		status = "[::d]sending...[-:-:-]"
	case s.Stale():
		status = "[yellow]offline, messages may be out of date[-]"
	}
	v.typing.SetText(" " + status)
}

func typingLabel(viewer chat.Role) string {
	if viewer == chat.RoleAdmin {
		return "Customer is typing..."
	}
	return "Support is typing..."
}
