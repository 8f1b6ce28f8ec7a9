package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// Status is everything the bottom line shows.
type Status struct {
	Identity string
	Conn     string
	Unread   int
	Pending  int
	Hints    []string
	Flash    string
	FlashTag string // tview colour of Flash
}

// StatusBar is the single-line footer.
type StatusBar struct {
	*tview.TextView
}

func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	return &StatusBar{TextView: tv}
}

func (sb *StatusBar) Update(s Status) {
	sb.SetText(renderStatus(s))
}

func renderStatus(s Status) string {
	conn := s.Conn
	switch conn {
	case "CONNECTED":
		conn = "[green]" + conn + "[-]"
	case "":
	default:
		conn = "[yellow]" + conn + "[-]"
	}
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s", sanitize(s.Identity), conn)
	if s.Unread > 0 {
		line += fmt.Sprintf(" | [red]%d unread[-]", s.Unread)
	}
	if s.Pending > 0 {
		line += fmt.Sprintf(" | %d queued", s.Pending)
	}
	if len(s.Hints) > 0 {
		line += " | [::d]" + strings.Join(s.Hints, " ") + "[-:-:-]"
	}
	if s.Flash != "" {
		tag := s.FlashTag
		if tag == "" {
			tag = "white"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", tag, sanitize(s.Flash))
	}
	return line
}
