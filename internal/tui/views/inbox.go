package views

import (
	"time"

	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/rivo/tview"
)

// Inbox is the admin room table.
type Inbox struct {
	*tview.Table
	entries []chat.InboxEntry
}

func NewInbox() *Inbox {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Inbox ")
	return &Inbox{Table: table}
}

// Update redraws the table, keeping the selection on the same room.
func (v *Inbox) Update(entries []chat.InboxEntry, now time.Time) {
	selected := v.Selected()
	v.entries = entries
	v.Clear()

	header := func(col int, text string) {
		v.SetCell(0, col, tview.NewTableCell(text).SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	}
	header(0, " Customer")
	header(1, " Last message")
	header(2, " Time")

	row := 1
	for i, e := range entries {
		v.SetCell(i+1, 0, tview.NewTableCell(" "+roomLabel(e)).SetMaxWidth(30).SetExpansion(1))
		v.SetCell(i+1, 1, tview.NewTableCell(" "+sanitize(e.LastMessage)).SetMaxWidth(50).SetExpansion(2))
		v.SetCell(i+1, 2, tview.NewTableCell(" "+formatTimestamp(e.LastMessageTime, now)).SetMaxWidth(8))
		if e.Room == selected {
			row = i + 1
		}
	}
	if len(entries) > 0 {
		v.Select(row, 0)
	}
}

// Selected returns the room under the cursor, or "".
func (v *Inbox) Selected() string {
	row, _ := v.GetSelection()
	if i := row - 1; i >= 0 && i < len(v.entries) {
		return v.entries[i].Room
	}
	return ""
}
