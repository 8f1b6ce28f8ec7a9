package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/rentchat/internal/chat"
)

// formatTimestamp renders unix ms as a clock time for today, a date otherwise.
func formatTimestamp(ms int64, now time.Time) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms).In(now.Location())
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

// messageLine renders one message for the conversation view. Messages sent by
// viewer are labelled "You".
func messageLine(m chat.Message, viewer chat.Role, now time.Time) string {
	sender := sanitize(m.SenderName)
	if sender == "" {
		sender = string(m.SenderRole)
	}
	colour := "aqua"
	if m.SenderRole == viewer {
		sender = "You"
		colour = "green"
	}
	body := sanitize(m.Body)
	if m.Attachment != "" {
		if body != "" {
			body += "\n"
		}
		body += fmt.Sprintf("[yellow]%s %s[-]", chat.ImagePreview, sanitize(m.Attachment))
	}
	return fmt.Sprintf("[%s::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n", colour, sender, formatTimestamp(m.CreatedAt, now), body)
}

// roomLabel is the inbox name column: customer name, or the room id.
func roomLabel(e chat.InboxEntry) string {
	name := e.Customer.Name
	if name == "" {
		name = e.Room
	}
	name = sanitize(name)
	if e.UnreadCount > 0 {
		return fmt.Sprintf("[::b]* %s (%d)[-:-:-]", name, e.UnreadCount)
	}
	return name
}
