package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the message input line.
type Composer struct {
	*tview.InputField
	onSend func(text string)
	onType func()
}

func NewComposer() *Composer {
	c := &Composer{InputField: tview.NewInputField().SetLabel(" > ").SetFieldWidth(0)}
	c.SetPlaceholder("message, /image <path>, /back, /quit")
	c.SetChangedFunc(func(text string) {
		if text != "" && c.onType != nil {
			c.onType()
		}
	})
	c.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || c.onSend == nil {
			return
		}
		if text := c.GetText(); text != "" {
			c.SetText("")
			c.onSend(text)
		}
	})
	return c
}

// SetOnSend is called with the entered line on Enter.
func (c *Composer) SetOnSend(fn func(text string)) { c.onSend = fn }

// SetOnType is called on every edit that leaves the field non-empty.
func (c *Composer) SetOnType(fn func()) { c.onType = fn }
