package tui

import (
	"sort"

	"github.com/gdamore/tcell/v2"
)

// Binding is one key handled outside of text input.
type Binding struct {
	Key     tcell.Key
	Rune    rune
	Hint    string
	Handler func()
}

// Matches reports whether ev triggers b.
func (b *Binding) Matches(ev *tcell.EventKey) bool {
	if b.Key != tcell.KeyRune {
		return ev.Key() == b.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == b.Rune
}

// Keymap holds bindings per page plus global ones. Page bindings win.
type Keymap struct {
	global []*Binding
	pages  map[string][]*Binding
}

func NewKeymap() *Keymap {
	return &Keymap{pages: make(map[string][]*Binding)}
}

func (k *Keymap) Global(b *Binding) {
	k.global = append(k.global, b)
}

func (k *Keymap) Page(page string, b *Binding) {
	k.pages[page] = append(k.pages[page], b)
}

// Hints returns the hints visible on page, sorted.
func (k *Keymap) Hints(page string) []string {
	var hints []string
	for _, b := range append(append([]*Binding(nil), k.pages[page]...), k.global...) {
		if b.Hint != "" {
			hints = append(hints, b.Hint)
		}
	}
	sort.Strings(hints)
	return hints
}

// Dispatch runs the first binding on page matching ev.
func (k *Keymap) Dispatch(page string, ev *tcell.EventKey) bool {
	for _, set := range [][]*Binding{k.pages[page], k.global} {
		for _, b := range set {
			if b.Matches(ev) {
				b.Handler()
				return true
			}
		}
	}
	return false
}
