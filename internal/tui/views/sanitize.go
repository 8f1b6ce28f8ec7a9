package views

import (
	"strings"

	"github.com/rivo/tview"
)

// sanitize drops codepoints tcell renders badly (emoji modifiers, joiners,
// variation selectors) and escapes tview colour tags.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !isCombining(r) {
			b.WriteRune(r)
		}
	}
	return tview.Escape(b.String())
}

func isCombining(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tones
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	}
	return false
}
