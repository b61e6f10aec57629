package progress

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "…"

// Truncate shortens s to at most width terminal columns, ending it with an
// ellipsis when anything was cut. Escape sequences are preserved and wide
// characters are counted by their display width. A width of zero or less
// disables truncation.
func Truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	if width == 1 {
		return ellipsis
	}
	return ansi.Truncate(s, width, ellipsis)
}
