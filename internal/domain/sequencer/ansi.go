package sequencer

import (
	"github.com/charmbracelet/x/ansi"
)

// StripANSI removes escape sequences and control codes from terminal output
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// Tail returns the last n runes of s
func Tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
