package ui

import (
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldColor reports whether w takes ANSI colors. It respects NO_COLOR,
// CLICOLOR_FORCE, CLICOLOR and TERM=dumb, then falls back to TTY detection.
func ShouldColor(w io.Writer) bool {
	// https://no-color.org
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" || os.Getenv("TERM") == "dumb" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
