// Package ui styles CLI output with ANSI 256 colors.
package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 215 // orange
)

var noColor bool

// SetColor enables or disables colored output globally.
func SetColor(enabled bool) {
	noColor = !enabled
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	SetColor(false)
}

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderStatus colors a broker status string: "OK" green, "EXISTS" muted,
// anything else orange.
func RenderStatus(status string) string {
	switch status {
	case "OK":
		return render(colorOK, status)
	case "EXISTS":
		return render(colorMuted, status)
	}
	return render(colorWarn, status)
}

// RenderProbability formats p with two decimals, green from 0.95 up, the
// usual mastery threshold.
func RenderProbability(p float64) string {
	s := fmt.Sprintf("%.2f", p)
	if p >= 0.95 {
		return render(colorOK, s)
	}
	return s
}
