// Package colors provides terminal color support for evees output.
//
// Colors are disabled when NO_COLOR is set, when TERM is dumb or empty,
// or when stdout is not a terminal. FORCE_COLOR overrides detection.
package colors

import (
	"os"
	"runtime"
	"strings"
)

// ANSI color codes
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorDim   = "\033[2m"
	ColorGray  = "\033[90m"

	BrightRed     = "\033[91m"
	BrightGreen   = "\033[92m"
	BrightYellow  = "\033[93m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"
)

var colorEnabled = shouldUseColor()

func shouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}

	term := strings.ToLower(os.Getenv("TERM"))
	if runtime.GOOS == "windows" {
		return os.Getenv("WT_SESSION") != "" || os.Getenv("VSCODE_PID") != "" ||
			strings.Contains(term, "color") || strings.Contains(term, "xterm")
	}
	if term == "dumb" || term == "" {
		return false
	}

	if fileInfo, err := os.Stdout.Stat(); err == nil {
		return (fileInfo.Mode() & os.ModeCharDevice) != 0
	}
	return true
}

// SetColorEnabled allows manual control of color output
func SetColorEnabled(enabled bool) {
	colorEnabled = enabled
}

// IsColorEnabled returns whether colors are currently enabled
func IsColorEnabled() bool {
	return colorEnabled
}

func colorize(text, color string) string {
	if !colorEnabled {
		return text
	}
	return color + text + ColorReset
}

func Red(text string) string     { return colorize(text, BrightRed) }
func Green(text string) string   { return colorize(text, BrightGreen) }
func Blue(text string) string    { return colorize(text, BrightBlue) }
func Yellow(text string) string  { return colorize(text, BrightYellow) }
func Cyan(text string) string    { return colorize(text, BrightCyan) }
func Magenta(text string) string { return colorize(text, BrightMagenta) }
func Gray(text string) string    { return colorize(text, ColorGray) }
func Bold(text string) string    { return colorize(text, ColorBold) }
func Dim(text string) string     { return colorize(text, ColorDim) }

func SectionHeader(text string) string { return Bold(text) }
func ErrorText(text string) string     { return Red(text) }
func SuccessText(text string) string   { return Green(text) }
func InfoText(text string) string      { return Cyan(text) }
func WarningText(text string) string   { return Yellow(text) }

// ShortID abbreviates a content id to its last n characters, keeping the
// multibase prefix so the encoding is still visible.
func ShortID(id string, n int) string {
	if n <= 0 || len(id) <= n+1 {
		return id
	}
	return id[:1] + ".." + id[len(id)-n:]
}

// ID renders a content id in the id color.
func ID(id string) string { return Magenta(id) }

// Status colors a proposal status: pending yellow, accepted green, rejected red.
func Status(status string) string {
	switch strings.ToLower(status) {
	case "pending":
		return Yellow(status)
	case "accepted":
		return Green(status)
	case "rejected":
		return Red(status)
	default:
		return status
	}
}

// Vote colors a council vote; an empty vote renders as a gray dash.
func Vote(vote string) string {
	switch strings.ToLower(vote) {
	case "yes":
		return Green(vote)
	case "no":
		return Red(vote)
	case "":
		return Gray("-")
	default:
		return vote
	}
}
