package main

import (
	"fmt"
	"os"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// glyphLine writes one decorated message line to stderr. All user-facing
// command feedback goes through here so stdout stays clean for piped data
// (model lists, streamed replies, JSON).
func glyphLine(color, glyph, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { glyphLine(colorGreen, "✓", format, args...) }

func printError(format string, args ...any) { glyphLine(colorRed, "✗", format, args...) }

func printWarning(format string, args ...any) { glyphLine(colorYellow, "⚠", format, args...) }

func printStep(format string, args ...any) { glyphLine(colorCyan, "→", format, args...) }

// printStatus renders one aligned "label: value" line for the status command.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}
