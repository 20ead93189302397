package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kalambet/autopost/internal/schedule"
	"github.com/kalambet/autopost/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Listings go to stdout so they can be piped; progress and diagnostics go
// to stderr.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// note writes one marked diagnostic line to stderr.
func note(color, mark, format string, args ...any) {
	fmt.Fprintln(stderr, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { note(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { note(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { note(colorYellow, "⚠", format, args...) }
func printStep(format string, args ...any)    { note(colorCyan, "→", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// jobStatus renders a job status padded to width, colored by state.
func jobStatus(s schedule.Status, width int) string {
	text := fmt.Sprintf("%-*s", width, s)
	switch s {
	case schedule.Active:
		return colorize(colorGreen, text)
	case schedule.Paused:
		return colorize(colorYellow, text)
	}
	return colorize(colorRed, text)
}

// recordStatus renders a history record status padded to width.
func recordStatus(s string, width int) string {
	text := fmt.Sprintf("%-*s", width, s)
	if s == storage.StatusFailed {
		return colorize(colorRed, text)
	}
	return colorize(colorGreen, text)
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04 MST")
}
