// Package output renders dupwrap's terminal output: status blocks, run
// history and notification journal tables, and a spinner for daemon
// start and stop.
//
// Tables are plain text. Severity labels are colored when stdout is a
// terminal and NO_COLOR is unset.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/dupwrap/internal/store"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

func severityColor(severity string) string {
	switch strings.ToLower(severity) {
	case "information":
		return colorGreen
	case "warning":
		return colorYellow
	case "error":
		return colorRed
	default:
		return colorGray
	}
}

// padSeverity pads before coloring so escape codes don't break alignment.
func padSeverity(severity string, width int) string {
	return colorize(severityColor(severity), fmt.Sprintf("%-*s", width, severity))
}

// RenderRunTable renders interceptor runs, newest first as given.
func RenderRunTable(runs []*store.Run, now time.Time) string {
	if len(runs) == 0 {
		return "No runs recorded.\n"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-16s %-8s %-5s %-12s %-5s %-5s %-9s %s\n",
		"Started", "Op", "Exit", "Result", "Warn", "Err", "Took", "Command")
	sb.WriteString(strings.Repeat("─", 96))
	sb.WriteString("\n")

	for _, r := range runs {
		fmt.Fprintf(&sb, "%-16s %-8s %-5d %s %-5d %-5d %-9s %s\n",
			truncate(FormatRelativeTime(r.StartedAt, now), 16),
			truncate(r.Operation, 8),
			r.ExitCode,
			padSeverity(r.Severity, 12),
			r.Warnings,
			r.Errors,
			FormatDuration(r.Duration()),
			truncate(r.Command, 40))
	}
	return sb.String()
}

// RenderRunDetail renders one run including its summary text.
func RenderRunDetail(r *store.Run, now time.Time) string {
	var sb strings.Builder
	const label = "%-10s"
	fmt.Fprintf(&sb, label+"%s\n", "Run:", r.ID)
	fmt.Fprintf(&sb, label+"%s\n", "Command:", r.Command)
	fmt.Fprintf(&sb, label+"%s (%s)\n", "Started:", r.StartedAt.Local().Format(time.DateTime), FormatRelativeTime(r.StartedAt, now))
	fmt.Fprintf(&sb, label+"%s\n", "Took:", FormatDuration(r.Duration()))
	fmt.Fprintf(&sb, label+"%d (%s)\n", "Exit:", r.ExitCode, colorize(severityColor(r.Severity), r.Severity))
	fmt.Fprintf(&sb, label+"%s\n", "Summary:", r.Summary)
	return sb.String()
}

// RenderEventTable renders journaled notifications.
func RenderEventTable(events []*store.Event, now time.Time) string {
	if len(events) == 0 {
		return "No notifications recorded.\n"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-16s %-8s %-12s %s\n", "When", "Source", "Severity", "Message")
	sb.WriteString(strings.Repeat("─", 96))
	sb.WriteString("\n")

	for _, e := range events {
		fmt.Fprintf(&sb, "%-16s %-8s %s %s\n",
			truncate(FormatRelativeTime(e.At, now), 16),
			e.Source,
			padSeverity(e.Severity, 12),
			truncate(e.Text, 60))
	}
	return sb.String()
}

// FormatRelativeTime renders t relative to now, e.g. "3 hours ago".
func FormatRelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if now.Sub(t) < time.Minute && now.Sub(t) > -time.Minute {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// FormatDuration renders d rounded for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Hour:
		return d.Round(time.Second).String()
	default:
		return d.Round(time.Minute).String()
	}
}

// FormatSize renders a byte count, e.g. "1.2 MB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.Bytes(uint64(bytes))
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
