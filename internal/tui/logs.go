package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dock108/aicli-companion/internal/logging"
)

// Filter selects the minimum level shown in the log panel.
type Filter int

const (
	FilterAll Filter = iota
	FilterWarning
	FilterError
)

// Next cycles all -> warning -> error -> all.
func (f Filter) Next() Filter {
	return (f + 1) % 3
}

func (f Filter) String() string {
	switch f {
	case FilterWarning:
		return "warning+"
	case FilterError:
		return "error"
	default:
		return "all"
	}
}

func (f Filter) allows(level logging.Level) bool {
	switch f {
	case FilterWarning:
		return level == logging.LevelWarning || level == logging.LevelError
	case FilterError:
		return level == logging.LevelError
	default:
		return true
	}
}

// Apply returns the entries that pass the filter, preserving order.
func (f Filter) Apply(entries []logging.Entry) []logging.Entry {
	if f == FilterAll {
		return entries
	}
	out := make([]logging.Entry, 0, len(entries))
	for _, e := range entries {
		if f.allows(e.Level) {
			out = append(out, e)
		}
	}
	return out
}

// trimEntries keeps the newest max entries.
func trimEntries(entries []logging.Entry, max int) []logging.Entry {
	if max <= 0 || len(entries) <= max {
		return entries
	}
	return append([]logging.Entry(nil), entries[len(entries)-max:]...)
}

func levelStyle(level logging.Level) lipgloss.Style {
	switch level {
	case logging.LevelError:
		return lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	case logging.LevelWarning:
		return lipgloss.NewStyle().Foreground(WarningColor)
	default:
		return lipgloss.NewStyle().Foreground(InfoColor)
	}
}

// prefixWidth is the visible width of "15:04:05.000 INFO ".
const prefixWidth = 18

func truncate(s string, room int) string {
	if room <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= room {
		return s
	}
	if room <= 3 {
		return string(r[:room])
	}
	return string(r[:room-3]) + "..."
}

func renderLogLine(e logging.Entry, width int) string {
	ts := timestampStyle.Render(e.Timestamp.Format("15:04:05.000"))
	lvl := levelStyle(e.Level).Render(fmt.Sprintf("%-4.4s", strings.ToUpper(string(e.Level))))
	return ts + " " + lvl + " " + truncate(e.Message, width-prefixWidth)
}

func renderLogLines(entries []logging.Entry, width int) string {
	if len(entries) == 0 {
		return Muted("No log entries")
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = renderLogLine(e, width)
	}
	return strings.Join(lines, "\n")
}
