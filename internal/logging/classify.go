package logging

import "strings"

// Stream identifies which output pipe of the child a line was read from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// ClassifyLine derives a level for a captured line. Everything read from
// stderr is an error. Stdout lines are scanned for case-insensitive markers:
// "error" wins over "warn"/"warning", anything else is info.
//
// This is a substring heuristic: a line that merely mentions the word
// "error" is classified as one.
func ClassifyLine(line string, stream Stream) Level {
	if stream == StreamStderr {
		return LevelError
	}
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error"):
		return LevelError
	case strings.Contains(lower, "warn"):
		return LevelWarning
	default:
		return LevelInfo
	}
}
