package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce  sync.Once
	outputMu   sync.Mutex
	fileWriter *lumberjack.Logger
	console    = true
)

// SetupBaseLogger configures the shared logrus instance once per process.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
		log.SetLevel(log.InfoLevel)
	})
}

// SetLogLevel sets the global level from a user-supplied name.
// Unknown names fall back to info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// SetConsoleOutput toggles the stderr copy of shell logs. It is turned off
// while the dashboard owns the terminal and applies on the next
// ConfigureLogOutput call.
func SetConsoleOutput(enabled bool) {
	outputMu.Lock()
	defer outputMu.Unlock()
	console = enabled
}

func consoleWriterLocked() io.Writer {
	if console {
		return os.Stderr
	}
	return io.Discard
}

// ConfigureLogOutput switches shell logs between stderr and a size-rotated file.
func ConfigureLogOutput(toFile bool, path string, maxSizeMB int) error {
	outputMu.Lock()
	defer outputMu.Unlock()

	if !toFile || strings.TrimSpace(path) == "" {
		log.SetOutput(consoleWriterLocked())
		closeFileWriterLocked()
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if fileWriter != nil && fileWriter.Filename == path && fileWriter.MaxSize == maxSizeMB {
		log.SetOutput(fileOutputLocked())
		return nil
	}
	closeFileWriterLocked()
	fileWriter = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		Compress:   false,
	}
	log.SetOutput(fileOutputLocked())
	return nil
}

func fileOutputLocked() io.Writer {
	if console {
		return io.MultiWriter(os.Stderr, fileWriter)
	}
	return fileWriter
}

func closeFileWriterLocked() {
	if fileWriter != nil {
		_ = fileWriter.Close()
		fileWriter = nil
	}
}
