package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/victorarias/resident/internal/config"
)

// Logger writes timestamped lines. A nil *Logger discards everything, so
// components can take one optionally.
type Logger struct {
	file   *os.File
	logger *log.Logger
	debug  bool
	prefix string
}

// New opens path in append mode, creating its directory.
func New(path string) (*Logger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	l := NewWriter(file, "")
	l.file = file
	return l, nil
}

// NewWriter logs to w. prefix, when set, tags every line (the worker uses its
// pid so interleaved workers in the shared log stay readable).
func NewWriter(w io.Writer, prefix string) *Logger {
	return &Logger{
		logger: log.New(w, "", 0),
		debug:  config.DebugLevel() >= config.LogDebug,
		prefix: prefix,
	}
}

func (l *Logger) Close() error {
	if l != nil && l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) log(level, msg string) {
	if l == nil {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	if l.prefix != "" {
		l.logger.Printf("[%s] %s %s: %s", timestamp, l.prefix, level, msg)
		return
	}
	l.logger.Printf("[%s] %s: %s", timestamp, level, msg)
}

func (l *Logger) Info(msg string) {
	l.log("INFO", msg)
}

func (l *Logger) Error(msg string) {
	l.log("ERROR", msg)
}

func (l *Logger) Debug(msg string) {
	if l != nil && l.debug {
		l.log("DEBUG", msg)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l != nil && l.debug {
		l.Debug(fmt.Sprintf(format, args...))
	}
}

// Open returns the client logger, or nil when the log cannot be opened.
// Client logging is diagnostic and never blocks a command.
func Open() *Logger {
	l, err := New(config.ClientLogPath())
	if err != nil {
		return nil
	}
	return l
}
