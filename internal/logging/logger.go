// Package logging provides the debug logger passed into every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes timestamped debug lines to a file and optionally mirrors
// them to a second writer. A nil or zero Logger discards everything.
type Logger struct {
	out    *output
	prefix string
}

type output struct {
	mu     sync.Mutex
	file   *os.File
	mirror io.Writer
}

// New creates a logger writing to logPath. An empty path returns a no-op logger.
// Creates parent directories if they don't exist.
func New(logPath string) (*Logger, error) {
	if logPath == "" {
		return Nop(), nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &Logger{out: &output{file: f}}
	l.Log("=== triad debug log started at %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// NewWriter creates a logger that writes only to w. Used by the CLI
// --verbose flag and by tests.
func NewWriter(w io.Writer) *Logger {
	return &Logger{out: &output{mirror: w}}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{}
}

// Mirror additionally copies every line to w.
func (l *Logger) Mirror(w io.Writer) {
	if l == nil || l.out == nil {
		return
	}
	l.out.mu.Lock()
	l.out.mirror = w
	l.out.mu.Unlock()
}

// Named returns a logger that tags lines with [component]. The
// returned logger shares the parent's output.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{out: l.out, prefix: "[" + component + "] "}
}

// Log writes a timestamped message.
func (l *Logger) Log(format string, args ...interface{}) {
	if l == nil || l.out == nil {
		return
	}
	o := l.out

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil && o.mirror == nil {
		return
	}
	line := fmt.Sprintf("[%s] %s%s\n", time.Now().Format("15:04:05.000"), l.prefix, fmt.Sprintf(format, args...))
	if o.file != nil {
		o.file.WriteString(line)
		o.file.Sync()
	}
	if o.mirror != nil {
		io.WriteString(o.mirror, line)
	}
}

// Close closes the log file. Safe on a nil or no-op logger.
func (l *Logger) Close() error {
	if l == nil || l.out == nil {
		return nil
	}
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if l.out.file == nil {
		return nil
	}
	err := l.out.file.Close()
	l.out.file = nil
	return err
}
