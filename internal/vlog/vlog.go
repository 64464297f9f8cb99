// Package vlog implements the append-only verbose logger (spec §4.9): size
// rotation, sensitive-data masking, and an emergency-shutdown latch that
// callers in signal context can flip to stop all file I/O immediately.
package vlog

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
)

const (
	maxSizeBytes = 10 * 1024 * 1024
	maxBackups   = 3
)

var maskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{10,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]+`),
	regexp.MustCompile(`(?i)password=\S+`),
	regexp.MustCompile(`(?i)api_key=\S+`),
	regexp.MustCompile(`[^\s"']*\.ssh/[^\s"']*`),
	regexp.MustCompile(`[^\s"']*\.aws/credentials[^\s"']*`),
}

const redaction = "[REDACTED]"

// Mask replaces every sensitive-looking substring in line with a fixed
// redaction marker.
func Mask(line string) string {
	out := line
	for _, pat := range maskPatterns {
		out = pat.ReplaceAllString(out, redaction)
	}
	return out
}

// Logger is a thread-safe, size-rotating append-only file sink.
type Logger struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	size     int64
	shutdown atomic.Bool
}

// Open creates or appends to the log file at path.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	return &Logger{path: path, file: f, size: info.Size()}, nil
}

// Write masks and appends one line, rotating first if the write would push
// the file past maxSizeBytes. Returns immediately without touching the
// file once EmergencyShutdown has been called. On a file I/O failure it
// falls back to stderr; if stderr also fails, the write is swallowed.
func (l *Logger) Write(line string) {
	if l.shutdown.Load() {
		return
	}

	masked := Mask(line)
	if len(masked) == 0 || masked[len(masked)-1] != '\n' {
		masked += "\n"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		l.writeFallback(masked)
		return
	}

	if l.size+int64(len(masked)) > maxSizeBytes {
		if err := l.rotateLocked(); err != nil {
			l.writeFallback(masked)
			return
		}
	}

	n, err := l.file.WriteString(masked)
	if err != nil {
		l.writeFallback(masked)
		return
	}
	l.size += int64(n)
}

// writeFallback is called with l.mu held; it never performs file I/O on
// the primary sink.
func (l *Logger) writeFallback(masked string) {
	if _, err := io.WriteString(os.Stderr, "[vlog-fallback] "+masked); err != nil {
		return
	}
}

// rotateLocked shifts .log.2->.log.3, .log.1->.log.2, current->.log.1, and
// opens a fresh file at l.path. Must be called with l.mu held.
func (l *Logger) rotateLocked() error {
	if l.file != nil {
		l.file.Close()
	}

	for i := maxBackups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", l.path, i)
		dst := fmt.Sprintf("%s.%d", l.path, i+1)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, dst)
		}
	}
	if _, err := os.Stat(l.path); err == nil {
		if err := os.Rename(l.path, l.path+".1"); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.file = nil
		return err
	}
	l.file = f
	l.size = 0
	return nil
}

// EmergencyShutdown sets the latch: every subsequent Write becomes a no-op
// without touching the file. Safe to call from a signal handler.
func (l *Logger) EmergencyShutdown() {
	l.shutdown.Store(true)
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
