// Package logbook keeps the human-readable copy history under
// .apkalias/state/history.log. One line per entry:
//
//	2024-05-01T12:00:00Z INFO  [assembleRelease] Copied app.apk -> P-app.apk
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a journal entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook appends leveled entries to a text file. A nil *Logbook discards
// everything, so callers never need to check for one.
type Logbook struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New ensures the parent directory exists and returns a logbook for path.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logbook: %w", err)
	}
	return &Logbook{path: path, now: time.Now}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes one entry. Multi-line messages are folded onto one line.
// Write errors are swallowed: the history is advisory.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	message = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ").Replace(message))
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	fmt.Fprintf(file, "%s %-5s %s\n", l.now().UTC().Format(time.RFC3339), level, message)
}

// Tail returns up to maxLines of the most recent entries together with the
// total number of entries in the file. Only maxLines lines are held in memory.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	ring := make([]string, maxLines)
	total := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		ring[total%maxLines] = scanner.Text()
		total++
	}
	if total == 0 {
		return nil, 0
	}
	n := min(total, maxLines)
	out := make([]string, 0, n)
	for i := total - n; i < total; i++ {
		out = append(out, ring[i%maxLines])
	}
	return out, total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}
