// Package artifact describes build outputs on disk: the files the renamer
// scans in each candidate directory and the JSON manifest recording what a
// run did with them.

package artifact

import (
	"path/filepath"
	"strings"
	"time"
)

// File is a build output found in a candidate directory.
type File struct {
	Dir     string
	Name    string
	Size    int64
	ModTime time.Time
}

// Path returns the full path of the file.
func (f File) Path() string {
	return filepath.Join(f.Dir, f.Name)
}

// HasPrefix reports whether the file name already carries prefix.
func (f File) HasPrefix(prefix string) bool {
	return strings.HasPrefix(f.Name, prefix)
}

// AliasName returns the name of the prefixed copy.
func (f File) AliasName(prefix string) string {
	return prefix + f.Name
}

// AliasPath returns the sibling path of the prefixed copy.
func (f File) AliasPath(prefix string) string {
	return filepath.Join(f.Dir, f.AliasName(prefix))
}

// EntryStatus enumerates per-file manifest outcomes.
type EntryStatus string

const (
	EntryCopied EntryStatus = "copied"
	EntryFailed EntryStatus = "failed"
)

// Entry records one file handled during a run.
type Entry struct {
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	Status      EntryStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
}

// Manifest summarises a single finalizer run.
type Manifest struct {
	RunID    string `json:"run_id"`
	Stage    string `json:"stage"`
	Trigger  string `json:"trigger"`
	Prefix   string `json:"prefix"`
	BuildDir string `json:"build_dir,omitempty"`
	// Outcome is the reported result of the stage that triggered the run.
	Outcome    string    `json:"outcome,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Entries    []Entry   `json:"entries"`
}

// Counts returns how many entries were copied and how many failed.
func (m Manifest) Counts() (copied, failed int) {
	for _, e := range m.Entries {
		switch e.Status {
		case EntryCopied:
			copied++
		case EntryFailed:
			failed++
		}
	}
	return copied, failed
}
