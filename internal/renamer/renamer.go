// Package renamer copies build outputs to a friendlier, prefixed file name
// beside the original. Originals are only ever read.
package renamer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kingrea/apkalias/internal/artifact"
)

// OutcomeStatus enumerates per-file results.
type OutcomeStatus string

const (
	StatusCopied OutcomeStatus = "copied"
	StatusFailed OutcomeStatus = "failed"
)

// Outcome records what happened to a single matching file.
type Outcome struct {
	Status      OutcomeStatus
	Dir         string
	Source      string // file name of the original
	Destination string // file name of the copy
	Err         error  // *CopyFailedError when Status is StatusFailed
}

// SourcePath returns the full path of the original.
func (o Outcome) SourcePath() string {
	return filepath.Join(o.Dir, o.Source)
}

// DestinationPath returns the full path of the copy.
func (o Outcome) DestinationPath() string {
	return filepath.Join(o.Dir, o.Destination)
}

// Line renders the console line for the outcome.
func (o Outcome) Line() string {
	if o.Status == StatusFailed {
		return o.Err.Error()
	}
	return fmt.Sprintf("Copied %s -> %s", o.Source, o.Destination)
}

// Report collects the outcomes of one RenameMatching call.
type Report struct {
	Outcomes []Outcome
	// Skipped lists names that already carried the prefix.
	Skipped []string
	// Scanned lists the candidate directories that existed.
	Scanned []string
}

// Copied returns the successful outcomes.
func (r Report) Copied() []Outcome {
	return r.filter(StatusCopied)
}

// Failed returns the failed outcomes.
func (r Report) Failed() []Outcome {
	return r.filter(StatusFailed)
}

func (r Report) filter(status OutcomeStatus) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

// Entries converts the report into manifest entries.
func (r Report) Entries() []artifact.Entry {
	entries := make([]artifact.Entry, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		entry := artifact.Entry{
			Source:      o.SourcePath(),
			Destination: o.DestinationPath(),
			Status:      artifact.EntryCopied,
		}
		if o.Status == StatusFailed {
			entry.Status = artifact.EntryFailed
			if cf, ok := o.Err.(*CopyFailedError); ok && cf.Cause != nil {
				entry.Error = cf.Cause.Error()
			} else if o.Err != nil {
				entry.Error = o.Err.Error()
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// Logger receives one line per outcome.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes a Renamer.
type Option func(*Renamer)

// WithOutput sets where console lines are written. Nil discards them.
func WithOutput(w io.Writer) Option {
	return func(r *Renamer) {
		if w == nil {
			w = io.Discard
		}
		r.out = w
	}
}

// WithLogger mirrors console lines into a logger.
func WithLogger(l Logger) Option {
	return func(r *Renamer) {
		r.logger = l
	}
}

// WithObserver registers a callback invoked after each outcome.
func WithObserver(fn func(Outcome)) Option {
	return func(r *Renamer) {
		r.observer = fn
	}
}

// Renamer produces prefixed copies of matching files.
type Renamer struct {
	out      io.Writer
	logger   Logger
	observer func(Outcome)
}

// New builds a Renamer writing console lines to stdout.
func New(opts ...Option) *Renamer {
	r := &Renamer{out: os.Stdout}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RenameMatching visits dirs in order and, for every regular file ending in
// "."+extension whose name does not start with prefix, writes a copy named
// prefix+name in the same directory. Missing directories are skipped.
// Per-file failures are recorded in the report and never returned.
func (r *Renamer) RenameMatching(dirs []string, extension, prefix string) Report {
	var report Report
	for _, dir := range dirs {
		files, exists, err := artifact.List(dir, extension)
		if !exists {
			continue
		}
		report.Scanned = append(report.Scanned, dir)
		if err != nil {
			r.logf("Failed to list %s: %v", dir, err)
			continue
		}
		for _, file := range files {
			if file.HasPrefix(prefix) {
				report.Skipped = append(report.Skipped, file.Path())
				continue
			}
			outcome := Outcome{
				Status:      StatusCopied,
				Dir:         file.Dir,
				Source:      file.Name,
				Destination: file.AliasName(prefix),
			}
			if err := copyFile(file.Path(), file.AliasPath(prefix)); err != nil {
				outcome.Status = StatusFailed
				outcome.Err = &CopyFailedError{
					Source:      outcome.SourcePath(),
					Destination: outcome.DestinationPath(),
					Cause:       err,
				}
			}
			report.Outcomes = append(report.Outcomes, outcome)
			r.emit(outcome)
		}
	}
	return report
}

func (r *Renamer) emit(o Outcome) {
	line := o.Line()
	if r.out != nil {
		fmt.Fprintln(r.out, line)
	}
	if r.logger != nil {
		r.logger.Printf("%s", line)
	}
	if r.observer != nil {
		r.observer(o)
	}
}

func (r *Renamer) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if r.out != nil {
		fmt.Fprintln(r.out, line)
	}
	if r.logger != nil {
		r.logger.Printf("%s", line)
	}
}
