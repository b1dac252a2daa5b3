package renamer

import "fmt"

// CopyFailedError is the only failure the renamer records. It is kept in
// the Outcome and never returned to callers.
type CopyFailedError struct {
	Source      string
	Destination string
	Cause       error
}

func (e *CopyFailedError) Error() string {
	return fmt.Sprintf("Failed to copy %s -> %s: %v", e.Source, e.Destination, e.Cause)
}

func (e *CopyFailedError) Unwrap() error {
	return e.Cause
}
