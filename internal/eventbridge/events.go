package eventbridge

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ProtocolVersion is reported on /health.
	ProtocolVersion = "1.1.0"
	// EventSchemaVersion is the only inbound event version accepted.
	EventSchemaVersion = 1
)

// Event types posted by the build hook.
const (
	TypeStageStarted  = "stage_started"
	TypeStageFinished = "stage_finished"
)

// Stage outcomes. An empty outcome is treated as unknown, not as failure.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event is one build-stage notification.
type Event struct {
	Version int    `json:"version"`
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Stage   string `json:"stage"`
	// BuildDir, when set, replaces the configured build output root for
	// the run this event triggers.
	BuildDir   string    `json:"build_dir,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	ClientTime time.Time `json:"client_time"`
	ServerTime time.Time `json:"server_time"`
}

// Normalize fills the version and trims every string field. Type and
// outcome are lowercased; stage keeps its case for display.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	for _, field := range []*string{&e.EventID, &e.Stage, &e.BuildDir} {
		*field = strings.TrimSpace(*field)
	}
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	e.Outcome = strings.ToLower(strings.TrimSpace(e.Outcome))
}

// StampServerTime records when the bridge received the event.
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now()
	}
	e.ServerTime = now.UTC()
}

// Validate reports every schema problem at once.
func (e Event) Validate() error {
	var errs []error
	if e.Version != EventSchemaVersion {
		errs = append(errs, fmt.Errorf("version %d not supported", e.Version))
	}
	if e.EventID == "" {
		errs = append(errs, errors.New("event_id is required"))
	}
	switch e.Type {
	case TypeStageStarted, TypeStageFinished:
	case "":
		errs = append(errs, errors.New("type is required"))
	default:
		errs = append(errs, fmt.Errorf("type %q not supported", e.Type))
	}
	if e.Stage == "" {
		errs = append(errs, errors.New("stage is required"))
	}
	switch e.Outcome {
	case "", OutcomeSuccess, OutcomeFailure:
	default:
		errs = append(errs, fmt.Errorf("outcome %q not supported", e.Outcome))
	}
	return errors.Join(errs...)
}

// Finished reports whether the event marks a stage completion.
func (e Event) Finished() bool {
	return e.Type == TypeStageFinished
}

// EventProcessor consumes validated events.
type EventProcessor interface {
	HandleEvent(Event) error
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(Event) error

func (f EventProcessorFunc) HandleEvent(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// Logger is satisfied by *logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status         string     `json:"status"`
	Version        string     `json:"version"`
	Stages         []string   `json:"stages"`
	EventsAccepted int        `json:"events_accepted"`
	LastEventAt    *time.Time `json:"last_event_at,omitempty"`
	UptimeSeconds  int64      `json:"uptime_seconds"`
}

type eventResponse struct {
	Status     string    `json:"status"`
	Stage      string    `json:"stage"`
	ServerTime time.Time `json:"server_time"`
}
