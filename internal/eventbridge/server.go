package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/kingrea/apkalias/internal/artifact"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

var errServerDisabled = errors.New("eventbridge: server disabled")

// RunSource exposes the manifest of the most recent copy run.
// *artifact.Store satisfies it.
type RunSource interface {
	Load() (artifact.Manifest, error)
}

// Server accepts stage events over HTTP and hands them to a processor.
type Server struct {
	settings  Settings
	processor EventProcessor
	logger    Logger
	clock     func() time.Time
	stages    []string
	runs      RunSource

	mu        sync.RWMutex
	httpSrv   *http.Server
	ln        net.Listener
	state     ServerStatus
	startedAt time.Time
	tally     stageTally
}

// stageTally counts accepted events per stage. Guarded by Server.mu.
type stageTally struct {
	perStage map[string]int
	last     time.Time
}

func (t *stageTally) add(evt Event) {
	if t.perStage == nil {
		t.perStage = map[string]int{}
	}
	t.perStage[evt.Stage]++
	t.last = evt.ServerTime
}

func (t stageTally) total() int {
	n := 0
	for _, c := range t.perStage {
		n += c
	}
	return n
}

// Option customizes server construction.
type Option func(*Server)

// WithProcessor replaces the default processor, which accepts everything.
func WithProcessor(p EventProcessor) Option {
	return func(s *Server) {
		if p != nil {
			s.processor = p
		}
	}
}

func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock pins the server clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithStages advertises the stages that have finalizers bound on /health.
func WithStages(stages []string) Option {
	return func(s *Server) {
		s.stages = append([]string{}, stages...)
	}
}

// WithRunSource enables GET /runs/last.
func WithRunSource(src RunSource) Option {
	return func(s *Server) {
		s.runs = src
	}
}

// NewServer prepares a bridge server. Nothing is bound until Start.
func NewServer(settings Settings, opts ...Option) *Server {
	s := &Server{
		settings:  settings,
		processor: EventProcessorFunc(func(Event) error { return nil }),
		logger:    nopLogger{},
		clock:     time.Now,
		state:     StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the bridge routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /events", s.handleEvents)
	mux.HandleFunc("GET /runs/last", s.handleLastRun)
	return mux
}

// Start binds the TCP listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("eventbridge: server is nil")
	}
	if !s.settings.Enabled {
		return errServerDisabled
	}
	if err := s.settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return errors.New("eventbridge: server already started")
	}
	addr := s.settings.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("eventbridge: listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		srv.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.ln, s.httpSrv = ln, srv
	s.startedAt = s.now()
	s.state = StatusReady

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("eventbridge: serve: %v", err)
		}
	}()
	s.logger.Printf("eventbridge: listening on %s for %v", ln.Addr(), s.stages)
	return nil
}

// Shutdown drains in-flight requests. Without a deadline on ctx it waits at
// most two seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	s.state = StatusDraining
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("eventbridge: shutdown: %w", err)
	}
	s.ln, s.httpSrv = nil, nil
	return nil
}

// Addr returns the bound TCP address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// BaseURL prefers the bound address over the configured one.
func (s *Server) BaseURL() string {
	if addr := s.Addr(); addr != "" {
		return "http://" + addr
	}
	return s.settings.URL()
}

func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Accepted returns how many events were accepted per stage.
func (s *Server) Accepted() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.tally.perStage))
	for stage, n := range s.tally.perStage {
		counts[stage] = n
	}
	return counts
}

func (s *Server) now() time.Time {
	return s.clock().UTC()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stages := append([]string{}, s.stages...)
	sort.Strings(stages)

	s.mu.RLock()
	resp := healthResponse{
		Status:         string(s.state),
		Version:        ProtocolVersion,
		Stages:         stages,
		EventsAccepted: s.tally.total(),
	}
	if !s.startedAt.IsZero() {
		resp.UptimeSeconds = int64(s.now().Sub(s.startedAt) / time.Second)
	}
	if last := s.tally.last; !last.IsZero() {
		resp.LastEventAt = &last
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	evt, status, err := s.decodeEvent(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	evt.StampServerTime(s.now())
	s.logger.Printf("eventbridge: %s %s outcome=%q build_dir=%q (event %s)",
		evt.Stage, evt.Type, evt.Outcome, evt.BuildDir, evt.EventID)
	if err := s.processor.HandleEvent(evt); err != nil {
		s.logger.Printf("eventbridge: processing %s: %v", evt.EventID, err)
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}

	s.mu.Lock()
	s.tally.add(evt)
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, eventResponse{Status: "accepted", Stage: evt.Stage, ServerTime: evt.ServerTime})
}

// decodeEvent reads, normalizes and validates the request body. The int is
// the HTTP status to answer with when err is non-nil.
func (s *Server) decodeEvent(w http.ResponseWriter, r *http.Request) (Event, int, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return Event{}, http.StatusBadRequest, errors.New("empty body")
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes))
	if err != nil {
		if tooLarge := (*http.MaxBytesError)(nil); errors.As(err, &tooLarge) {
			return Event{}, http.StatusRequestEntityTooLarge, errors.New("payload exceeds limit")
		}
		return Event{}, http.StatusBadRequest, errors.New("unable to read body")
	}
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, http.StatusBadRequest, errors.New("invalid JSON")
	}
	evt.Normalize()
	if err := evt.Validate(); err != nil {
		return Event{}, http.StatusBadRequest, err
	}
	return evt, http.StatusAccepted, nil
}

func (s *Server) handleLastRun(w http.ResponseWriter, _ *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "run history unavailable")
		return
	}
	manifest, err := s.runs.Load()
	switch {
	case errors.Is(err, artifact.ErrNoManifest):
		writeError(w, http.StatusNotFound, "no runs recorded")
	case err != nil:
		s.logger.Printf("eventbridge: load last run: %v", err)
		writeError(w, http.StatusInternalServerError, "unable to load last run")
	default:
		writeJSON(w, http.StatusOK, manifest)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
