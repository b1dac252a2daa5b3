package eventbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/apkalias/internal/artifact"
	"github.com/kingrea/apkalias/internal/config"
)

func testSettings(maxBody int64) Settings {
	s := DefaultSettings()
	s.Port = 0
	s.MaxBodyBytes = maxBody
	s.ReadTimeout = time.Second
	s.WriteTimeout = time.Second
	s.IdleTimeout = time.Second
	return s
}

func startServer(t *testing.T, settings Settings, opts ...Option) *Server {
	t.Helper()
	srv := NewServer(settings, opts...)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	return srv
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv(EnvPort, "9001")
	t.Setenv(EnvHost, "0.0.0.0")
	t.Setenv(EnvEnabled, "false")
	settings := SettingsFromConfig(&config.Config{})
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Fatalf("expected host override, got %s", settings.Host)
	}
	if settings.Enabled {
		t.Fatalf("expected enabled=false from env override")
	}
}

func TestSettingsLayering(t *testing.T) {
	disabled := false
	cfg := &config.Config{}
	cfg.Project.Bridge = config.BridgeConfig{Enabled: &disabled, Host: " 10.0.0.2 ", Port: 9100}
	env := map[string]string{EnvEnabled: "not-a-bool", EnvPort: "70000"}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	settings := settingsFrom(cfg, lookup)
	if settings.Enabled {
		t.Fatalf("unparseable env must not re-enable the bridge")
	}
	if settings.Host != "10.0.0.2" || settings.Port != 9100 {
		t.Fatalf("unexpected address %s", settings.Address())
	}
	if settings.URL() != "http://10.0.0.2:9100" {
		t.Fatalf("unexpected url %s", settings.URL())
	}
	if settings.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("expected default body limit, got %d", settings.MaxBodyBytes)
	}
}

func TestEventValidate(t *testing.T) {
	evt := Event{
		Version: EventSchemaVersion,
		EventID: "abc",
		Type:    TypeStageFinished,
		Stage:   "assembleRelease",
	}
	if err := evt.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}
	evt.Version = 99
	if err := evt.Validate(); err == nil {
		t.Fatalf("expected version error")
	}
	evt.Version = EventSchemaVersion
	evt.Type = "model_response"
	if err := evt.Validate(); err == nil {
		t.Fatalf("expected type error")
	}
	evt.Type = TypeStageFinished
	evt.Stage = ""
	if err := evt.Validate(); err == nil {
		t.Fatalf("expected stage error")
	}
}

func TestServerAcceptsEvents(t *testing.T) {
	fixed := time.Unix(1730000000, 0).UTC()
	recorded := make(chan Event, 1)
	srv := startServer(t, testSettings(1024),
		WithClock(func() time.Time { return fixed }),
		WithStages([]string{"assembleRelease", "assembleDebug"}),
		WithProcessor(EventProcessorFunc(func(e Event) error {
			recorded <- e
			return nil
		})))
	base := srv.BaseURL()

	resp := postJSON(t, base+"/events", Event{
		Version: EventSchemaVersion,
		EventID: "evt-1",
		Type:    "STAGE_FINISHED",
		Stage:   "assembleDebug",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var ack eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Stage != "assembleDebug" || !ack.ServerTime.Equal(fixed) {
		t.Fatalf("unexpected ack %+v", ack)
	}
	select {
	case evt := <-recorded:
		if evt.Type != TypeStageFinished {
			t.Fatalf("expected normalized type, got %s", evt.Type)
		}
	default:
		t.Fatalf("event not forwarded to processor")
	}

	health, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer health.Body.Close()
	var h healthResponse
	if err := json.NewDecoder(health.Body).Decode(&h); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if h.Status != string(StatusReady) || h.EventsAccepted != 1 || h.LastEventAt == nil {
		t.Fatalf("unexpected health %+v", h)
	}
	if strings.Join(h.Stages, ",") != "assembleDebug,assembleRelease" {
		t.Fatalf("unexpected stages %v", h.Stages)
	}
	if got := srv.Accepted()["assembleDebug"]; got != 1 {
		t.Fatalf("expected 1 accepted assembleDebug event, got %d", got)
	}
}

func TestServerRejectsBadRequests(t *testing.T) {
	srv := startServer(t, testSettings(1024),
		WithProcessor(EventProcessorFunc(func(Event) error { return errors.New("boom") })))
	base := srv.BaseURL()

	cases := []struct {
		name    string
		payload any
		status  int
	}{
		{"missing stage", map[string]any{"version": 1, "event_id": "a", "type": TypeStageFinished}, http.StatusBadRequest},
		{"unknown type", map[string]any{"version": 1, "event_id": "b", "type": "build_cached", "stage": "x"}, http.StatusBadRequest},
		{"processor failure", map[string]any{"version": 1, "event_id": "c", "type": TypeStageFinished, "stage": "x"}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if resp := postJSON(t, base+"/events", tc.payload); resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, resp.StatusCode)
		}
	}
	resp, err := http.Get(base + "/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow header, got %d %q", resp.StatusCode, resp.Header.Get("Allow"))
	}
	if n := len(srv.Accepted()); n != 0 {
		t.Fatalf("rejected events must not be counted, got %d", n)
	}
}

func TestServerEnforcesPayloadLimit(t *testing.T) {
	srv := startServer(t, testSettings(64))
	resp := postJSON(t, srv.BaseURL()+"/events", map[string]any{
		"version":  EventSchemaVersion,
		"event_id": "evt",
		"type":     TypeStageFinished,
		"stage":    "assembleRelease",
		"notes":    strings.Repeat("a", 512),
	})
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

type runSourceFunc func() (artifact.Manifest, error)

func (f runSourceFunc) Load() (artifact.Manifest, error) { return f() }

func TestServerLastRun(t *testing.T) {
	noRuns := startServer(t, testSettings(1024),
		WithRunSource(runSourceFunc(func() (artifact.Manifest, error) {
			return artifact.Manifest{}, artifact.ErrNoManifest
		})))
	resp, err := http.Get(noRuns.BaseURL() + "/runs/last")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before any run, got %d", resp.StatusCode)
	}

	withRun := startServer(t, testSettings(1024),
		WithRunSource(runSourceFunc(func() (artifact.Manifest, error) {
			return artifact.Manifest{RunID: "run-1", Stage: "assembleRelease", Entries: []artifact.Entry{
				{Source: "/out/app.apk", Destination: "/out/P-app.apk", Status: artifact.EntryCopied},
			}}, nil
		})))
	resp, err = http.Get(withRun.BaseURL() + "/runs/last")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var m artifact.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.RunID != "run-1" || len(m.Entries) != 1 {
		t.Fatalf("unexpected manifest %+v", m)
	}
}

func TestServerDisabled(t *testing.T) {
	settings := testSettings(1024)
	settings.Enabled = false
	if err := NewServer(settings).Start(context.Background()); !errors.Is(err, errServerDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
}

func TestHandlerServesWithoutListener(t *testing.T) {
	srv := NewServer(testSettings(1024), WithStages([]string{"assembleRelease"}))
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("HEAD /health: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", http.NoBody))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body: expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/last", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("no run source: expected 404, got %d", rec.Code)
	}
}

func TestEventValidateReportsAllProblems(t *testing.T) {
	err := Event{Version: 2, Outcome: "flaky"}.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"version 2", "event_id", "type is required", "stage", `outcome "flaky"`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestServerLogsOutcomeAndBuildDir(t *testing.T) {
	var lines []string
	srv := NewServer(testSettings(1024), WithLogger(printfFunc(func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	})))
	body, err := json.Marshal(StageFinished("assembleRelease", "/work/build", "failure"))
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(lines) != 1 || !strings.Contains(lines[0], `outcome="failure"`) || !strings.Contains(lines[0], `build_dir="/work/build"`) {
		t.Fatalf("expected outcome and build_dir in log, got %q", lines)
	}
}
