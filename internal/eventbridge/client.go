package eventbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client posts stage events to a running bridge.
type Client struct {
	baseURL string
	http    *http.Client
	clock   func() time.Time
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// ClientWithHTTPClient overrides the HTTP client.
func ClientWithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient builds a client for the bridge at baseURL (scheme://host:port).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// StageFinished builds a stage_finished event with a fresh ID.
func StageFinished(stage, buildDir, outcome string) Event {
	return Event{
		Version:  EventSchemaVersion,
		EventID:  uuid.NewString(),
		Type:     TypeStageFinished,
		Stage:    stage,
		BuildDir: buildDir,
		Outcome:  outcome,
	}
}

// Notify sends the event and returns an error unless the bridge accepted it.
func (c *Client) Notify(ctx context.Context, evt Event) error {
	if evt.ClientTime.IsZero() {
		evt.ClientTime = c.clock()
	}
	evt.Normalize()
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("eventbridge: invalid event: %w", err)
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("eventbridge: encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("eventbridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("eventbridge: post event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		var payload map[string]string
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &payload) == nil && payload["error"] != "" {
			return fmt.Errorf("eventbridge: bridge rejected event: %s (%d)", payload["error"], resp.StatusCode)
		}
		return fmt.Errorf("eventbridge: bridge rejected event: status %d", resp.StatusCode)
	}
	return nil
}
