// Package client provides an HTTP client for the compms2 server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/524D/compareMS2/internal/models"
	"github.com/524D/compareMS2/internal/server"
	"github.com/524D/compareMS2/internal/service"
)

// ErrNotFound is returned when the server does not know the session.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.StatusCode, e.Message)
}

// Is reports a 404 as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to the compms2 server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a new client.
// If endpoint is empty, uses COMPMS2_SERVER_URL env var or defaults to localhost:8484.
// A zero timeout uses COMPMS2_CLIENT_TIMEOUT or 30 seconds.
func New(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("COMPMS2_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8484"
	}

	if timeout == 0 {
		timeout = 30 * time.Second
		if t := os.Getenv("COMPMS2_CLIENT_TIMEOUT"); t != "" {
			if d, err := time.ParseDuration(t); err == nil {
				timeout = d
			}
		}
	}

	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// do sends a JSON request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Stats returns server statistics.
func (c *Client) Stats(ctx context.Context) (*server.StatsResponse, error) {
	var out server.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartTree starts a tree session.
func (c *Client) StartTree(ctx context.Context, opts models.Options) (*service.SessionSnapshot, error) {
	var out service.SessionSnapshot
	if err := c.do(ctx, http.MethodPost, "/api/sessions", opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartSpecies starts a species session for opts.MzFile1.
func (c *Client) StartSpecies(ctx context.Context, opts models.Options) (*service.SessionSnapshot, error) {
	var out service.SessionSnapshot
	if err := c.do(ctx, http.MethodPost, "/api/species", opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns all sessions, most recent first.
func (c *Client) ListSessions(ctx context.Context) ([]service.SessionSnapshot, error) {
	var out []service.SessionSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession returns one session.
func (c *Client) GetSession(ctx context.Context, id string) (*service.SessionSnapshot, error) {
	return c.sessionCall(ctx, http.MethodGet, id, "")
}

// PauseSession pauses a session at the next row boundary.
func (c *Client) PauseSession(ctx context.Context, id string) (*service.SessionSnapshot, error) {
	return c.sessionCall(ctx, http.MethodPost, id, "/pause")
}

// ResumeSession resumes a paused session.
func (c *Client) ResumeSession(ctx context.Context, id string) (*service.SessionSnapshot, error) {
	return c.sessionCall(ctx, http.MethodPost, id, "/resume")
}

// StopSession stops a session and waits for it to end.
func (c *Client) StopSession(ctx context.Context, id string) (*service.SessionSnapshot, error) {
	return c.sessionCall(ctx, http.MethodPost, id, "/stop")
}

// RemoveSession stops and deletes a session.
func (c *Client) RemoveSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil)
}

func (c *Client) sessionCall(ctx context.Context, method, id, action string) (*service.SessionSnapshot, error) {
	var out service.SessionSnapshot
	if err := c.do(ctx, method, "/api/sessions/"+url.PathEscape(id)+action, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compare runs one comparison on the server.
func (c *Client) Compare(ctx context.Context, req server.CompareRequest) (*server.CompareResponse, error) {
	var out server.CompareResponse
	if err := c.do(ctx, http.MethodPost, "/api/compare", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watch streams the events of a session. onMessage is called for the
// initial snapshot and every event; return an error from it to stop
// watching. Watch returns nil when the session ends.
func (c *Client) Watch(ctx context.Context, id string, onMessage func(server.StreamMessage) error) error {
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/api/sessions/" + url.PathEscape(id) + "/events")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{StatusCode: resp.StatusCode, Message: "session not found: " + id}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg server.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := onMessage(msg); err != nil {
			return err
		}
	}
}
