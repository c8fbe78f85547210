// Package client is the Go client for the control plane: typed wrappers
// over the HTTP API and a reconnecting WebSocket listener. The scan loop
// uses it as its signal sink when discovery and execution run in
// separate processes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dexarb/arbiter/exec"
	"github.com/dexarb/arbiter/server"
)

// Client talks to one engine instance.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// New builds a client for the engine at baseURL (e.g.
// "http://127.0.0.1:8545").
func New(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		log:     log.Named("client"),
	}
}

// Execute submits one signal for execution.
func (c *Client) Execute(ctx context.Context, sig *exec.Signal) (*exec.Result, error) {
	var res exec.Result
	if err := c.post(ctx, "/execute", sig, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Submit implements the scanner sink: rejections are outcomes, not
// errors. Only transport failures propagate.
func (c *Client) Submit(ctx context.Context, sig *exec.Signal) error {
	_, err := c.Execute(ctx, sig)
	return err
}

// BatchResult aggregates one batch submission.
type BatchResult struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Results   []exec.Result `json:"results"`
}

// ExecuteBatch submits several signals in one request.
func (c *Client) ExecuteBatch(ctx context.Context, sigs []exec.Signal) (*BatchResult, error) {
	body := struct {
		Signals []exec.Signal `json:"signals"`
	}{Signals: sigs}
	var out BatchResult
	if err := c.post(ctx, "/execute/batch", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Simulate runs the dry-run stages for one signal.
func (c *Client) Simulate(ctx context.Context, sig *exec.Signal) (*exec.Result, error) {
	var res exec.Result
	if err := c.post(ctx, "/simulate", sig, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health fetches the health document.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats fetches the counter snapshot.
func (c *Client) Stats(ctx context.Context) (*exec.Snapshot, error) {
	var out exec.Snapshot
	if err := c.get(ctx, "/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	// The control plane answers handled requests with 200, rejections
	// included; any 4xx/5xx is a malformed request or a server fault.
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("client: %s returned %d: %s", req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("client: %s response decode: %w", req.URL.Path, err)
	}
	return nil
}

// EventHandler consumes push events from the WebSocket channel.
type EventHandler func(ev server.Event)

// Listen connects to the engine's WebSocket endpoint and dispatches
// events until ctx is cancelled, reconnecting with exponential backoff
// on any failure.
func (c *Client) Listen(ctx context.Context, wsURL string, handle EventHandler) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry forever; ctx bounds us

	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if err := c.listenOnce(ctx, wsURL, handle); err != nil {
			c.log.Warn("websocket stream interrupted", zap.Error(err))
			return err
		}
		return backoff.Permanent(nil) // clean shutdown
	}, backoff.WithContext(policy, ctx))
}

func (c *Client) listenOnce(ctx context.Context, wsURL string, handle EventHandler) error {
	sock, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", wsURL, err)
	}
	defer sock.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sock.Close()
		case <-done:
		}
	}()

	for {
		var ev server.Event
		if err := sock.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		handle(ev)
	}
}
