// Package remote implements the HTTP client for the Inkwell sync backend.
//
// The backend exposes idempotent operations keyed by record id:
//
//	PUT    /v1/{collection}/{id}   upsert, body {"payload": ...}
//	DELETE /v1/{collection}/{id}   delete (unknown id succeeds)
//	GET    /v1/health              reachability probe
//
// Successful upserts return {"cloud_id": "..."}. Failures are mapped onto the
// engine's error taxonomy: 5xx and transport errors are recoverable, 4xx are
// terminal (409 is the backend's explicit conflict signal).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inkwell-app/inkwell/internal/engine"
	"github.com/inkwell-app/inkwell/internal/record"
)

// Client talks to the sync backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a backend client. If httpClient is nil, a client with a
// 30 second timeout is used. token may be empty for unauthenticated backends.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
	}
}

type upsertRequest struct {
	Payload json.RawMessage `json:"payload"`
}

type upsertResponse struct {
	CloudID string `json:"cloud_id"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Upsert implements engine.Remote.
func (c *Client) Upsert(ctx context.Context, collection record.Collection, id string, payload json.RawMessage) (string, error) {
	body, err := json.Marshal(upsertRequest{Payload: payload})
	if err != nil {
		return "", fmt.Errorf("failed to marshal upsert body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.recordURL(collection, id), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &engine.RemoteError{Kind: engine.KindRecoverable, Msg: "upsert request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.statusError(resp)
	}

	var ack upsertResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil && err != io.EOF {
		// The write landed; a garbled ack body is not worth a retry that
		// the backend would dedupe anyway.
		return "", nil
	}
	return ack.CloudID, nil
}

// Delete implements engine.Remote. Deleting an unknown record succeeds.
func (c *Client) Delete(ctx context.Context, collection record.Collection, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.recordURL(collection, id), nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &engine.RemoteError{Kind: engine.KindRecoverable, Msg: "delete request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp)
	}
	return nil
}

// HealthURL returns the probe endpoint for the connectivity monitor.
func (c *Client) HealthURL() string {
	return c.baseURL + "/v1/health"
}

// Probe implements connectivity.Prober against the health endpoint.
func (c *Client) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.HealthURL(), nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

func (c *Client) recordURL(collection record.Collection, id string) string {
	return fmt.Sprintf("%s/v1/%s/%s", c.baseURL, url.PathEscape(string(collection)), url.PathEscape(id))
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// statusError maps a non-2xx response onto the engine taxonomy.
func (c *Client) statusError(resp *http.Response) error {
	kind := engine.KindRecoverable
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		kind = engine.KindTerminal
	}

	msg := resp.Status
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		msg = fmt.Sprintf("%s: %s", resp.Status, body.Error)
	}

	return &engine.RemoteError{
		Kind:   kind,
		Status: resp.StatusCode,
		Msg:    msg,
	}
}
