// Package client is the Go SDK for the relay daemon HTTP API. It
// defines its own wire types so importers never depend on the daemon's
// internal packages.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a thin HTTP client for the relay daemon.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the daemon at baseURL, e.g.
// "http://127.0.0.1:8787".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is a structured error returned by the daemon.
type APIError struct {
	Status         int    `json:"-"`
	Kind           string `json:"kind"`
	Message        string `json:"message"`
	CurrentVersion int    `json:"current_version,omitempty"`
	OpIndex        int    `json:"op_index,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay: %s (%d): %s", e.Kind, e.Status, e.Message)
}

// IsConflict reports whether err is a version-conflict API error.
func IsConflict(err error) bool {
	ae, ok := err.(*APIError)
	return ok && ae.Kind == "conflict"
}

// IsNotFound reports whether err is a not-found API error.
func IsNotFound(err error) bool {
	ae, ok := err.(*APIError)
	return ok && ae.Kind == "not_found"
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, data)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func parseAPIError(status int, data []byte) error {
	var body struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Kind != "" {
		ae := body.Error
		ae.Status = status
		return &ae
	}
	return &APIError{Status: status, Kind: "unknown", Message: string(data)}
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Version returns the daemon version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// ── Threads ─────────────────────────────────────────────────

// CreateThread registers a new thread.
func (c *Client) CreateThread(ctx context.Context, name string) (*Thread, error) {
	var out Thread
	err := c.do(ctx, http.MethodPost, "/api/v1/threads", map[string]string{"name": name}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListThreads returns all threads, newest first.
func (c *Client) ListThreads(ctx context.Context) ([]Thread, error) {
	var out []Thread
	if err := c.do(ctx, http.MethodGet, "/api/v1/threads", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetThread returns one thread's metadata.
func (c *Client) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	var out Thread
	if err := c.do(ctx, http.MethodGet, "/api/v1/threads/"+url.PathEscape(threadID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── State ───────────────────────────────────────────────────

// GetState returns the full state document as raw JSON.
func (c *Client) GetState(ctx context.Context, threadID string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/threads/"+url.PathEscape(threadID)+"/state", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetHeader returns the bounded header projection.
func (c *Client) GetHeader(ctx context.Context, threadID string) (*Header, error) {
	var out Header
	if err := c.do(ctx, http.MethodGet, "/api/v1/threads/"+url.PathEscape(threadID)+"/state/header", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatchState applies patch ops. expectedVersion < 0 skips the
// optimistic concurrency check.
func (c *Client) PatchState(ctx context.Context, threadID string, ops []PatchOp, expectedVersion int) (*PatchResult, error) {
	body := map[string]any{"ops": ops}
	if expectedVersion >= 0 {
		body["expected_version"] = expectedVersion
	}
	var out PatchResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/threads/"+url.PathEscape(threadID)+"/state/patch", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompactState prunes old actions and unreferenced artifact entries.
func (c *Client) CompactState(ctx context.Context, threadID string) (*PatchResult, error) {
	var out PatchResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/threads/"+url.PathEscape(threadID)+"/state/compact", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── Artifacts ───────────────────────────────────────────────

// PutArtifact stores content and returns its metadata.
func (c *Client) PutArtifact(ctx context.Context, threadID string, put PutArtifactRequest) (*Artifact, error) {
	var out Artifact
	if err := c.do(ctx, http.MethodPost, "/api/v1/threads/"+url.PathEscape(threadID)+"/artifacts", put, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListArtifacts returns artifact metadata in creation order.
func (c *Client) ListArtifacts(ctx context.Context, threadID string) ([]Artifact, error) {
	var out []Artifact
	if err := c.do(ctx, http.MethodGet, "/api/v1/threads/"+url.PathEscape(threadID)+"/artifacts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetArtifact returns one artifact's metadata.
func (c *Client) GetArtifact(ctx context.Context, threadID, ref string) (*Artifact, error) {
	var out Artifact
	if err := c.do(ctx, http.MethodGet, "/api/v1/threads/"+url.PathEscape(threadID)+"/artifacts/"+url.PathEscape(ref), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ArtifactContent downloads the raw stored bytes.
func (c *Client) ArtifactContent(ctx context.Context, threadID, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/threads/"+url.PathEscape(threadID)+"/artifacts/"+url.PathEscape(ref)+"?raw=1", nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return data, nil
}

// ── Events ──────────────────────────────────────────────────

// Events tails the thread's event log: all events with ID strictly
// greater than after.
func (c *Client) Events(ctx context.Context, threadID string, after uint64) ([]Event, error) {
	path := "/api/v1/threads/" + url.PathEscape(threadID) + "/events"
	if after > 0 {
		path += "?after=" + strconv.FormatUint(after, 10)
	}
	var out []Event
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ── Capabilities ────────────────────────────────────────────

// Invoke runs a capability through the daemon's memoization cache.
func (c *Client) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	var out InvokeResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/capabilities/invoke", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Capabilities lists the registered capabilities.
func (c *Client) Capabilities(ctx context.Context) ([]Capability, error) {
	var out []Capability
	if err := c.do(ctx, http.MethodGet, "/api/v1/capabilities", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ── Reports ─────────────────────────────────────────────────

// Report generates a report ("md" or "json") for the thread.
func (c *Client) Report(ctx context.Context, threadID, format string) (*Report, error) {
	var out Report
	body := map[string]string{"format": format}
	if err := c.do(ctx, http.MethodPost, "/api/v1/threads/"+url.PathEscape(threadID)+"/report", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
