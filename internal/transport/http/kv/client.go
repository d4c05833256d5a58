package kvhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/i-melnichenko/kvelldb/internal/consensus/local"
	"github.com/i-melnichenko/kvelldb/internal/kv"
	"github.com/i-melnichenko/kvelldb/internal/service"
)

// ErrUnhealthy is returned by Client.Health when the node does not accept writes.
var ErrUnhealthy = errors.New("kvhttp: node unhealthy")

// APIError surfaces responses that do not carry a command result.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kvhttp: status=%d body=%s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client calls the KV HTTP API of a single node.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Get reads key through the log. A zero timeout uses the server default.
func (c *Client) Get(ctx context.Context, key string, timeout time.Duration) (kv.CommandResult, error) {
	return c.command(ctx, http.MethodGet, keyPath(key), timeout, nil)
}

// GetLocal reads key from the node's state machine without going through the
// log. The value may be stale.
func (c *Client) GetLocal(ctx context.Context, key string) (kv.CommandResult, error) {
	return c.command(ctx, http.MethodGet, keyPath(key)+"?read=local", 0, nil)
}

// Set writes value under key tagged with writeID.
func (c *Client) Set(ctx context.Context, key, value, writeID string, timeout time.Duration) (kv.CommandResult, error) {
	return c.command(ctx, http.MethodPut, keyPath(key), timeout, SetRequest{Value: value, WriteID: writeID})
}

// Cas writes value under key only if the current write id equals prevWriteID.
func (c *Client) Cas(ctx context.Context, key, prevWriteID, value, writeID string, timeout time.Duration) (kv.CommandResult, error) {
	return c.command(ctx, http.MethodPost, keyPath(key)+"/cas", timeout, CasRequest{
		PrevWriteID: prevWriteID,
		Value:       value,
		WriteID:     writeID,
	})
}

// Status fetches the state machine status of the node.
func (c *Client) Status(ctx context.Context) (service.Status, error) {
	var st service.Status
	code, body, err := c.do(ctx, http.MethodGet, "/v1/status", nil)
	if err != nil {
		return service.Status{}, err
	}
	if code != http.StatusOK {
		return service.Status{}, &APIError{StatusCode: code, Body: string(body)}
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return service.Status{}, fmt.Errorf("kvhttp: decode status: %w", err)
	}
	return st, nil
}

// LogStats fetches commit log progress of the node.
func (c *Client) LogStats(ctx context.Context) (local.Stats, error) {
	var st local.Stats
	code, body, err := c.do(ctx, http.MethodGet, "/v1/log", nil)
	if err != nil {
		return local.Stats{}, err
	}
	if code != http.StatusOK {
		return local.Stats{}, &APIError{StatusCode: code, Body: string(body)}
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return local.Stats{}, fmt.Errorf("kvhttp: decode log stats: %w", err)
	}
	return st, nil
}

// Health returns nil when the node reports itself ready for writes.
func (c *Client) Health(ctx context.Context) error {
	code, body, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	switch code {
	case http.StatusOK:
		return nil
	case http.StatusServiceUnavailable:
		return ErrUnhealthy
	default:
		return &APIError{StatusCode: code, Body: string(body)}
	}
}

func (c *Client) command(ctx context.Context, method, path string, timeout time.Duration, reqBody any) (kv.CommandResult, error) {
	if timeout > 0 {
		path += "?timeout=" + url.QueryEscape(timeout.String())
	}
	code, body, err := c.do(ctx, method, path, reqBody)
	if err != nil {
		return kv.CommandResult{}, err
	}
	switch code {
	case http.StatusOK, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
	default:
		return kv.CommandResult{}, &APIError{StatusCode: code, Body: string(body)}
	}

	var res kv.CommandResult
	if err := json.Unmarshal(body, &res); err != nil {
		// Not a command result, e.g. a router 404.
		return kv.CommandResult{}, &APIError{StatusCode: code, Body: string(body)}
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody any) (int, []byte, error) {
	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return 0, nil, fmt.Errorf("kvhttp: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("kvhttp: build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("kvhttp: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("kvhttp: read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func keyPath(key string) string {
	return "/v1/kv/" + url.PathEscape(key)
}
