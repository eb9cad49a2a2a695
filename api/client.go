package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/yllada/vpnrdp-manager/connection"
)

// Client talks to a running instance's status API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates a client for the API listening on addr that
// authenticates with token.
func NewClient(addr, token string) *Client {
	return &Client{
		base:  "http://" + addr + "/api/v1",
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Profiles returns the stored profiles with their status.
func (c *Client) Profiles(ctx context.Context) ([]ProfileStatus, error) {
	var out []ProfileStatus
	err := c.do(ctx, http.MethodGet, "/profiles", &out)
	return out, err
}

// Connections returns the active connections.
func (c *Client) Connections(ctx context.Context) ([]connection.Connection, error) {
	var out []connection.Connection
	err := c.do(ctx, http.MethodGet, "/connections", &out)
	return out, err
}

// Traffic returns the traffic window.
func (c *Client) Traffic(ctx context.Context) (TrafficView, error) {
	var out TrafficView
	err := c.do(ctx, http.MethodGet, "/traffic", &out)
	return out, err
}

// Connect starts a connection attempt in the running instance.
func (c *Client) Connect(ctx context.Context, name string) (connection.Connection, error) {
	var out connection.Connection
	err := c.do(ctx, http.MethodPost, "/connections/"+url.PathEscape(name), &out)
	return out, err
}

// Disconnect disconnects or cancels a connection in the running instance.
func (c *Client) Disconnect(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/connections/"+url.PathEscape(name), nil)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach running instance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode API response: %w", err)
	}
	return nil
}

// decodeError turns an error response back into the matching sentinel.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return fmt.Errorf("API request failed: %s", resp.Status)
	}
	for _, ec := range errorCodes {
		if body.Code == ec.code {
			return &remoteError{msg: body.Error, err: ec.err}
		}
	}
	return fmt.Errorf("API request failed: %s", body.Error)
}

// remoteError keeps the server's message while matching the sentinel.
type remoteError struct {
	msg string
	err error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.err }
