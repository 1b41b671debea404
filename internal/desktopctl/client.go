// Package desktopctl is the client side of the companion host's control API,
// shared by the command line tool and the tray app. It also opens URLs and
// folders and manages login autostart on Windows.
package desktopctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dock108/aicli-companion/internal/logging"
	"github.com/dock108/aicli-companion/internal/netinfo"
	"github.com/dock108/aicli-companion/internal/supervisor"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultBaseURL is the control API's default address.
const DefaultBaseURL = "http://127.0.0.1:3002"

// APIError is a non-2xx reply from the control API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("control API returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HealthResult reports one health probe.
type HealthResult struct {
	Port    int    `json:"port"`
	URL     string `json:"url"`
	Healthy bool   `json:"healthy"`
}

// Client talks to a running companion host.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for baseURL, or DefaultBaseURL when empty.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			// start and stop wait on the child process
			Timeout: 60 * time.Second,
		},
	}
}

// BaseURL returns the control API address.
func (c *Client) BaseURL() string { return c.baseURL }

// Call sends a request and returns the raw response body. Non-2xx replies
// become *APIError.
func (c *Client) Call(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("control API unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func parseAPIError(status int, data []byte) *APIError {
	e := &APIError{StatusCode: status}
	if gjson.ValidBytes(data) {
		e.Code = gjson.GetBytes(data, "code").String()
		e.Message = gjson.GetBytes(data, "message").String()
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(data))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func (c *Client) callJSON(ctx context.Context, method, path string, body []byte, out any) error {
	data, err := c.Call(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Status returns the supervisor's current status.
func (c *Client) Status(ctx context.Context) (supervisor.ServerStatus, error) {
	var st supervisor.ServerStatus
	err := c.callJSON(ctx, http.MethodGet, "/v0/status", nil, &st)
	return st, err
}

// StartBody encodes start options, leaving unset fields out so the host
// applies its defaults.
func StartBody(opts supervisor.StartOptions) []byte {
	body := []byte(`{}`)
	if opts.Port > 0 {
		body, _ = sjson.SetBytes(body, "port", opts.Port)
	}
	if opts.AuthToken != "" {
		body, _ = sjson.SetBytes(body, "auth_token", opts.AuthToken)
	}
	if opts.ConfigPath != "" {
		body, _ = sjson.SetBytes(body, "config_path", opts.ConfigPath)
	}
	return body
}

// Start asks the host to start or adopt a server.
func (c *Client) Start(ctx context.Context, opts supervisor.StartOptions) (supervisor.ServerStatus, error) {
	var st supervisor.ServerStatus
	err := c.callJSON(ctx, http.MethodPost, "/v0/start", StartBody(opts), &st)
	return st, err
}

// StopBody encodes stop options.
func StopBody(opts supervisor.StopOptions) []byte {
	body, _ := sjson.SetBytes([]byte(`{}`), "force_external", opts.ForceExternal)
	return body
}

// Stop asks the host to stop the server.
func (c *Client) Stop(ctx context.Context, opts supervisor.StopOptions) (supervisor.ServerStatus, error) {
	var st supervisor.ServerStatus
	err := c.callJSON(ctx, http.MethodPost, "/v0/stop", StopBody(opts), &st)
	return st, err
}

// Detect asks the host to reconcile with whatever listens on port.
// Zero uses the host's default port.
func (c *Client) Detect(ctx context.Context, port int) (supervisor.ServerStatus, error) {
	body := []byte(`{}`)
	if port > 0 {
		body, _ = sjson.SetBytes(body, "port", port)
	}
	var st supervisor.ServerStatus
	err := c.callJSON(ctx, http.MethodPost, "/v0/detect", body, &st)
	return st, err
}

// Health probes the server's health endpoint through the host.
func (c *Client) Health(ctx context.Context, port int) (HealthResult, error) {
	path := "/v0/health"
	if port > 0 {
		path += "?port=" + strconv.Itoa(port)
	}
	var res HealthResult
	err := c.callJSON(ctx, http.MethodGet, path, nil, &res)
	return res, err
}

// Logs returns the newest limit captured entries, or all when limit is 0.
func (c *Client) Logs(ctx context.Context, limit int) ([]logging.Entry, error) {
	path := "/v0/logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var entries []logging.Entry
	err := c.callJSON(ctx, http.MethodGet, path, nil, &entries)
	return entries, err
}

// ClearLogs empties the host's log buffer.
func (c *Client) ClearLogs(ctx context.Context) error {
	_, err := c.Call(ctx, http.MethodDelete, "/v0/logs", nil)
	return err
}

// Network returns the LAN address mobile clients should use.
func (c *Client) Network(ctx context.Context) (netinfo.NetworkInfo, error) {
	var info netinfo.NetworkInfo
	err := c.callJSON(ctx, http.MethodGet, "/v0/network", nil, &info)
	return info, err
}

// streamURL converts the base URL to the websocket log stream URL.
func (c *Client) streamURL(replay bool) (string, error) {
	u, err := url.Parse(c.baseURL + "/v0/logs/stream")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if replay {
		u.RawQuery = "replay=true"
	}
	return u.String(), nil
}
