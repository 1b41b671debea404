// Package health probes the companion server's HTTP health endpoint.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultHost is the host used when building health URLs.
	DefaultHost = "localhost"
	// DefaultTimeout bounds a single probe.
	DefaultTimeout = 2 * time.Second
	// Path is the server's health endpoint.
	Path = "/health"
)

// Checker issues health probes. The zero value is ready to use.
type Checker struct {
	Client  *http.Client
	Host    string
	Timeout time.Duration
}

// URL returns the health URL for port on the checker's host.
func (c *Checker) URL(port int) string {
	host := DefaultHost
	if c != nil && c.Host != "" {
		host = c.Host
	}
	return fmt.Sprintf("http://%s:%d%s", host, port, Path)
}

// Check performs one GET against the health URL. Any 2xx response counts as
// healthy; transport errors, timeouts and other statuses count as unhealthy.
func (c *Checker) Check(ctx context.Context, port int) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := DefaultTimeout
	client := http.DefaultClient
	if c != nil {
		if c.Timeout > 0 {
			timeout = c.Timeout
		}
		if c.Client != nil {
			client = c.Client
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(port), nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// URL returns http://localhost:{port}/health.
func URL(port int) string {
	return (*Checker)(nil).URL(port)
}

// Check probes localhost with the default timeout.
func Check(ctx context.Context, port int) bool {
	return (*Checker)(nil).Check(ctx, port)
}
