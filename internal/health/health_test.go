package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, p, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return port
}

func TestURL(t *testing.T) {
	assert.Equal(t, "http://localhost:3001/health", URL(3001))
	c := &Checker{Host: "127.0.0.1"}
	assert.Equal(t, "http://127.0.0.1:8080/health", c.URL(8080))
}

func TestCheck_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"no content", http.StatusNoContent, true},
		{"redirect-free 3xx", http.StatusNotModified, false},
		{"not found", http.StatusNotFound, false},
		{"server error", http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := &Checker{Host: "127.0.0.1"}
			assert.Equal(t, tt.want, c.Check(context.Background(), serverPort(t, srv)))
			assert.Equal(t, Path, gotPath)
		})
	}
}

func TestCheck_NothingListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := &Checker{Host: "127.0.0.1"}
	assert.False(t, c.Check(context.Background(), port))
}

func TestCheck_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := &Checker{Host: "127.0.0.1", Timeout: 100 * time.Millisecond}
	start := time.Now()
	assert.False(t, c.Check(context.Background(), serverPort(t, srv)))
	assert.Less(t, time.Since(start), 2*time.Second)
}
