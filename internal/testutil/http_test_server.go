// Package testutil holds helpers shared by adapter and server tests: a fake
// vendor endpoint bound to 127.0.0.1 and SSE writers/readers.
package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
)

// IPv4Server is a fake upstream. It counts the requests it served so tests
// can assert a vendor was never contacted.
type IPv4Server struct {
	URL       string
	listener  net.Listener
	server    *http.Server
	transport *http.Transport
	client    *http.Client
	hits      atomic.Int64
}

// NewIPv4Server starts handler on the IPv4 loopback interface. The server is
// closed automatically when the test ends; calling Close earlier is allowed.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	transport := &http.Transport{}
	s := &IPv4Server{
		URL:       "http://" + l.Addr().String(),
		listener:  l,
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
	s.server = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		handler.ServeHTTP(w, r)
	})}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("IPv4Server serve error: %v", err)
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// Client returns an HTTP client configured for the server.
func (s *IPv4Server) Client() *http.Client {
	return s.client
}

// Hits returns how many requests reached the handler.
func (s *IPv4Server) Hits() int64 {
	return s.hits.Load()
}

// Close shuts the server down and drops idle client connections.
func (s *IPv4Server) Close() {
	_ = s.server.Shutdown(context.Background())
	s.transport.CloseIdleConnections()
}
