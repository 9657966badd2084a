package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurisko/workbench/internal/registry"
)

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestCheck_Classification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusNoContent)
		case "/broken":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	port := serverPort(t, srv)

	c := NewChecker(time.Second)
	tests := []struct {
		name   string
		target Target
		want   Status
		code   int
	}{
		{"2xx is healthy", Target{Port: port, Path: "/health"}, StatusHealthy, 204},
		{"5xx is unhealthy", Target{Port: port, Path: "/broken"}, StatusUnhealthy, 503},
		{"404 is unhealthy", Target{Port: port, Path: "/missing"}, StatusUnhealthy, 404},
		{"path without slash", Target{Port: port, Path: "health"}, StatusHealthy, 204},
		{"full URL", Target{Path: srv.URL + "/health"}, StatusHealthy, 204},
		{"no path is unknown", Target{Port: port}, StatusUnknown, 0},
		{"no port is unknown", Target{Path: "/health"}, StatusUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Check(context.Background(), tt.target)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.code, res.HTTPStatus)
		})
	}
}

func TestCheck_UnreachableWhenNothingListens(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	res := NewChecker(time.Second).Check(context.Background(), Target{Port: port, Path: "/health"})
	assert.Equal(t, StatusUnreachable, res.Status)
}

func TestCheck_TimeoutIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	res := NewChecker(100*time.Millisecond).Check(context.Background(), Target{Path: srv.URL + "/slow"})
	assert.Equal(t, StatusUnreachable, res.Status)
}

type stubClient struct {
	calls atomic.Int32
	do    func(n int32) (*http.Response, error)
}

func (s *stubClient) Do(req *http.Request) (*http.Response, error) {
	return s.do(s.calls.Add(1))
}

func TestCheck_NoRetries(t *testing.T) {
	stub := &stubClient{do: func(int32) (*http.Response, error) { return nil, errors.New("connection refused") }}
	res := NewCheckerWithClient(stub, time.Second).Check(context.Background(), Target{Port: 1, Path: "/health"})
	assert.Equal(t, StatusUnreachable, res.Status)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestWaitHealthy_PollsUntilHealthy(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := NewChecker(time.Second).WaitHealthy(context.Background(),
		Target{Port: serverPort(t, srv), Path: "/health"},
		WaitOptions{Interval: 10 * time.Millisecond, Timeout: 2 * time.Second})
	assert.Equal(t, StatusHealthy, res.Status)
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestWaitHealthy_StopsWhenProcessGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	start := time.Now()
	res := NewChecker(time.Second).WaitHealthy(context.Background(),
		Target{Path: srv.URL},
		WaitOptions{Interval: 10 * time.Millisecond, Timeout: 5 * time.Second, Alive: func() bool { return false }})
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitHealthy_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := NewChecker(time.Second).WaitHealthy(context.Background(),
		Target{Path: srv.URL},
		WaitOptions{Interval: 10 * time.Millisecond, Timeout: 100 * time.Millisecond})
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Contains(t, res.Message, "not healthy after")
}

func TestTargetFor(t *testing.T) {
	rec := &registry.ProcessRecord{Repo: "api", PID: 1, Port: 8000, HealthCheck: "/healthz"}
	assert.Equal(t, "http://localhost:8000/healthz", TargetFor(rec).URL())
}
