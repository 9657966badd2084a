// Package health probes the HTTP health endpoints of running services.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gurisko/workbench/internal/limits"
	"github.com/gurisko/workbench/internal/registry"
)

// Status is the verdict of one health probe.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusUnhealthy   Status = "unhealthy"
	StatusUnreachable Status = "unreachable"
	StatusUnknown     Status = "unknown"
)

const (
	DefaultTimeout  = 2 * time.Second
	DefaultInterval = 500 * time.Millisecond
)

// HTTPClient is the subset of *http.Client the checker needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Target is what gets probed: a port on localhost plus a path, or a full
// URL in Path.
type Target struct {
	Port int
	Path string
}

// TargetFor builds the probe target of a process record.
func TargetFor(rec *registry.ProcessRecord) Target {
	return Target{Port: rec.Port, Path: rec.HealthCheck}
}

// URL returns the probe URL, or "" when the target cannot be probed.
func (t Target) URL() string {
	p := strings.TrimSpace(t.Path)
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "http://"), strings.HasPrefix(p, "https://"):
		return p
	case t.Port <= 0:
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return fmt.Sprintf("http://localhost:%d%s", t.Port, p)
}

// Result describes one probe.
type Result struct {
	Status     Status
	HTTPStatus int
	Message    string
	Latency    time.Duration
}

// Checker performs single health probes. It never retries.
type Checker struct {
	client  HTTPClient
	timeout time.Duration
}

// NewChecker returns a checker with its own HTTP client.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// NewCheckerWithClient injects the HTTP client, mainly for tests.
func NewCheckerWithClient(client HTTPClient, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{client: client, timeout: timeout}
}

// Check probes t once: 2xx is healthy, any other status unhealthy, and a
// transport failure or timeout unreachable. No path means unknown.
func (c *Checker) Check(ctx context.Context, t Target) Result {
	url := t.URL()
	if url == "" {
		return Result{Status: StatusUnknown, Message: "no health check configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Status: StatusUnreachable, Message: fmt.Sprintf("invalid health URL: %v", err)}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{Status: StatusUnreachable, Message: fmt.Sprintf("request failed: %v", err), Latency: latency}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, limits.HealthBody))

	res := Result{HTTPStatus: resp.StatusCode, Latency: latency}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Status = StatusHealthy
		res.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	} else {
		res.Status = StatusUnhealthy
		res.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return res
}

// WaitOptions controls WaitHealthy.
type WaitOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	// Alive, when set, aborts the wait as soon as it reports false.
	Alive func() bool
}

// WaitHealthy polls until t is healthy, the timeout passes, ctx is done or
// Alive reports the process gone. It returns the last probe result.
func (c *Checker) WaitHealthy(ctx context.Context, t Target, opts WaitOptions) Result {
	if t.URL() == "" {
		return Result{Status: StatusUnknown, Message: "no health check configured"}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		last := c.Check(ctx, t)
		if last.Status == StatusHealthy {
			return last
		}
		if opts.Alive != nil && !opts.Alive() {
			last.Message = "process exited: " + last.Message
			return last
		}
		select {
		case <-ctx.Done():
			return last
		case <-deadline.C:
			last.Message = fmt.Sprintf("not healthy after %s: %s", opts.Timeout, last.Message)
			return last
		case <-ticker.C:
		}
	}
}
