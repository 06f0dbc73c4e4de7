package check

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hamed0406/waitprobe/internal/probe"
)

// HTTPChecker asks whether a URL answers with a 2xx or 3xx status.
type HTTPChecker struct {
	Client *http.Client
}

func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		Client: &http.Client{Timeout: timeout},
	}
}

// HTTPOutcome is the detail of one HTTP check.
type HTTPOutcome struct {
	Up         bool
	StatusCode int
	LatencyMS  float64
	Message    string
}

// Do sends HEAD, falling back to GET when the server rejects HEAD. Transport
// errors are tagged unavailable or timeout; a malformed URL is invalid.
func (h *HTTPChecker) Do(ctx context.Context, target string) (HTTPOutcome, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return HTTPOutcome{}, probe.Errorf(probe.TagInvalid, "invalid http url %q", target)
	}

	start := time.Now()
	resp, err := h.send(ctx, http.MethodHead, target)
	if err == nil && resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		resp, err = h.send(ctx, http.MethodGet, target)
	}
	latency := time.Since(start).Seconds() * 1000 // ms
	if err != nil {
		return HTTPOutcome{LatencyMS: latency, Message: err.Error()}, probe.Tagged(netTag(err), err)
	}
	defer resp.Body.Close()

	return HTTPOutcome{
		Up:         resp.StatusCode >= 200 && resp.StatusCode < 400,
		StatusCode: resp.StatusCode,
		LatencyMS:  latency,
		Message:    resp.Status,
	}, nil
}

func (h *HTTPChecker) send(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	return h.Client.Do(req)
}

// Check returns a check that reports whether target is up.
func (h *HTTPChecker) Check(target string) probe.CheckFunc {
	return func(ctx context.Context) (any, error) {
		out, err := h.Do(ctx, target)
		if err != nil {
			return nil, err
		}
		return out.Up, nil
	}
}

// HTTP is a shorthand for NewHTTPChecker(timeout).Check(target).
func HTTP(target string, timeout time.Duration) probe.CheckFunc {
	return NewHTTPChecker(timeout).Check(target)
}

// StatusIs returns a check whose value is the response status code, for
// probes that expect a particular code.
func (h *HTTPChecker) StatusIs(target string) probe.CheckFunc {
	return func(ctx context.Context) (any, error) {
		out, err := h.Do(ctx, target)
		if err != nil {
			return nil, err
		}
		if out.StatusCode == 0 {
			return nil, probe.Tagged(probe.TagUnavailable, fmt.Errorf("no response from %s", target))
		}
		return out.StatusCode, nil
	}
}
