package auth

import (
	"net/http"
	"time"

	"github.com/zmcp/xrm-webapi/internal/debug"
)

// TraceRoundTripper wraps an http.RoundTripper to trace the token endpoint
// traffic MSAL generates. Bodies are never recorded.
type TraceRoundTripper struct {
	Transport http.RoundTripper
	Tracer    *debug.TraceLogger
}

// RoundTrip implements http.RoundTripper with tracing
func (t *TraceRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	url := req.URL.String()
	t.Tracer.LogRequest(req.Method, url, req.Header, int(req.ContentLength))

	start := time.Now()
	resp, err := next.RoundTrip(req)
	if err != nil {
		t.Tracer.LogResponse(req.Method, url, 0, time.Since(start), 0, err)
		return nil, err
	}

	t.Tracer.LogResponse(req.Method, url, resp.StatusCode, time.Since(start), int(resp.ContentLength), nil)
	return resp, nil
}

// tracedClient returns an HTTP client for MSAL, traced when tracer is set
func tracedClient(tracer *debug.TraceLogger, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	if tracer != nil {
		client.Transport = &TraceRoundTripper{Transport: http.DefaultTransport, Tracer: tracer}
	}
	return client
}
