package transport

import (
	"context"
	"fmt"
	"net/http"
)

// Request is a single Web API exchange to perform. URL is either relative to
// the service root or absolute (paging links are absolute).
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is what the server answered. A Response is returned for every
// status code; only failures to obtain one are reported as errors.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport defines the interface for performing Web API exchanges
type Transport interface {
	// Do performs req and returns the server's response. It must return
	// exactly one of a response or an error.
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts an ordinary function to the Transport interface
type Func func(ctx context.Context, req *Request) (*Response, error)

// Do calls f(ctx, req)
func (f Func) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// String renders the request line, for logs
func (r *Request) String() string {
	return fmt.Sprintf("%s %s", r.Method, r.URL)
}
