// Package http is the production Transport: net/http behind a retrying
// client, with request logging, Prometheus metrics and optional tracing.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/zmcp/xrm-webapi/internal/constants"
	"github.com/zmcp/xrm-webapi/internal/debug"
	"github.com/zmcp/xrm-webapi/internal/transport"
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Timeout    time.Duration
	Retry      *RetryConfig
	UserAgent  string
	Logger     *log.Logger
	Metrics    *Metrics
	Trace      *debug.TraceLogger
	HTTPClient *http.Client
}

// Client performs Web API exchanges over HTTP
type Client struct {
	baseURL   string
	http      *retryablehttp.Client
	userAgent string
	logger    *log.Logger
	metrics   *Metrics
	trace     *debug.TraceLogger
}

var _ transport.Transport = (*Client)(nil)

// uriSafe holds the bytes that may appear unescaped in a request target.
// Existing %XX sequences are left alone.
const uriSafe = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789;,/?:@&=+$-_.!~*'()%"

func escapeURI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(uriSafe, s[i]) >= 0 {
			b.WriteByte(s[i])
			continue
		}
		fmt.Fprintf(&b, "%%%02X", s[i])
	}
	return b.String()
}

// New creates a Client rooted at baseURL, the service root ending in
// /api/data/v<version>/
func New(baseURL string, opts Options) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	retry := opts.Retry
	if retry == nil {
		retry = DefaultRetryConfig()
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = constants.DefaultUserAgent
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = time.Duration(constants.DefaultTimeout) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		logger:    logger,
		metrics:   opts.Metrics,
		trace:     opts.Trace,
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.Logger = nil
	rc.RetryMax = retry.MaxRetries
	rc.RetryWaitMin = retry.InitialBackoff
	rc.RetryWaitMax = retry.MaxBackoff
	rc.CheckRetry = retry.checkRetry
	rc.Backoff = retry.backoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt == 0 {
			return
		}
		c.metrics.RecordRetry(req.Method)
		c.logger.Warn("Retrying request", "method", req.Method, "url", debug.MaskURL(req.URL.String()), "attempt", attempt)
	}
	c.http = rc

	return c, nil
}

// BaseURL returns the service root, always ending in "/"
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Resolve turns a relative resource path into an absolute URL. Absolute
// URLs such as paging links are kept as they are.
func (c *Client) Resolve(path string) string {
	if strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return escapeURI(path)
	}
	return escapeURI(c.baseURL + strings.TrimPrefix(path, "/"))
}

// Do performs req with retries. Any HTTP status is a response; only a
// failure to get one is returned as an error.
func (c *Client) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	target := c.Resolve(req.URL)

	var body interface{}
	if len(req.Body) > 0 {
		body = req.Body
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for name, values := range req.Header {
		httpReq.Header[name] = append([]string(nil), values...)
	}
	if httpReq.Header.Get(constants.UserAgent) == "" {
		httpReq.Header.Set(constants.UserAgent, c.userAgent)
	}

	c.logger.Debug("Request", "method", req.Method, "url", debug.MaskURL(target))
	if c.logger.GetLevel() <= log.DebugLevel {
		c.logger.Debug("Request headers", "headers", debug.HeaderString(httpReq.Header))
	}
	c.trace.LogRequest(req.Method, target, httpReq.Header, len(req.Body))

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		elapsed := time.Since(start)
		c.metrics.RecordError(req.Method)
		c.trace.LogResponse(req.Method, target, 0, elapsed, 0, err)
		c.logger.Debug("Request failed", "method", req.Method, "url", debug.MaskURL(target), "err", err)
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.RecordError(req.Method)
		c.trace.LogResponse(req.Method, target, resp.StatusCode, elapsed, 0, err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.metrics.RecordRequest(req.Method, resp.StatusCode, elapsed)
	c.trace.LogResponse(req.Method, target, resp.StatusCode, elapsed, len(respBody), nil)
	c.logger.Debug("Response", "method", req.Method, "status", resp.StatusCode, "bytes", len(respBody), "elapsed", elapsed.Round(time.Millisecond))

	return &transport.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       bytes.TrimPrefix(respBody, []byte("\xef\xbb\xbf")),
	}, nil
}
