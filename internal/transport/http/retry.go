// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package http

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryConfig defines retry behavior for Web API requests
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff    time.Duration // Initial delay before first retry
	MaxBackoff        time.Duration // Maximum delay between retries
	BackoffMultiplier float64       // Multiplier for exponential backoff
	JitterFraction    float64       // Random jitter fraction (0.0-1.0)
	RetryableStatuses []int         // HTTP status codes that trigger retry
}

// DefaultRetryConfig returns sensible defaults for retry behavior.
// 429 is what Dataverse service protection limits answer with.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

// CalculateBackoff returns the delay for a given attempt (0-indexed)
// attempt 0 returns InitialBackoff, subsequent attempts grow exponentially
func (c *RetryConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.InitialBackoff
	}

	backoff := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt))

	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}

	if c.JitterFraction > 0 {
		jitterRange := backoff * c.JitterFraction
		jitter := (rand.Float64()*2 - 1) * jitterRange
		backoff += jitter

		if backoff < 0 {
			backoff = 0
		}
	}

	return time.Duration(backoff)
}

// IsRetryableStatus checks if a status code is in the retryable list
func (c *RetryConfig) IsRetryableStatus(statusCode int) bool {
	for _, code := range c.RetryableStatuses {
		if statusCode == code {
			return true
		}
	}
	return false
}

// checkRetry is the retryablehttp.CheckRetry for this config. Connection
// failures follow the library's default policy; responses are retried only
// when their status is listed.
func (c *RetryConfig) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return c.IsRetryableStatus(resp.StatusCode), nil
}

// backoff is the retryablehttp.Backoff for this config. A Retry-After header
// in seconds overrides the computed delay, capped at MaxBackoff.
func (c *RetryConfig) backoff(_, _ time.Duration, attempt int, resp *http.Response) time.Duration {
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds >= 0 {
			wait := time.Duration(seconds) * time.Second
			if wait > c.MaxBackoff {
				wait = c.MaxBackoff
			}
			return wait
		}
	}
	return c.CalculateBackoff(attempt)
}
