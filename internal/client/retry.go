// Copyright (c) 2024 tap-aptem Contributors
// SPDX-License-Identifier: MIT

package client

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"
)

// RetryConfig defines retry behavior for HTTP requests
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff    time.Duration // Initial delay before first retry
	MaxBackoff        time.Duration // Maximum delay between retries
	BackoffMultiplier float64       // Multiplier for exponential backoff
	Jitter            bool          // Randomize delays between InitialBackoff and the computed value
	RetryableStatuses []int         // HTTP status codes that trigger retry
}

// DefaultRetryConfig returns sensible defaults for retry behavior
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

// NoRetryConfig disables retries
func NoRetryConfig() *RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 0
	return cfg
}

func (c *RetryConfig) backoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    c.InitialBackoff,
		Max:    c.MaxBackoff,
		Factor: c.BackoffMultiplier,
		Jitter: c.Jitter,
	}
}

// CalculateBackoff returns the delay for a given attempt (0-indexed).
// attempt 0 returns InitialBackoff, subsequent attempts grow exponentially
// up to MaxBackoff.
func (c *RetryConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return c.backoff().ForAttempt(float64(attempt))
}

// RetryAfter returns the delay requested by a Retry-After header in seconds,
// capped at MaxBackoff. HTTP-date values are ignored.
func (c *RetryConfig) RetryAfter(header http.Header) (time.Duration, bool) {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0, false
	}
	d := time.Duration(seconds) * time.Second
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d, true
}

// ShouldRetry determines if a request should be retried based on status code and attempt count
func (c *RetryConfig) ShouldRetry(statusCode int, attempt int) bool {
	if attempt >= c.MaxRetries {
		return false
	}
	return c.IsRetryableStatus(statusCode)
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
