package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zmcp/tap-aptem/internal/constants"
	"github.com/zmcp/tap-aptem/internal/debug"
	"github.com/zmcp/tap-aptem/internal/models"
)

// ODataClient handles HTTP communication with the Aptem OData service
type ODataClient struct {
	baseURL     string
	apiToken    string
	userAgent   string
	httpClient  *http.Client
	limiter     *rate.Limiter
	retryConfig *RetryConfig
	logger      log.FieldLogger
	tracer      *debug.TraceLogger
}

// Option configures an ODataClient
type Option func(*ODataClient)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *ODataClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout on a copy of the HTTP client
func WithTimeout(timeout time.Duration) Option {
	return func(c *ODataClient) {
		if timeout > 0 {
			hc := *c.httpClient
			hc.Timeout = timeout
			c.httpClient = &hc
		}
	}
}

// WithRateLimit limits requests per second with the given burst. A
// non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *ODataClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetryConfig configures retry behavior for failed requests
func WithRetryConfig(cfg *RetryConfig) Option {
	return func(c *ODataClient) {
		if cfg != nil {
			c.retryConfig = cfg
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(logger log.FieldLogger) Option {
	return func(c *ODataClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer records every HTTP exchange in a trace file
func WithTracer(tracer *debug.TraceLogger) Option {
	return func(c *ODataClient) {
		c.tracer = tracer
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *ODataClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// encodeQueryParams encodes URL query parameters with proper space encoding
// OData servers expect spaces to be encoded as %20, not + (RFC 3986)
func encodeQueryParams(params url.Values) string {
	encoded := params.Encode()
	return strings.ReplaceAll(encoded, "+", "%20")
}

// NewODataClient creates a new OData client
func NewODataClient(baseURL, apiToken string, opts ...Option) *ODataClient {
	// Ensure base URL ends with /
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	c := &ODataClient{
		baseURL:   baseURL,
		apiToken:  apiToken,
		userAgent: constants.DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: time.Duration(constants.DefaultTimeout) * time.Second,
		},
		limiter:     rate.NewLimiter(rate.Limit(constants.DefaultRequestsPerSecond), constants.DefaultRateBurst),
		retryConfig: DefaultRetryConfig(),
		logger:      log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service root, always ending in a slash
func (c *ODataClient) BaseURL() string {
	return c.baseURL
}

// EntitySetURL returns the absolute URL of an entity set query
func (c *ODataClient) EntitySetURL(entitySet string, params url.Values) string {
	u := c.baseURL + url.PathEscape(entitySet)
	if len(params) > 0 {
		u += "?" + encodeQueryParams(params)
	}
	return u
}

// ResolveURL resolves a server-provided link. Absolute links are returned
// unchanged; relative ones are resolved against the service root.
func (c *ODataClient) ResolveURL(ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", ref, err)
	}
	if parsed.IsAbs() {
		return ref, nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	return base.ResolveReference(parsed).String(), nil
}

// buildRequest creates an HTTP request with proper headers and authentication
func (c *ODataClient) buildRequest(ctx context.Context, method, fullURL, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(constants.UserAgent, c.userAgent)
	req.Header.Set(constants.Accept, accept)
	if c.apiToken != "" {
		req.Header.Set(constants.APITokenHeader, c.apiToken)
	}
	return req, nil
}

// doRequestWithRetry executes a GET with rate limiting and exponential
// backoff retry. The returned body is fully read.
func (c *ODataClient) doRequestWithRetry(req *http.Request) (*http.Response, []byte, error) {
	ctx := req.Context()
	logger := c.logger.WithField("url", debug.MaskURL(req.URL.String()))

	var lastErr error
	var lastResp *http.Response
	var lastBody []byte
	var wait time.Duration

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.WithFields(log.Fields{
				"attempt": attempt,
				"max":     c.retryConfig.MaxRetries,
				"backoff": wait.String(),
			}).Debug("Retrying request")
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, nil, err
			}
		}

		if attempt == 0 {
			logger.WithField("method", req.Method).Debug("Sending request")
		}
		c.tracer.LogRequest(req, attempt)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = fmt.Errorf("HTTP request failed: %s", debug.MaskSecrets(err.Error(), c.apiToken))
			logger.WithError(lastErr).Debug("Request failed")
			c.tracer.LogError("request failed", lastErr, nil)
			wait = c.retryConfig.CalculateBackoff(attempt)
			continue // Network error, retry
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.tracer.LogResponse(req, resp.StatusCode, len(respBody), time.Since(start))
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", readErr)
			wait = c.retryConfig.CalculateBackoff(attempt)
			continue
		}

		lastResp = resp
		lastBody = respBody

		if c.retryConfig.ShouldRetry(resp.StatusCode, attempt) {
			wait = c.retryConfig.CalculateBackoff(attempt)
			if d, ok := c.retryConfig.RetryAfter(resp.Header); ok {
				wait = d
			}
			logger.WithField("status", resp.StatusCode).Debug("Received retryable status")
			continue
		}

		return resp, respBody, nil
	}

	// All retries exhausted
	if lastResp != nil {
		return lastResp, lastBody, nil
	}
	return nil, nil, fmt.Errorf("all %d retries failed: %w", c.retryConfig.MaxRetries, lastErr)
}

func (c *ODataClient) get(ctx context.Context, fullURL, accept string) ([]byte, int, error) {
	req, err := c.buildRequest(ctx, http.MethodGet, fullURL, accept)
	if err != nil {
		return nil, 0, err
	}

	resp, body, err := c.doRequestWithRetry(req)
	if err != nil {
		return nil, 0, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := parseErrorBody(body, resp.StatusCode)
		httpErr.URL = debug.MaskURL(fullURL)
		return nil, resp.StatusCode, httpErr
	}
	return body, resp.StatusCode, nil
}

// GetMetadata fetches the raw $metadata document
func (c *ODataClient) GetMetadata(ctx context.Context) ([]byte, error) {
	body, _, err := c.get(ctx, c.baseURL+constants.MetadataEndpoint, constants.ContentTypeXML)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// GetPage fetches one page of an entity set query. rawURL is used verbatim.
func (c *ODataClient) GetPage(ctx context.Context, rawURL string) (*models.Page, error) {
	body, status, err := c.get(ctx, rawURL, constants.ContentTypeODataJSONV4)
	if err != nil {
		return nil, err
	}

	page, err := parsePage(body, status)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			httpErr.URL = debug.MaskURL(rawURL)
			return nil, httpErr
		}
		return nil, fmt.Errorf("%s: %w", debug.MaskURL(rawURL), err)
	}

	c.logger.WithFields(log.Fields{
		"url":     debug.MaskURL(rawURL),
		"records": len(page.Records),
		"next":    page.NextLink != "",
	}).Debug("Fetched page")
	return page, nil
}
