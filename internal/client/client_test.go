package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

func fastRetry() *RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*ODataClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewODataClient(server.URL+"/odata/1.0", "test-token-123456",
		WithRetryConfig(fastRetry()),
		WithRateLimit(0, 0),
		WithHTTPClient(server.Client()),
	)
	return c, server
}

func TestEncodeQueryParams(t *testing.T) {
	tests := []struct {
		name     string
		params   url.Values
		expected string
	}{
		{
			name: "Filter with spaces",
			params: url.Values{
				"$filter": []string{"createdDate ge 2024-01-01T00:00:00Z"},
			},
			expected: "%24filter=createdDate%20ge%202024-01-01T00%3A00%3A00Z",
		},
		{
			name: "Multiple parameters",
			params: url.Values{
				"$orderby": []string{"createdDate"},
				"$top":     []string{"100000"},
			},
			expected: "%24orderby=createdDate&%24top=100000",
		},
		{
			name: "Select list",
			params: url.Values{
				"$select": []string{"Id,Name"},
			},
			expected: "%24select=Id%2CName",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := encodeQueryParams(tt.params)
			if result != tt.expected {
				t.Errorf("encodeQueryParams() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestEntitySetAndResolveURL(t *testing.T) {
	c := NewODataClient("https://acme.aptem.co.uk/odata/1.0", "tok")
	assert.Equal(t, "https://acme.aptem.co.uk/odata/1.0/", c.BaseURL())
	assert.Equal(t, "https://acme.aptem.co.uk/odata/1.0/Students", c.EntitySetURL("Students", nil))
	assert.Equal(t, "https://acme.aptem.co.uk/odata/1.0/Students?%24top=10",
		c.EntitySetURL("Students", url.Values{"$top": {"10"}}))

	abs := "https://acme.aptem.co.uk/odata/1.0/Students?$skiptoken=Id-'42'&$top=5"
	resolved, err := c.ResolveURL(abs)
	require.NoError(t, err)
	assert.Equal(t, abs, resolved, "absolute links are used verbatim")

	resolved, err = c.ResolveURL("Students?$skiptoken=1")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.aptem.co.uk/odata/1.0/Students?$skiptoken=1", resolved)
}

func TestWithTimeoutLeavesCallerClientUntouched(t *testing.T) {
	shared := &http.Client{Timeout: time.Second}
	c := NewODataClient("https://acme.aptem.co.uk/odata/1.0", "tok",
		WithHTTPClient(shared),
		WithTimeout(time.Minute),
	)

	assert.Equal(t, time.Second, shared.Timeout)
	assert.Equal(t, time.Minute, c.httpClient.Timeout)
	assert.NotSame(t, shared, c.httpClient)
}

func TestGetMetadataSendsTokenHeader(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/odata/1.0/$metadata", r.URL.Path)
		assert.Equal(t, "test-token-123456", r.Header.Get("X-API-Token"))
		assert.Equal(t, "application/xml", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<edmx:Edmx Version="4.0"/>`))
	})

	body, err := c.GetMetadata(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(body), "Edmx")
}

func TestGetPageV4(t *testing.T) {
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json;odata.metadata=minimal", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{
			"@odata.context": "$metadata#Students",
			"@odata.count": 3,
			"value": [{"Id": 9007199254740993, "Name": "Ada"}, {"Id": 2, "Name": "Alan"}],
			"@odata.nextLink": "https://acme.aptem.co.uk/odata/1.0/Students?$skiptoken=2"
		}`))
	})

	page, err := c.GetPage(context.Background(), server.URL+"/odata/1.0/Students")
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "9007199254740993", page.Records[0]["Id"].(interface{ String() string }).String())
	assert.Equal(t, "https://acme.aptem.co.uk/odata/1.0/Students?$skiptoken=2", page.NextLink)
}

func TestGetPageV2(t *testing.T) {
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"d": {"results": [{"Id": 1}], "__count": "10", "__next": "Employers?$skiptoken=1"}}`))
	})

	page, err := c.GetPage(context.Background(), server.URL+"/odata/1.0/Employers")
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, "Employers?$skiptoken=1", page.NextLink)
}

func TestGetPageErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"v4 error body", http.StatusBadRequest, `{"error":{"code":"BadFilter","message":"Invalid filter"}}`, 400, "BadFilter", "Invalid filter"},
		{"v2 error body", http.StatusForbidden, `{"error":{"code":"Denied","message":{"lang":"en","value":"No access"}}}`, 403, "Denied", "No access"},
		{"plain text", http.StatusRequestURITooLong, `URI too long`, 414, "", "URI too long"},
		{"error in success body", http.StatusOK, `{"error":{"code":"X","message":"boom"}}`, 200, "X", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			page, err := c.GetPage(context.Background(), server.URL+"/odata/1.0/Students")
			assert.Nil(t, page)

			var httpErr *HTTPError
			require.True(t, errors.As(err, &httpErr), "got %v", err)
			assert.Equal(t, tt.wantStatus, httpErr.StatusCode)
			assert.Equal(t, tt.wantCode, httpErr.Code)
			assert.Equal(t, tt.wantMsg, httpErr.Message)
			assert.Equal(t, tt.wantStatus, StatusCode(err))
		})
	}
}

func TestGetPageRejectsMalformedBody(t *testing.T) {
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value": [1, 2]}`))
	})

	_, err := c.GetPage(context.Background(), server.URL+"/odata/1.0/Students")
	assert.Error(t, err)
	assert.Equal(t, 0, StatusCode(err))
}

func TestRetryOnServiceUnavailable(t *testing.T) {
	var calls int32
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"value": []}`))
	})

	page, err := c.GetPage(context.Background(), server.URL+"/odata/1.0/Students")
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetriesExhausted(t *testing.T) {
	var calls int32
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.GetPage(context.Background(), server.URL+"/odata/1.0/Students")
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "one attempt plus three retries")
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetMetadata(context.Background())
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = time.Minute
	cfg.MaxBackoff = time.Minute
	c.retryConfig = cfg

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.GetPage(ctx, server.URL+"/odata/1.0/Students")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
