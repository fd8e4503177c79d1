package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zmcp/tap-aptem/internal/models"
)

// HTTPError is a non-success response from the OData service
type HTTPError struct {
	StatusCode int
	Code       string // OData error code, when the body carried one
	Message    string
	URL        string // masked
	Details    []models.ODataErrorDetail
}

func (e *HTTPError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %d", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	} else if text := http.StatusText(e.StatusCode); text != "" {
		fmt.Fprintf(&b, ": %s", text)
	}
	for i, d := range e.Details {
		if i == 0 {
			b.WriteString(" | Details: ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(d.Message)
		if d.Target != "" {
			fmt.Fprintf(&b, " (target: %s)", d.Target)
		}
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " (%s)", e.URL)
	}
	return b.String()
}

// IsRateLimited reports a 429 response
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServerError reports a 5xx response
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= 500
}

// StatusCode returns the HTTP status of the first HTTPError in err's chain,
// or 0 when there is none.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
