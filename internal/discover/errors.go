package discover

import (
	"fmt"
)

// MetadataFetchError means the $metadata document could not be retrieved
type MetadataFetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *MetadataFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch metadata from %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch metadata from %s: %v", e.URL, e.Err)
}

func (e *MetadataFetchError) Unwrap() error { return e.Err }

// MetadataParseError means the $metadata document is malformed or describes
// no usable entity sets
type MetadataParseError struct {
	Reason string
	Err    error
}

func (e *MetadataParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse metadata: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse metadata: %s", e.Reason)
}

func (e *MetadataParseError) Unwrap() error { return e.Err }
