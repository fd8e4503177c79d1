package singer

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/zmcp/tap-aptem/internal/utils"
)

// State is the Singer state document
type State struct {
	mu        sync.Mutex
	Bookmarks map[string]*Bookmark `json:"bookmarks"`
}

// Bookmark tracks the replication progress of one stream
type Bookmark struct {
	ReplicationKey      string `json:"replication_key,omitempty"`
	ReplicationKeyValue string `json:"replication_key_value,omitempty"`

	pending     string
	pendingTime time.Time
}

// NewState returns an empty state
func NewState() *State {
	return &State{Bookmarks: make(map[string]*Bookmark)}
}

// ParseState decodes a state document. Both the bare {"bookmarks": ...}
// form and a STATE message wrapping it in "value" are accepted.
func ParseState(data []byte) (*State, error) {
	var raw struct {
		Type      string               `json:"type"`
		Value     *State               `json:"value"`
		Bookmarks map[string]*Bookmark `json:"bookmarks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid state: %w", err)
	}

	state := NewState()
	bookmarks := raw.Bookmarks
	if raw.Value != nil {
		bookmarks = raw.Value.Bookmarks
	}
	for stream, b := range bookmarks {
		if b != nil {
			state.Bookmarks[stream] = b
		}
	}
	return state, nil
}

// ReadStateFile reads a state file. An empty file is an empty state.
func ReadStateFile(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if len(data) == 0 {
		return NewState(), nil
	}
	return ParseState(data)
}

// Bookmark returns the bookmark of stream, creating it for key when absent.
// A stored bookmark for a different replication key is reset.
func (s *State) Bookmark(stream, key string) *Bookmark {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Bookmarks == nil {
		s.Bookmarks = make(map[string]*Bookmark)
	}
	b, ok := s.Bookmarks[stream]
	if !ok || (b.ReplicationKey != "" && b.ReplicationKey != key) {
		b = &Bookmark{ReplicationKey: key}
		s.Bookmarks[stream] = b
	}
	if b.ReplicationKey == "" {
		b.ReplicationKey = key
	}
	return b
}

// Cursor returns the lower bound for the next extraction of stream: the
// stored bookmark when it parses, else start (which may be nil).
func (s *State) Cursor(stream, key string, start *time.Time) (*time.Time, error) {
	s.mu.Lock()
	b, ok := s.Bookmarks[stream]
	s.mu.Unlock()

	if !ok || b.ReplicationKeyValue == "" || (b.ReplicationKey != "" && b.ReplicationKey != key) {
		return start, nil
	}
	t, ok := utils.ParseTimestamp(b.ReplicationKeyValue)
	if !ok {
		return nil, fmt.Errorf("stream %s: bookmark %q is not a timestamp", stream, b.ReplicationKeyValue)
	}
	return &t, nil
}

// MarshalJSON implements json.Marshaler under the state lock
func (s *State) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bookmarks := make(map[string]Bookmark, len(s.Bookmarks))
	for stream, b := range s.Bookmarks {
		bookmarks[stream] = Bookmark{ReplicationKey: b.ReplicationKey, ReplicationKeyValue: b.ReplicationKeyValue}
	}
	return json.Marshal(struct {
		Bookmarks map[string]Bookmark `json:"bookmarks"`
	}{bookmarks})
}

// Observe records the replication-key value of a record. Values are
// compared as instants; unparseable values are ignored.
func (b *Bookmark) Observe(record map[string]interface{}) {
	if b == nil || b.ReplicationKey == "" {
		return
	}
	raw, ok := record[b.ReplicationKey].(string)
	if !ok {
		return
	}
	t, ok := utils.ParseTimestamp(raw)
	if !ok {
		return
	}
	if b.pending == "" || t.After(b.pendingTime) {
		b.pending = raw
		b.pendingTime = t
	}
}

// Commit moves the largest observed value into the bookmark when it is
// newer than the stored one, reporting whether the bookmark changed.
func (b *Bookmark) Commit() bool {
	if b == nil || b.pending == "" {
		return false
	}
	pending := b.pending
	pendingTime := b.pendingTime
	b.pending = ""
	b.pendingTime = time.Time{}

	if current, ok := utils.ParseTimestamp(b.ReplicationKeyValue); ok && !pendingTime.After(current) {
		return false
	}
	b.ReplicationKeyValue = pending
	return true
}
