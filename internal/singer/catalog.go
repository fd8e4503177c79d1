package singer

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/zmcp/tap-aptem/internal/schema"
)

// Replication methods
const (
	ReplicationIncremental = "INCREMENTAL"
	ReplicationFullTable   = "FULL_TABLE"
)

// Metadata inclusion values
const (
	InclusionAutomatic = "automatic"
	InclusionAvailable = "available"
)

// Catalog is the Singer catalog document
type Catalog struct {
	Streams []CatalogEntry `json:"streams"`
}

// CatalogEntry describes one stream of the catalog
type CatalogEntry struct {
	TapStreamID       string           `json:"tap_stream_id"`
	Stream            string           `json:"stream"`
	Schema            *schema.Property `json:"schema"`
	KeyProperties     []string         `json:"key_properties"`
	ReplicationKey    string           `json:"replication_key,omitempty"`
	ReplicationMethod string           `json:"replication_method"`
	Metadata          []MetadataEntry  `json:"metadata"`
}

// MetadataEntry is one breadcrumb of stream or property metadata
type MetadataEntry struct {
	Breadcrumb []string               `json:"breadcrumb"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// NewCatalog builds a catalog from discovered streams
func NewCatalog(streams []schema.StreamSchema) *Catalog {
	catalog := &Catalog{Streams: make([]CatalogEntry, 0, len(streams))}
	for _, s := range streams {
		catalog.Streams = append(catalog.Streams, newEntry(s))
	}
	return catalog
}

func newEntry(s schema.StreamSchema) CatalogEntry {
	entry := CatalogEntry{
		TapStreamID:       s.Name,
		Stream:            s.Name,
		Schema:            s.Schema,
		KeyProperties:     s.KeyProperties,
		ReplicationKey:    s.ReplicationKey,
		ReplicationMethod: ReplicationFullTable,
	}
	if s.ReplicationKey != "" {
		entry.ReplicationMethod = ReplicationIncremental
	}

	streamMeta := map[string]interface{}{
		"inclusion":                 InclusionAvailable,
		"table-key-properties":      s.KeyProperties,
		"forced-replication-method": entry.ReplicationMethod,
	}
	if s.ReplicationKey != "" {
		streamMeta["valid-replication-keys"] = []string{s.ReplicationKey}
	}
	entry.Metadata = append(entry.Metadata, MetadataEntry{Breadcrumb: []string{}, Metadata: streamMeta})

	automatic := make(map[string]bool)
	for _, k := range s.KeyProperties {
		automatic[k] = true
	}
	if s.ReplicationKey != "" {
		automatic[s.ReplicationKey] = true
	}
	for _, name := range s.PropertyNames() {
		inclusion := InclusionAvailable
		if automatic[name] {
			inclusion = InclusionAutomatic
		}
		entry.Metadata = append(entry.Metadata, MetadataEntry{
			Breadcrumb: []string{"properties", name},
			Metadata:   map[string]interface{}{"inclusion": inclusion},
		})
	}
	return entry
}

// ParseCatalog decodes a catalog document
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	for i, entry := range catalog.Streams {
		if entry.Stream == "" {
			entry.Stream = entry.TapStreamID
		}
		if entry.Stream == "" {
			return nil, fmt.Errorf("invalid catalog: stream %d has no name", i)
		}
		if entry.Schema == nil {
			return nil, fmt.Errorf("invalid catalog: stream %s has no schema", entry.Stream)
		}
		catalog.Streams[i] = entry
	}
	return &catalog, nil
}

// ReadCatalog reads a catalog file
func ReadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Selected returns the entries to sync. A catalog without any stream-level
// "selected" metadata selects every stream.
func (c *Catalog) Selected() []CatalogEntry {
	anySelection := false
	for _, e := range c.Streams {
		if _, ok := e.streamMetadata()["selected"]; ok {
			anySelection = true
			break
		}
	}
	if !anySelection {
		return append([]CatalogEntry(nil), c.Streams...)
	}

	var selected []CatalogEntry
	for _, e := range c.Streams {
		if v, ok := e.streamMetadata()["selected"].(bool); ok && v {
			selected = append(selected, e)
		}
	}
	return selected
}

func (e CatalogEntry) streamMetadata() map[string]interface{} {
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) == 0 {
			return m.Metadata
		}
	}
	return nil
}

func (e CatalogEntry) propertyMetadata(name string) map[string]interface{} {
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) == 2 && m.Breadcrumb[0] == "properties" && m.Breadcrumb[1] == name {
			return m.Metadata
		}
	}
	return nil
}

// SelectedProperties returns the properties to extract and whether that is
// every property. A property is dropped only when it is explicitly
// deselected and not automatic.
func (e CatalogEntry) SelectedProperties() ([]string, bool) {
	var names []string
	all := true
	for _, name := range e.Schema.Properties.Names() {
		meta := e.propertyMetadata(name)
		if selected, ok := meta["selected"].(bool); ok && !selected && meta["inclusion"] != InclusionAutomatic {
			all = false
			continue
		}
		names = append(names, name)
	}
	return names, all
}

// StreamSchema returns the stream restricted to its selected properties
func (e CatalogEntry) StreamSchema() schema.StreamSchema {
	s := schema.StreamSchema{
		Name:           e.Stream,
		Schema:         e.Schema,
		KeyProperties:  e.KeyProperties,
		ReplicationKey: e.ReplicationKey,
	}
	if e.ReplicationMethod == ReplicationFullTable {
		s.ReplicationKey = ""
	}
	if names, all := e.SelectedProperties(); !all {
		s = s.Select(names)
	}
	return s
}
