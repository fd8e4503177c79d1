package models

import (
	"strings"
	"time"
)

// EntityProperty represents a structural property of an entity or complex type
type EntityProperty struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // OData type (e.g., "Edm.String", "Collection(NS.Address)")
	Nullable bool   `json:"nullable"`
	IsKey    bool   `json:"is_key"`
}

// EntityType represents an OData entity type definition
type EntityType struct {
	Name          string            `json:"name"`
	Namespace     string            `json:"namespace"`
	BaseType      string            `json:"base_type,omitempty"`
	OpenType      bool              `json:"open_type"`
	Properties    []*EntityProperty `json:"properties"`
	KeyProperties []string          `json:"key_properties"`
}

// QualifiedName returns Namespace.Name
func (t *EntityType) QualifiedName() string {
	return qualify(t.Namespace, t.Name)
}

// Property returns the property with the given name
func (t *EntityType) Property(name string) (*EntityProperty, bool) {
	return findProperty(t.Properties, name)
}

// ComplexType represents an OData complex type definition
type ComplexType struct {
	Name       string            `json:"name"`
	Namespace  string            `json:"namespace"`
	BaseType   string            `json:"base_type,omitempty"`
	OpenType   bool              `json:"open_type"`
	Properties []*EntityProperty `json:"properties"`
}

// QualifiedName returns Namespace.Name
func (t *ComplexType) QualifiedName() string {
	return qualify(t.Namespace, t.Name)
}

// EntitySet represents an OData entity set
type EntitySet struct {
	Name       string `json:"name"`
	EntityType string `json:"entity_type"` // qualified name of the element type
}

// ODataMetadata represents the parsed service metadata document.
// EntitySets keeps document order; types are keyed by qualified name.
type ODataMetadata struct {
	ServiceRoot  string                  `json:"service_root"`
	Version      string                  `json:"version"`
	EntityTypes  map[string]*EntityType  `json:"entity_types"`
	ComplexTypes map[string]*ComplexType `json:"complex_types"`
	EntitySets   []*EntitySet            `json:"entity_sets"`
	ParsedAt     time.Time               `json:"parsed_at"`
}

// NewODataMetadata returns an empty metadata document for serviceRoot
func NewODataMetadata(serviceRoot, version string) *ODataMetadata {
	return &ODataMetadata{
		ServiceRoot:  serviceRoot,
		Version:      version,
		EntityTypes:  make(map[string]*EntityType),
		ComplexTypes: make(map[string]*ComplexType),
		EntitySets:   make([]*EntitySet, 0),
		ParsedAt:     time.Now(),
	}
}

// EntityTypeOf resolves the element type of an entity set
func (m *ODataMetadata) EntityTypeOf(set *EntitySet) (*EntityType, bool) {
	et, ok := m.EntityTypes[set.EntityType]
	return et, ok
}

// IsV4 reports whether the document declared OData version 4.x
func (m *ODataMetadata) IsV4() bool {
	return strings.HasPrefix(m.Version, "4.")
}

// ODataError represents an OData error response
type ODataError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Target     string                 `json:"target,omitempty"`
	Details    []ODataErrorDetail     `json:"details,omitempty"`
	InnerError map[string]interface{} `json:"innererror,omitempty"`
}

// ODataErrorDetail represents detailed error information
type ODataErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

// Page is one response of an entity set query, normalized across v2 and v4
type Page struct {
	Records  []map[string]interface{} `json:"value"`
	NextLink string                   `json:"@odata.nextLink,omitempty"`
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

func findProperty(props []*EntityProperty, name string) (*EntityProperty, bool) {
	for _, p := range props {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}
