package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zmcp/tap-aptem/internal/constants"
	"github.com/zmcp/tap-aptem/internal/models"
)

// StreamSchema describes one extractable stream
type StreamSchema struct {
	Name           string
	Schema         *Property
	KeyProperties  []string
	ReplicationKey string
}

// PropertyNames returns the top-level property names in order
func (s StreamSchema) PropertyNames() []string {
	if s.Schema == nil {
		return nil
	}
	return s.Schema.Properties.Names()
}

// Select returns a copy restricted to names. Key properties and the
// replication key are always kept.
func (s StreamSchema) Select(names []string) StreamSchema {
	if s.Schema == nil {
		return s
	}
	keep := make(map[string]bool, len(names)+len(s.KeyProperties)+1)
	for _, n := range names {
		keep[n] = true
	}
	for _, k := range s.KeyProperties {
		keep[k] = true
	}
	if s.ReplicationKey != "" {
		keep[s.ReplicationKey] = true
	}

	props := NewProperties()
	for _, e := range s.Schema.Properties.Entries() {
		if keep[e.Name] {
			props.Set(e.Name, e.Schema)
		}
	}
	root := s.Schema.Clone()
	root.Properties = props

	s.Schema = root
	s.KeyProperties = append([]string(nil), s.KeyProperties...)
	return s
}

// Option configures a Builder
type Option func(*Builder)

// WithReplicationKeyCandidates sets the property names tried, in order, when
// choosing a replication key.
func WithReplicationKeyCandidates(candidates []string) Option {
	return func(b *Builder) {
		if len(candidates) > 0 {
			b.candidates = candidates
		}
	}
}

// WithReplicationKeys pins the replication key of individual streams. An
// empty value forces full-table replication.
func WithReplicationKeys(keys map[string]string) Option {
	return func(b *Builder) {
		b.overrides = keys
	}
}

// Builder turns parsed metadata into stream schemas
type Builder struct {
	meta       *models.ODataMetadata
	candidates []string
	overrides  map[string]string
}

// NewBuilder creates a Builder over meta
func NewBuilder(meta *models.ODataMetadata, opts ...Option) *Builder {
	b := &Builder{
		meta:       meta,
		candidates: constants.DefaultReplicationKeyCandidates,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the stream schema of an entity set
func (b *Builder) Build(set *models.EntitySet) (StreamSchema, error) {
	entityType, ok := b.meta.EntityTypeOf(set)
	if !ok {
		return StreamSchema{}, fmt.Errorf("entity set %s: unknown entity type %s", set.Name, set.EntityType)
	}

	open := entityType.OpenType
	root := &Property{
		Type:                 Types{TypeObject},
		Properties:           NewProperties(),
		AdditionalProperties: &open,
	}
	for _, prop := range entityType.Properties {
		p, err := b.propertySchema(prop.Type, prop.Nullable && !prop.IsKey, map[string]bool{})
		if err != nil {
			var mappingErr *SchemaMappingError
			if errors.As(err, &mappingErr) && mappingErr.Property == "" {
				mappingErr.Property = set.Name + "." + prop.Name
			}
			return StreamSchema{}, err
		}
		root.Properties.Set(prop.Name, p)
	}

	stream := StreamSchema{
		Name:          set.Name,
		Schema:        root,
		KeyProperties: append([]string(nil), entityType.KeyProperties...),
	}

	key, err := b.replicationKey(set.Name, entityType)
	if err != nil {
		return StreamSchema{}, err
	}
	stream.ReplicationKey = key
	return stream, nil
}

func (b *Builder) replicationKey(stream string, et *models.EntityType) (string, error) {
	if key, ok := b.overrides[stream]; ok {
		if key == "" {
			return "", nil
		}
		prop, ok := et.Property(key)
		if !ok {
			return "", fmt.Errorf("stream %s: replication key %s is not a property", stream, key)
		}
		if KindOf(prop.Type) != KindDateTime {
			return "", fmt.Errorf("stream %s: replication key %s has type %s, want a date-time", stream, key, prop.Type)
		}
		return prop.Name, nil
	}

	for _, candidate := range b.candidates {
		for _, prop := range et.Properties {
			if strings.EqualFold(prop.Name, candidate) && KindOf(prop.Type) == KindDateTime {
				return prop.Name, nil
			}
		}
	}
	return "", nil
}

func (b *Builder) propertySchema(odataType string, nullable bool, visiting map[string]bool) (*Property, error) {
	var p *Property

	switch {
	case strings.HasPrefix(odataType, constants.CollectionPrefix) && strings.HasSuffix(odataType, ")"):
		inner := odataType[len(constants.CollectionPrefix) : len(odataType)-1]
		items, err := b.propertySchema(inner, false, visiting)
		if err != nil {
			return nil, err
		}
		p = &Property{Type: Types{TypeArray}, Items: items}

	case b.meta.ComplexTypes[odataType] != nil:
		complexType := b.meta.ComplexTypes[odataType]
		if visiting[odataType] {
			open := true
			p = &Property{Type: Types{TypeObject}, AdditionalProperties: &open}
			break
		}
		visiting[odataType] = true
		open := complexType.OpenType
		p = &Property{Type: Types{TypeObject}, Properties: NewProperties(), AdditionalProperties: &open}
		for _, prop := range complexType.Properties {
			child, err := b.propertySchema(prop.Type, prop.Nullable, visiting)
			if err != nil {
				return nil, err
			}
			p.Properties.Set(prop.Name, child)
		}
		delete(visiting, odataType)

	default:
		var err error
		p, err = MapType(odataType)
		if err != nil {
			return nil, err
		}
	}

	if nullable {
		p.Type = append(p.Type, TypeNull)
	}
	return p, nil
}
