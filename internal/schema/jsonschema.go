package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON Schema type names
const (
	TypeString  = "string"
	TypeBoolean = "boolean"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeNull    = "null"
)

// JSON Schema string formats
const (
	FormatDateTime = "date-time"
	FormatDate     = "date"
	FormatTime     = "time"
	FormatUUID     = "uuid"
)

// Types is a JSON Schema "type" keyword. A single type is written as a bare
// string, several as an array.
type Types []string

// MarshalJSON implements json.Marshaler
func (t Types) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return json.Marshal(t[0])
	}
	return json.Marshal([]string(t))
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Types) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = Types{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("invalid schema type %s: %w", string(data), err)
	}
	*t = many
	return nil
}

// Has reports whether typ is one of the types
func (t Types) Has(typ string) bool {
	for _, s := range t {
		if s == typ {
			return true
		}
	}
	return false
}

// Nullable reports whether null is allowed
func (t Types) Nullable() bool {
	return t.Has(TypeNull)
}

// Primary returns the first non-null type
func (t Types) Primary() string {
	for _, s := range t {
		if s != TypeNull {
			return s
		}
	}
	return TypeNull
}

// Property is a JSON Schema node as used in Singer SCHEMA messages
type Property struct {
	Type                 Types       `json:"type"`
	Format               string      `json:"format,omitempty"`
	Properties           *Properties `json:"properties,omitempty"`
	Items                *Property   `json:"items,omitempty"`
	AdditionalProperties *bool       `json:"additionalProperties,omitempty"`
}

// Clone returns a deep copy
func (p *Property) Clone() *Property {
	if p == nil {
		return nil
	}
	c := *p
	c.Type = append(Types(nil), p.Type...)
	if p.Properties != nil {
		c.Properties = p.Properties.Clone()
	}
	if p.Items != nil {
		c.Items = p.Items.Clone()
	}
	if p.AdditionalProperties != nil {
		v := *p.AdditionalProperties
		c.AdditionalProperties = &v
	}
	return &c
}

// NamedProperty is one entry of an ordered property list
type NamedProperty struct {
	Name   string
	Schema *Property
}

// Properties is an ordered JSON Schema "properties" object. Order follows
// the metadata document so SCHEMA messages are stable across runs.
type Properties struct {
	entries []NamedProperty
	index   map[string]int
}

// NewProperties returns an empty ordered property list
func NewProperties() *Properties {
	return &Properties{index: make(map[string]int)}
}

// Set adds or replaces a property, keeping the position of an existing one
func (ps *Properties) Set(name string, p *Property) {
	if ps.index == nil {
		ps.index = make(map[string]int)
	}
	if i, ok := ps.index[name]; ok {
		ps.entries[i].Schema = p
		return
	}
	ps.index[name] = len(ps.entries)
	ps.entries = append(ps.entries, NamedProperty{Name: name, Schema: p})
}

// Get returns the property with the given name
func (ps *Properties) Get(name string) (*Property, bool) {
	if ps == nil {
		return nil, false
	}
	i, ok := ps.index[name]
	if !ok {
		return nil, false
	}
	return ps.entries[i].Schema, true
}

// Len returns the number of properties
func (ps *Properties) Len() int {
	if ps == nil {
		return 0
	}
	return len(ps.entries)
}

// Names returns property names in order
func (ps *Properties) Names() []string {
	if ps == nil {
		return nil
	}
	names := make([]string, len(ps.entries))
	for i, e := range ps.entries {
		names[i] = e.Name
	}
	return names
}

// Entries returns the properties in order
func (ps *Properties) Entries() []NamedProperty {
	if ps == nil {
		return nil
	}
	return append([]NamedProperty(nil), ps.entries...)
}

// Clone returns a deep copy
func (ps *Properties) Clone() *Properties {
	c := NewProperties()
	for _, e := range ps.Entries() {
		c.Set(e.Name, e.Schema.Clone())
	}
	return c
}

// MarshalJSON implements json.Marshaler, writing entries in order
func (ps Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range ps.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Schema)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", e.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping document order
func (ps *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("schema properties must be an object")
	}

	*ps = Properties{index: make(map[string]int)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in schema properties", tok)
		}
		var p Property
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("property %s: %w", name, err)
		}
		ps.Set(name, &p)
	}
	_, err = dec.Token()
	return err
}
