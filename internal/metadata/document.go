package metadata

import "encoding/xml"

// The element structs below match by local name, so the same document model
// reads both v2 (CSDL 1.0-3.0) and v4 (CSDL 4.0) metadata.

// EDMX represents the root EDMX document
type EDMX struct {
	XMLName      xml.Name     `xml:"Edmx"`
	Version      string       `xml:"Version,attr"`
	DataServices DataServices `xml:"DataServices"`
}

// DataServices contains the schemas
type DataServices struct {
	XMLName            xml.Name `xml:"DataServices"`
	DataServiceVersion string   `xml:"DataServiceVersion,attr"`
	Schemas            []Schema `xml:"Schema"`
}

// Schema contains entity types, complex types and entity containers
type Schema struct {
	XMLName          xml.Name          `xml:"Schema"`
	Namespace        string            `xml:"Namespace,attr"`
	Alias            string            `xml:"Alias,attr"`
	EntityTypes      []EntityType      `xml:"EntityType"`
	ComplexTypes     []ComplexType     `xml:"ComplexType"`
	EnumTypes        []EnumType        `xml:"EnumType"`
	EntityContainers []EntityContainer `xml:"EntityContainer"`
}

// EntityType represents an OData entity type
type EntityType struct {
	XMLName    xml.Name   `xml:"EntityType"`
	Name       string     `xml:"Name,attr"`
	BaseType   string     `xml:"BaseType,attr"`
	Abstract   string     `xml:"Abstract,attr"`
	OpenType   string     `xml:"OpenType,attr"`
	Key        *Key       `xml:"Key"`
	Properties []Property `xml:"Property"`
}

// ComplexType represents an OData complex type
type ComplexType struct {
	XMLName    xml.Name   `xml:"ComplexType"`
	Name       string     `xml:"Name,attr"`
	BaseType   string     `xml:"BaseType,attr"`
	OpenType   string     `xml:"OpenType,attr"`
	Properties []Property `xml:"Property"`
}

// EnumType represents an OData enum type
type EnumType struct {
	XMLName        xml.Name `xml:"EnumType"`
	Name           string   `xml:"Name,attr"`
	UnderlyingType string   `xml:"UnderlyingType,attr"`
}

// Key contains key properties
type Key struct {
	XMLName      xml.Name      `xml:"Key"`
	PropertyRefs []PropertyRef `xml:"PropertyRef"`
}

// PropertyRef references a key property
type PropertyRef struct {
	XMLName xml.Name `xml:"PropertyRef"`
	Name    string   `xml:"Name,attr"`
}

// Property represents a structural property
type Property struct {
	XMLName  xml.Name `xml:"Property"`
	Name     string   `xml:"Name,attr"`
	Type     string   `xml:"Type,attr"`
	Nullable string   `xml:"Nullable,attr"`
}

// EntityContainer contains entity sets
type EntityContainer struct {
	XMLName    xml.Name    `xml:"EntityContainer"`
	Name       string      `xml:"Name,attr"`
	EntitySets []EntitySet `xml:"EntitySet"`
}

// EntitySet represents an OData entity set
type EntitySet struct {
	XMLName    xml.Name `xml:"EntitySet"`
	Name       string   `xml:"Name,attr"`
	EntityType string   `xml:"EntityType,attr"`
}
