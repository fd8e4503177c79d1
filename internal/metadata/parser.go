package metadata

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/zmcp/tap-aptem/internal/constants"
	"github.com/zmcp/tap-aptem/internal/models"
)

// maxInheritanceDepth bounds BaseType chains so a cyclic document cannot hang
// the parser.
const maxInheritanceDepth = 32

// ParseMetadata parses OData v2 or v4 metadata XML and returns structured
// metadata. Entity sets are returned in document order and every entity set
// is resolved against its element type.
func ParseMetadata(data []byte, serviceRoot string) (*models.ODataMetadata, error) {
	var edmx EDMX
	if err := xml.Unmarshal(data, &edmx); err != nil {
		return nil, fmt.Errorf("failed to parse metadata XML: %w", err)
	}

	if len(edmx.DataServices.Schemas) == 0 {
		return nil, fmt.Errorf("no schemas found in metadata")
	}

	p := newParser(edmx)
	version := edmx.Version
	if version == "" && edmx.XMLName.Space == constants.EdmxNamespaceV4 {
		version = "4.0"
	}
	metadata := models.NewODataMetadata(serviceRoot, version)

	for _, schema := range edmx.DataServices.Schemas {
		for _, ct := range schema.ComplexTypes {
			complexType, err := p.complexType(schema.Namespace, ct)
			if err != nil {
				return nil, err
			}
			metadata.ComplexTypes[complexType.QualifiedName()] = complexType
		}
		for _, et := range schema.EntityTypes {
			entityType, err := p.entityType(schema.Namespace, et)
			if err != nil {
				return nil, err
			}
			metadata.EntityTypes[entityType.QualifiedName()] = entityType
		}
	}

	for _, schema := range edmx.DataServices.Schemas {
		for _, container := range schema.EntityContainers {
			for _, es := range container.EntitySets {
				entitySet := &models.EntitySet{
					Name:       es.Name,
					EntityType: p.qualify(es.EntityType),
				}
				if _, ok := metadata.EntityTypes[entitySet.EntityType]; !ok {
					return nil, fmt.Errorf("entity set %s references unknown entity type %s", es.Name, es.EntityType)
				}
				metadata.EntitySets = append(metadata.EntitySets, entitySet)
			}
		}
	}

	return metadata, nil
}

type parser struct {
	aliases      map[string]string
	entityTypes  map[string]EntityType
	complexTypes map[string]ComplexType
	enumTypes    map[string]bool
}

func newParser(edmx EDMX) *parser {
	p := &parser{
		aliases:      make(map[string]string),
		entityTypes:  make(map[string]EntityType),
		complexTypes: make(map[string]ComplexType),
		enumTypes:    make(map[string]bool),
	}
	for _, schema := range edmx.DataServices.Schemas {
		if schema.Alias != "" {
			p.aliases[schema.Alias] = schema.Namespace
		}
	}
	for _, schema := range edmx.DataServices.Schemas {
		for _, et := range schema.EntityTypes {
			p.entityTypes[schema.Namespace+"."+et.Name] = et
		}
		for _, ct := range schema.ComplexTypes {
			p.complexTypes[schema.Namespace+"."+ct.Name] = ct
		}
		for _, en := range schema.EnumTypes {
			p.enumTypes[schema.Namespace+"."+en.Name] = true
		}
	}
	return p
}

// qualify replaces a schema alias prefix with the schema namespace
func (p *parser) qualify(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return name
	}
	if ns, ok := p.aliases[name[:i]]; ok {
		return ns + "." + name[i+1:]
	}
	return name
}

// normalizeType resolves aliases inside a property type and maps enum types to
// Edm.String, which is how enum members travel in JSON payloads.
func (p *parser) normalizeType(typeName string) string {
	if strings.HasPrefix(typeName, constants.CollectionPrefix) && strings.HasSuffix(typeName, ")") {
		inner := typeName[len(constants.CollectionPrefix) : len(typeName)-1]
		return constants.CollectionPrefix + p.normalizeType(inner) + ")"
	}
	if strings.HasPrefix(typeName, "Edm.") {
		return typeName
	}
	qualified := p.qualify(typeName)
	if p.enumTypes[qualified] {
		return constants.EdmString
	}
	return qualified
}

func (p *parser) properties(props []Property, keys []string) []*models.EntityProperty {
	result := make([]*models.EntityProperty, 0, len(props))
	for _, prop := range props {
		result = append(result, &models.EntityProperty{
			Name:     prop.Name,
			Type:     p.normalizeType(prop.Type),
			Nullable: prop.Nullable != "false", // Default to true if not specified
			IsKey:    contains(keys, prop.Name),
		})
	}
	return result
}

// entityType converts an XML entity type to the model, flattening properties
// and keys inherited through BaseType.
func (p *parser) entityType(namespace string, et EntityType) (*models.EntityType, error) {
	chain := []EntityType{et}
	for cur := et; cur.BaseType != ""; {
		if len(chain) > maxInheritanceDepth {
			return nil, fmt.Errorf("entity type %s: base type chain too deep", et.Name)
		}
		base, ok := p.entityTypes[p.qualify(cur.BaseType)]
		if !ok {
			return nil, fmt.Errorf("entity type %s: unknown base type %s", et.Name, cur.BaseType)
		}
		chain = append(chain, base)
		cur = base
	}

	var keys []string
	for _, t := range chain {
		if t.Key != nil {
			for _, ref := range t.Key.PropertyRefs {
				keys = append(keys, ref.Name)
			}
			break
		}
	}

	entityType := &models.EntityType{
		Name:          et.Name,
		Namespace:     namespace,
		BaseType:      et.BaseType,
		Properties:    make([]*models.EntityProperty, 0),
		KeyProperties: make([]string, 0, len(keys)),
	}
	for i := len(chain) - 1; i >= 0; i-- {
		entityType.Properties = append(entityType.Properties, p.properties(chain[i].Properties, keys)...)
		if chain[i].OpenType == "true" {
			entityType.OpenType = true
		}
	}

	for _, key := range keys {
		if _, ok := entityType.Property(key); !ok {
			return nil, fmt.Errorf("entity type %s: key %s is not a declared property", et.Name, key)
		}
		entityType.KeyProperties = append(entityType.KeyProperties, key)
	}

	return entityType, nil
}

func (p *parser) complexType(namespace string, ct ComplexType) (*models.ComplexType, error) {
	chain := []ComplexType{ct}
	for cur := ct; cur.BaseType != ""; {
		if len(chain) > maxInheritanceDepth {
			return nil, fmt.Errorf("complex type %s: base type chain too deep", ct.Name)
		}
		base, ok := p.complexTypes[p.qualify(cur.BaseType)]
		if !ok {
			return nil, fmt.Errorf("complex type %s: unknown base type %s", ct.Name, cur.BaseType)
		}
		chain = append(chain, base)
		cur = base
	}

	complexType := &models.ComplexType{
		Name:       ct.Name,
		Namespace:  namespace,
		BaseType:   ct.BaseType,
		Properties: make([]*models.EntityProperty, 0),
	}
	for i := len(chain) - 1; i >= 0; i-- {
		complexType.Properties = append(complexType.Properties, p.properties(chain[i].Properties, nil)...)
		if chain[i].OpenType == "true" {
			complexType.OpenType = true
		}
	}
	return complexType, nil
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
