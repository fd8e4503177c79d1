package schema

import (
	"fmt"

	"github.com/zmcp/tap-aptem/internal/constants"
)

// EdmKind classifies OData primitive types by their JSON Schema rendering
type EdmKind int

const (
	KindString EdmKind = iota
	KindBoolean
	KindInteger
	KindNumber
	KindDateTime
	KindDate
	KindTime
	KindGUID
)

var kindNames = map[EdmKind]string{
	KindString:   "string",
	KindBoolean:  "boolean",
	KindInteger:  "integer",
	KindNumber:   "number",
	KindDateTime: "date-time",
	KindDate:     "date",
	KindTime:     "time",
	KindGUID:     "guid",
}

func (k EdmKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EdmKind(%d)", int(k))
}

// KindOf returns the kind of an OData primitive type name. Unknown names
// fall back to KindString.
func KindOf(odataType string) EdmKind {
	switch odataType {
	case constants.EdmBoolean:
		return KindBoolean
	case constants.EdmByte, constants.EdmSByte, constants.EdmInt16, constants.EdmInt32, constants.EdmInt64:
		return KindInteger
	case constants.EdmDecimal, constants.EdmDouble, constants.EdmSingle:
		return KindNumber
	case constants.EdmDateTime, constants.EdmDateTimeOffset:
		return KindDateTime
	case constants.EdmDate:
		return KindDate
	case constants.EdmTimeOfDay:
		return KindTime
	case constants.EdmGUID:
		return KindGUID
	case constants.EdmString, constants.EdmBinary, constants.EdmDuration, constants.EdmTime:
		return KindString
	default:
		return KindString
	}
}

// JSONSchema returns the non-nullable JSON Schema for the kind
func (k EdmKind) JSONSchema() (*Property, error) {
	switch k {
	case KindString:
		return &Property{Type: Types{TypeString}}, nil
	case KindBoolean:
		return &Property{Type: Types{TypeBoolean}}, nil
	case KindInteger:
		return &Property{Type: Types{TypeInteger}}, nil
	case KindNumber:
		return &Property{Type: Types{TypeNumber}}, nil
	case KindDateTime:
		return &Property{Type: Types{TypeString}, Format: FormatDateTime}, nil
	case KindDate:
		return &Property{Type: Types{TypeString}, Format: FormatDate}, nil
	case KindTime:
		return &Property{Type: Types{TypeString}, Format: FormatTime}, nil
	case KindGUID:
		return &Property{Type: Types{TypeString}, Format: FormatUUID}, nil
	default:
		return nil, &SchemaMappingError{Kind: k}
	}
}

// MapType returns the JSON Schema of an OData primitive type name
func MapType(odataType string) (*Property, error) {
	return KindOf(odataType).JSONSchema()
}

// SchemaMappingError is returned for a kind outside the EdmKind enumeration
type SchemaMappingError struct {
	Kind     EdmKind
	Property string
}

func (e *SchemaMappingError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("no JSON schema mapping for %s (property %s)", e.Kind, e.Property)
	}
	return fmt.Sprintf("no JSON schema mapping for %s", e.Kind)
}
