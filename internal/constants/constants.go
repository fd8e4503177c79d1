package constants

import (
	"fmt"
	"strings"
)

// EdmxNamespaceV4 is the namespace of v4 metadata documents
const EdmxNamespaceV4 = "http://docs.oasis-open.org/odata/ns/edmx"

// OData primitive type names
const (
	EdmString         = "Edm.String"
	EdmBoolean        = "Edm.Boolean"
	EdmByte           = "Edm.Byte"
	EdmSByte          = "Edm.SByte"
	EdmInt16          = "Edm.Int16"
	EdmInt32          = "Edm.Int32"
	EdmInt64          = "Edm.Int64"
	EdmDecimal        = "Edm.Decimal"
	EdmDouble         = "Edm.Double"
	EdmSingle         = "Edm.Single"
	EdmDateTime       = "Edm.DateTime"
	EdmDateTimeOffset = "Edm.DateTimeOffset"
	EdmDate           = "Edm.Date"
	EdmTimeOfDay      = "Edm.TimeOfDay"
	EdmTime           = "Edm.Time"
	EdmDuration       = "Edm.Duration"
	EdmGUID           = "Edm.Guid"
	EdmBinary         = "Edm.Binary"
)

// CollectionPrefix wraps the element type of a collection-valued property
const CollectionPrefix = "Collection("

// OData system query options
const (
	QueryFilter  = "$filter"
	QuerySelect  = "$select"
	QueryOrderBy = "$orderby"
	QueryTop     = "$top"
	QuerySkip    = "$skip"
)

// HTTP headers
const (
	Accept         = "Accept"
	UserAgent      = "User-Agent"
	APITokenHeader = "X-API-Token"
)

// Content types
const (
	ContentTypeXML         = "application/xml"
	ContentTypeODataJSONV4 = "application/json;odata.metadata=minimal"
)

// OData endpoints
const (
	MetadataEndpoint = "$metadata"
)

// OData JSON payload members
const (
	ODataAnnotationPrefix = "@odata."
	ODataNextLink         = "@odata.nextLink"
	ODataValue            = "value"
	ODataError            = "error"

	// v2 verbose JSON
	V2Wrapper  = "d"
	V2Results  = "results"
	V2Next     = "__next"
	V2Metadata = "__metadata"
)

// Aptem service
const (
	AptemBaseURLTemplate = "https://%s.aptem.co.uk/odata/1.0"
	TapName              = "tap-aptem"
)

// Default values
const (
	DefaultUserAgent         = "tap-aptem/1.0 (Go)"
	DefaultTimeout           = 300 // seconds - metadata for large tenants is slow
	DefaultPageSize          = 100000
	DefaultRequestsPerSecond = 10.0
	DefaultRateBurst         = 5
	DefaultMaxRetries        = 3
)

// EntityPageSizes holds the largest $top the Aptem API accepts for entity
// sets that reject the default page size.
var EntityPageSizes = map[string]int{
	"LearningPlanEvidences": 5000,
	"ReviewResponses":       5000,
	"Users":                 1000,
}

// DefaultReplicationKeyCandidates are property names tried, in order, when
// choosing the replication key of a stream.
var DefaultReplicationKeyCandidates = []string{"UpdatedDate", "CreatedDate"}

// AptemBaseURL returns the OData service root for a tenant
func AptemBaseURL(tenant string) string {
	return fmt.Sprintf(AptemBaseURLTemplate, strings.TrimSpace(tenant))
}

// PageSize returns the page size for an entity set. Overrides win over the
// built-in table, which wins over fallback.
func PageSize(entitySet string, overrides map[string]int, fallback int) int {
	if size, ok := overrides[entitySet]; ok && size > 0 {
		return size
	}
	if size, ok := EntityPageSizes[entitySet]; ok {
		return size
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultPageSize
}
