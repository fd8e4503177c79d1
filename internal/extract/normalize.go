package extract

import (
	"strings"

	"github.com/zmcp/tap-aptem/internal/constants"
	"github.com/zmcp/tap-aptem/internal/schema"
	"github.com/zmcp/tap-aptem/internal/utils"
)

// normalizeRecord rewrites a record in place so that it matches its schema:
// legacy dates become RFC 3339, quoted numbers become JSON numbers and
// payload annotations are dropped.
func normalizeRecord(record map[string]interface{}, s *schema.Property) map[string]interface{} {
	for key := range record {
		if strings.Contains(key, constants.ODataAnnotationPrefix) || key == constants.V2Metadata {
			delete(record, key)
		}
	}
	if s == nil || s.Properties == nil {
		return record
	}
	for _, e := range s.Properties.Entries() {
		if v, ok := record[e.Name]; ok {
			record[e.Name] = normalizeValue(v, e.Schema)
		}
	}
	return record
}

func normalizeValue(v interface{}, s *schema.Property) interface{} {
	if v == nil || s == nil {
		return v
	}

	switch s.Type.Primary() {
	case schema.TypeString:
		if str, ok := v.(string); ok && s.Format == schema.FormatDateTime && utils.IsODataLegacyDate(str) {
			return utils.ConvertODataLegacyToISO(str)
		}
	case schema.TypeInteger, schema.TypeNumber:
		if str, ok := v.(string); ok {
			if n, ok := utils.ParseNumericString(str, s.Type.Primary() == schema.TypeInteger); ok {
				return n
			}
		}
	case schema.TypeObject:
		if obj, ok := v.(map[string]interface{}); ok {
			return normalizeRecord(obj, s)
		}
	case schema.TypeArray:
		// v2 wraps collections in {"results": [...]}
		if obj, ok := v.(map[string]interface{}); ok {
			if results, ok := obj[constants.V2Results].([]interface{}); ok {
				v = results
			}
		}
		if items, ok := v.([]interface{}); ok {
			for i, item := range items {
				items[i] = normalizeValue(item, s.Items)
			}
			return items
		}
	}
	return v
}
