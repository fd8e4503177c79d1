package singer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/zmcp/tap-aptem/internal/schema"
)

// Validator checks records against their stream's JSON schema
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewValidator returns an empty Validator
func NewValidator() *Validator {
	return &Validator{schemas: make(map[string]*gojsonschema.Schema)}
}

// Register compiles the schema of stream
func (v *Validator) Register(stream string, s *schema.Property) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s))
	if err != nil {
		return fmt.Errorf("compile schema of %s: %w", stream, err)
	}
	v.mu.Lock()
	v.schemas[stream] = compiled
	v.mu.Unlock()
	return nil
}

// Validate returns an error listing every violation of record. Streams
// without a registered schema always pass.
func (v *Validator) Validate(stream string, record map[string]interface{}) error {
	v.mu.RLock()
	compiled, ok := v.schemas[stream]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(record))
	if err != nil {
		return fmt.Errorf("validate %s record: %w", stream, err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("%s record does not match schema: %s", stream, strings.Join(problems, "; "))
}
