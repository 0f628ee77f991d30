package credential

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ClaimSchemas holds optional JSON Schemas for the claims of each credential type.
// Types without a schema accept any claims.
type ClaimSchemas struct {
	mu      sync.RWMutex
	schemas map[Type]*gojsonschema.Schema
}

func NewClaimSchemas() *ClaimSchemas {
	return &ClaimSchemas{schemas: make(map[Type]*gojsonschema.Schema)}
}

// Register compiles schemaJSON and binds it to t.
func (c *ClaimSchemas) Register(t Type, schemaJSON string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", t, err)
	}

	c.mu.Lock()
	c.schemas[t] = schema
	c.mu.Unlock()

	return nil
}

// Validate checks claims against the schema registered for t.
func (c *ClaimSchemas) Validate(t Type, claims map[string]any) error {
	c.mu.RLock()
	schema, ok := c.schemas[t]
	c.mu.RUnlock()

	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(claims))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidClaims, err)
	}

	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidClaims, strings.Join(reasons, "; "))
	}

	return nil
}
