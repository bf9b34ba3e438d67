package verifiers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// SchemaVerifier checks required-field presence and primitive types on the
// tool's JSON output. Any violation blocks.
type SchemaVerifier struct {
	name   string
	order  string
	schema *jsonschema.Schema
}

// NewSchemaVerifier compiles a schema from required fields and a
// property-to-type map. Supported types: string, number, boolean, object,
// array.
func NewSchemaVerifier(name, order string, required []string, properties map[string]string) (*SchemaVerifier, error) {
	doc := map[string]any{"type": "object"}
	if len(required) > 0 {
		doc["required"] = required
	}
	if len(properties) > 0 {
		props := make(map[string]any, len(properties))
		for field, typ := range properties {
			props[field] = map[string]any{"type": typ}
		}
		doc["properties"] = props
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("verifiers: encode schema %q: %w", name, err)
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("verifiers: compile schema %q: %w", name, err)
	}
	return &SchemaVerifier{name: name, order: order, schema: schema}, nil
}

func (v *SchemaVerifier) Name() string  { return v.name }
func (v *SchemaVerifier) Order() string { return v.order }

func (v *SchemaVerifier) Verify(ctx context.Context, tool string, args json.RawMessage, result string) Verdict {
	var value any
	if err := json.Unmarshal([]byte(result), &value); err != nil {
		return Verdict{
			Outcome:  models.OutcomeBlock,
			Verifier: v.name,
			Message:  fmt.Sprintf("result is not valid JSON: %v", err),
		}
	}
	if err := v.schema.Validate(value); err != nil {
		return Verdict{
			Outcome:  models.OutcomeBlock,
			Verifier: v.name,
			Message:  err.Error(),
		}
	}
	return Verdict{Outcome: models.OutcomePass, Verifier: v.name}
}

var _ Verifier = (*SchemaVerifier)(nil)
