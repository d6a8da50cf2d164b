package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"jd-summary-service/internal/entity"
)

// BuildSummarySchema returns the StructuredResult JSON-Schema. It is sent to
// the provider as an output constraint and used locally to validate whatever
// actually comes back.
func BuildSummarySchema() map[string]any {
	stringArray := map[string]any{
		"type":     "array",
		"items":    map[string]any{"type": "string", "minLength": 1},
		"maxItems": 20,
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"brand_name":       map[string]any{"type": "string"},
			"position_name":    map[string]any{"type": "string"},
			"career_type":      map[string]any{"type": "string"},
			"summary":          map[string]any{"type": "string", "minLength": 1},
			"insight":          map[string]any{"type": "string", "minLength": 1},
			"responsibilities": stringArray,
			"qualifications":   stringArray,
			"preferred":        stringArray,
			"tech_stack":       stringArray,
		},
		"required": []string{"summary", "insight"},
	}
}

// ParseResult validates raw model output against the schema and decodes it.
// Every failure here is ErrParse: the provider answered, the content is the
// problem.
func ParseResult(raw []byte) (entity.StructuredResult, error) {
	schemaBytes, err := json.Marshal(BuildSummarySchema())
	if err != nil {
		return entity.StructuredResult{}, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("summary.json", bytes.NewReader(schemaBytes)); err != nil {
		return entity.StructuredResult{}, err
	}
	schema, err := compiler.Compile("summary.json")
	if err != nil {
		return entity.StructuredResult{}, err
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return entity.StructuredResult{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if err := schema.Validate(v); err != nil {
		return entity.StructuredResult{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var result entity.StructuredResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return entity.StructuredResult{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return result, nil
}
