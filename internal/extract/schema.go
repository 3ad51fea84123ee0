package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildUnitRecordJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. It is sent to the recognition service as a structured output
// hint and reused locally when the table stage re-reads extraction documents.
func BuildUnitRecordJSONSchema() map[string]any {
	stringList := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}

	metadata := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"handwritten_notes": stringList,
			"printed_labels":    stringList,
			"addresses":         stringList,
			"other_markings":    stringList,
		},
	}

	processing := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"image_path":   map[string]any{"type": "string"},
			"directory":    map[string]any{"type": "string"},
			"processed_at": map[string]any{"type": "string"},
			"model_used":   map[string]any{"type": "string"},
		},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"id_number":        map[string]any{"type": "string", "minLength": 1},
			"metadata":         metadata,
			"extraction_notes": map[string]any{"type": "string"},
			"processing_info":  processing,
		},
		"required": []string{"id_number", "metadata"},
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
