package evidence

import "github.com/manumartinm/ps3-worker/internal/services/llm"

// Envelope is the top-level key both replies are wrapped in.
const Envelope = "data"

// VariantsSchema validates the discovery reply: {"data": [{gene, variant}]}.
var VariantsSchema = llm.NewSchema("variants", Envelope, true, map[string]any{
	"type": "object",
	"properties": map[string]any{
		Envelope: map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"gene":    map[string]any{"type": "string"},
					"variant": map[string]any{"type": "string"},
				},
				"required": []any{"gene", "variant"},
			},
		},
	},
	"required": []any{Envelope},
})

// ResearchSchema validates the per-variant reply: {"data": {field: {value, explanation}}}.
var ResearchSchema = llm.NewSchema("research_article", Envelope, false, researchDefinition())

func researchDefinition() map[string]any {
	fieldSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value":       map[string]any{"type": []any{"string", "number", "boolean", "null"}},
			"explanation": map[string]any{"type": []any{"string", "null"}},
		},
		"required": []any{"value"},
	}
	properties := make(map[string]any, len(fieldOrder))
	required := make([]any, 0, len(fieldOrder))
	for _, name := range fieldOrder {
		properties[name] = fieldSchema
		required = append(required, name)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			Envelope: map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
		"required": []any{Envelope},
	}
}
