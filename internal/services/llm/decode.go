package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeStructured turns a raw provider reply into a validated JSON document.
// Steps run in a fixed order: ParseJSON, NormalizeEnvelope, schema validation.
func DecodeStructured(content string, schema *Schema) (json.RawMessage, error) {
	doc, err := ParseJSON(content)
	if err != nil {
		return nil, err
	}
	doc = NormalizeEnvelope(doc, schema)
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w (payload snippet: %s)", err, summarizePayloadSnippet(content))
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("re-encode payload: %w", err)
	}
	return json.RawMessage(bytes.TrimSpace(buf.Bytes())), nil
}

// ParseJSON decodes the reply directly and, failing that, from the first
// fenced code block or the outermost object/array slice of the text.
func ParseJSON(content string) (any, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, errors.New("empty payload")
	}

	doc, directErr := unmarshalDocument(trimmed)
	if directErr == nil {
		return doc, nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return nil, fmt.Errorf("%w (payload snippet: %s)", directErr, summarizePayloadSnippet(trimmed))
	}
	doc, err := unmarshalDocument(sanitized)
	if err != nil {
		return nil, fmt.Errorf("%w (sanitized payload snippet: %s)", err, summarizePayloadSnippet(sanitized))
	}
	return doc, nil
}

// NormalizeEnvelope wraps replies into the envelope the schema expects.
//
// For collection schemas: a bare object becomes {env: [obj]}, {env: obj}
// becomes {env: [obj]}, and a bare array becomes {env: arr}. For single-object
// schemas a bare object lacking the envelope key becomes {env: obj}.
func NormalizeEnvelope(doc any, schema *Schema) any {
	if schema == nil || schema.Envelope == "" {
		return doc
	}
	key := schema.Envelope
	switch value := doc.(type) {
	case []any:
		if schema.Collection {
			return map[string]any{key: value}
		}
		if len(value) == 1 {
			return map[string]any{key: value[0]}
		}
		return doc
	case map[string]any:
		inner, ok := value[key]
		if !ok {
			if schema.Collection {
				return map[string]any{key: []any{value}}
			}
			return map[string]any{key: value}
		}
		if schema.Collection {
			if obj, isObj := inner.(map[string]any); isObj {
				wrapped := make(map[string]any, len(value))
				for k, v := range value {
					wrapped[k] = v
				}
				wrapped[key] = []any{obj}
				return wrapped
			}
		}
		return value
	default:
		return doc
	}
}

func unmarshalDocument(payload string) (any, error) {
	decoder := json.NewDecoder(strings.NewReader(payload))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}
	if decoder.More() {
		return nil, errors.New("trailing data after JSON document")
	}
	switch doc.(type) {
	case map[string]any, []any:
		return doc, nil
	default:
		return nil, errors.New("payload is not a JSON object or array")
	}
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(content)
	if block, ok := extractFencedBlock(trimmed); ok {
		trimmed = block
	}
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		if _, err := unmarshalDocument(trimmed); err == nil {
			return trimmed
		}
	}
	objectFirst := true
	if arr, obj := strings.Index(trimmed, "["), strings.Index(trimmed, "{"); arr >= 0 && (obj < 0 || arr < obj) {
		objectFirst = false
	}
	if objectFirst {
		if slice, ok := sliceBetween(trimmed, "{", "}"); ok {
			return slice
		}
		if slice, ok := sliceBetween(trimmed, "[", "]"); ok {
			return slice
		}
		return trimmed
	}
	if slice, ok := sliceBetween(trimmed, "[", "]"); ok {
		return slice
	}
	if slice, ok := sliceBetween(trimmed, "{", "}"); ok {
		return slice
	}
	return trimmed
}

func sliceBetween(content, opening, closing string) (string, bool) {
	start := strings.Index(content, opening)
	if start < 0 {
		return "", false
	}
	end := strings.LastIndex(content, closing)
	if end <= start {
		return "", false
	}
	return strings.TrimSpace(content[start : end+1]), true
}

// extractFencedBlock returns the body of the first ``` fenced block, with an
// optional json language tag removed. An unterminated fence runs to the end.
func extractFencedBlock(content string) (string, bool) {
	start := strings.Index(content, "```")
	if start < 0 {
		return "", false
	}
	body := content[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			body = body[nl+1:]
		}
	} else if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body), true
}

func summarizePayloadSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
	clean := replacer.Replace(trimmed)
	clean = strings.Join(strings.Fields(clean), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
