package llm

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

var researchTestSchema = NewSchema("research_test", "data", false, map[string]any{
	"type": "object",
	"properties": map[string]any{
		"data": map[string]any{
			"type":     "object",
			"required": []any{"gene"},
		},
	},
	"required": []any{"data"},
})

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "direct object", input: `{"a":1}`, want: `{"a":1}`},
		{name: "direct array", input: ` [1,2] `, want: `[1,2]`},
		{name: "fenced json", input: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "fence inside prose", input: "Result below.\n```\n{\"a\":[1]}\n```\nThanks", want: `{"a":[1]}`},
		{name: "object slice", input: `Sure! {"a":{"b":2}} hope that helps`, want: `{"a":{"b":2}}`},
		{name: "array slice", input: `answer: [{"a":1}] done`, want: `[{"a":1}]`},
		{name: "unterminated fence", input: "```json\n{\"a\":1}", want: `{"a":1}`},
		{name: "empty", input: "   ", wantErr: true},
		{name: "prose only", input: "no json here", wantErr: true},
		{name: "scalar", input: "42", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := ParseJSON(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", doc)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseJSON: %v", err)
			}
			raw, _ := json.Marshal(doc)
			if got := compactJSON(raw); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestParseJSONKeepsNumberPrecision(t *testing.T) {
	doc, err := ParseJSON(`{"n":12345678901234567890}`)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	n, ok := doc.(map[string]any)["n"].(json.Number)
	if !ok || n.String() != "12345678901234567890" {
		t.Fatalf("expected json.Number, got %#v", doc.(map[string]any)["n"])
	}
}

func TestNormalizeEnvelope(t *testing.T) {
	collection := &Schema{Name: "c", Envelope: "data", Collection: true}
	single := &Schema{Name: "s", Envelope: "data"}
	tests := []struct {
		name   string
		input  string
		schema *Schema
		want   string
	}{
		{name: "collection bare object", input: `{"gene":"A"}`, schema: collection, want: `{"data":[{"gene":"A"}]}`},
		{name: "collection keyed object", input: `{"data":{"gene":"A"}}`, schema: collection, want: `{"data":[{"gene":"A"}]}`},
		{name: "collection bare array", input: `[{"gene":"A"}]`, schema: collection, want: `{"data":[{"gene":"A"}]}`},
		{name: "collection already wrapped", input: `{"data":[{"gene":"A"}]}`, schema: collection, want: `{"data":[{"gene":"A"}]}`},
		{name: "single bare object", input: `{"gene":"A"}`, schema: single, want: `{"data":{"gene":"A"}}`},
		{name: "single already wrapped", input: `{"data":{"gene":"A"}}`, schema: single, want: `{"data":{"gene":"A"}}`},
		{name: "no envelope", input: `{"gene":"A"}`, schema: &Schema{Name: "n"}, want: `{"gene":"A"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := ParseJSON(tc.input)
			if err != nil {
				t.Fatalf("ParseJSON: %v", err)
			}
			raw, _ := json.Marshal(NormalizeEnvelope(doc, tc.schema))
			if got := compactJSON(raw); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestDecodeStructured(t *testing.T) {
	raw, err := DecodeStructured("```json\n{\"gene\":\"BRCA1\",\"score\":0.5}\n```", researchTestSchema)
	if err != nil {
		t.Fatalf("DecodeStructured: %v", err)
	}
	if got := compactJSON(raw); got != `{"data":{"gene":"BRCA1","score":0.5}}` {
		t.Fatalf("unexpected document %s", got)
	}
}

func TestDecodeStructuredSchemaRejects(t *testing.T) {
	_, err := DecodeStructured(`{"data":{"variant":"c.1A>G"}}`, researchTestSchema)
	if err == nil {
		t.Fatal("expected schema validation failure")
	}
	if !strings.Contains(err.Error(), "payload snippet") {
		t.Fatalf("expected snippet in error, got %v", err)
	}
}

func TestSummarizePayloadSnippetTruncates(t *testing.T) {
	long := strings.Repeat("é", 200)
	got := summarizePayloadSnippet(long)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != 163 {
		t.Fatalf("unexpected snippet length %d", len([]rune(got)))
	}
	if summarizePayloadSnippet("  \n") != "<empty>" {
		t.Fatal("expected <empty> marker")
	}
}

func compactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
