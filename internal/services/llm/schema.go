package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema declares the expected shape of a structured reply.
//
// Envelope names the top-level key wrapping the payload ("data"). When
// Collection is true the envelope holds a list and single objects returned by
// a provider are wrapped into a one-element list before validation.
type Schema struct {
	Name       string
	Envelope   string
	Collection bool
	Definition map[string]any

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// NewSchema builds a Schema from a JSON Schema document.
func NewSchema(name, envelope string, collection bool, definition map[string]any) *Schema {
	return &Schema{Name: name, Envelope: envelope, Collection: collection, Definition: definition}
}

// Validate checks a decoded JSON document against the schema definition.
func (s *Schema) Validate(doc any) error {
	if s == nil || len(s.Definition) == 0 {
		return nil
	}
	s.once.Do(s.compile)
	if s.err != nil {
		return s.err
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("schema %s: %w", s.Name, err)
	}
	return nil
}

func (s *Schema) compile() {
	raw, err := json.Marshal(s.Definition)
	if err != nil {
		s.err = fmt.Errorf("schema %s: marshal: %w", s.Name, err)
		return
	}
	resource := s.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		s.err = fmt.Errorf("schema %s: add resource: %w", s.Name, err)
		return
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		s.err = fmt.Errorf("schema %s: compile: %w", s.Name, err)
		return
	}
	s.compiled = compiled
}
