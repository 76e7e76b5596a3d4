package consumer

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/manumartinm/ps3-worker/internal/services"
)

//go:embed descriptor.schema.json
var descriptorSchemaJSON []byte

var (
	descriptorSchemaOnce sync.Once
	descriptorSchema     *gojsonschema.Schema
	descriptorSchemaErr  error
)

// Descriptor is the queue message announcing an uploaded PDF.
type Descriptor struct {
	TaskID    string `json:"task_id"`
	Filename  string `json:"filename"`
	MinioPath string `json:"minio_path"`
}

func loadDescriptorSchema() (*gojsonschema.Schema, error) {
	descriptorSchemaOnce.Do(func() {
		descriptorSchema, descriptorSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(descriptorSchemaJSON))
	})
	return descriptorSchema, descriptorSchemaErr
}

// DecodeDescriptor validates body against the descriptor schema and decodes
// it. Task ids and filenames are restricted to a single path segment because
// both become local file names.
func DecodeDescriptor(body []byte) (Descriptor, error) {
	schema, err := loadDescriptorSchema()
	if err != nil {
		return Descriptor{}, fmt.Errorf("load descriptor schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: descriptor is not JSON: %w", services.ErrValidation, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return Descriptor{}, fmt.Errorf("%w: invalid descriptor: %s", services.ErrValidation, strings.Join(problems, "; "))
	}

	var d Descriptor
	if err := json.Unmarshal(body, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: decode descriptor: %w", services.ErrValidation, err)
	}
	if d.Filename == "." || d.Filename == ".." {
		return Descriptor{}, fmt.Errorf("%w: invalid descriptor filename %q", services.ErrValidation, d.Filename)
	}
	return d, nil
}

// Encode renders the descriptor as a queue message body.
func (d Descriptor) Encode() ([]byte, error) {
	return json.Marshal(d)
}
