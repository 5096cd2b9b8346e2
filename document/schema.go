package document

import (
	"errors"
	"fmt"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaViolation is returned when a document does not satisfy its
// collection schema.
var ErrSchemaViolation = errors.New("schema violation")

// Schema is a compiled JSON schema applied to document fields.
type Schema struct {
	source   string
	schema   *gojsonschema.Schema
	required []string
}

// CompileSchema parses a JSON schema document.
func CompileSchema(source string) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	var top struct {
		Required []string `json:"required"`
	}
	if err := gojson.Unmarshal([]byte(source), &top); err != nil {
		return nil, fmt.Errorf("read schema required list: %w", err)
	}

	return &Schema{source: source, schema: compiled, required: top.Required}, nil
}

// Source returns the schema text as supplied.
func (s *Schema) Source() string { return s.source }

// Required returns the top-level required field names.
func (s *Schema) Required() []string { return append([]string(nil), s.required...) }

// Validate checks the document's fields against the schema.
func (s *Schema) Validate(d Document) error {
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(d.ToMap()))
	if err != nil {
		return fmt.Errorf("validate %s: %w", d.ID, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s: %s", ErrSchemaViolation, d.ID, strings.Join(msgs, "; "))
}
