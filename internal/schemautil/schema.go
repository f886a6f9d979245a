// Package schemautil validates JSON payloads against embedded JSON Schema
// documents (Draft 2020-12).
package schemautil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrSchemaUnavailable wraps failures to compile the schema itself, as
// opposed to a payload that does not match it.
var ErrSchemaUnavailable = errors.New("schema unavailable")

// Embedded compiles one schema document on first use.
type Embedded struct {
	name         string
	source       string
	assertFormat bool

	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

// NewEmbedded registers source under name. With assertFormat, "format"
// keywords (uri, date-time, ...) are enforced rather than annotations.
func NewEmbedded(name, source string, assertFormat bool) *Embedded {
	return &Embedded{name: name, source: source, assertFormat: assertFormat}
}

func (e *Embedded) Schema() (*jsonschema.Schema, error) {
	e.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = e.assertFormat

		if err := compiler.AddResource(e.name, strings.NewReader(e.source)); err != nil {
			e.err = fmt.Errorf("%w: add %s: %v", ErrSchemaUnavailable, e.name, err)
			return
		}
		schema, err := compiler.Compile(e.name)
		if err != nil {
			e.err = fmt.Errorf("%w: compile %s: %v", ErrSchemaUnavailable, e.name, err)
			return
		}
		e.schema = schema
	})
	return e.schema, e.err
}

// Decode strictly decodes raw, validates it and unmarshals the validated
// value into dst. Numbers keep their exact textual form through validation.
func (e *Embedded) Decode(raw []byte, dst any) error {
	value, err := DecodeStrict(raw)
	if err != nil {
		return fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := e.Schema()
	if err != nil {
		return err
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize payload JSON: %w", err)
	}
	if err := json.Unmarshal(normalized, dst); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// DecodeStrict decodes exactly one JSON value; trailing content is an error.
func DecodeStrict(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}
