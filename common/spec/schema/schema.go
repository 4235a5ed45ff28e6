// Package schema validates YAML documents against embedded JSON Schemas.
//
// Both the command catalog and the sanitizer rules table are authored as YAML
// but described by JSON Schema. Documents are decoded with yaml.v3, converted
// to their JSON data model and validated with santhosh-tekuri/jsonschema.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

var (
	mu       sync.Mutex
	compiled = map[string]*jsonschema.Schema{}
)

// Compile compiles (and caches) the schema document registered under url.
func Compile(url string, schemaJSON []byte) (*jsonschema.Schema, error) {
	mu.Lock()
	defer mu.Unlock()

	if s, ok := compiled[url]; ok {
		return s, nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	compiled[url] = s
	return s, nil
}

// ValidateYAML decodes a YAML document and validates it against the schema
// registered under url.
func ValidateYAML(url string, schemaJSON, doc []byte) error {
	s, err := Compile(url, schemaJSON)
	if err != nil {
		return err
	}

	var raw any
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return fmt.Errorf("yaml: %w", err)
	}

	// Round-trip through encoding/json so the validator sees the JSON data
	// model (float64 numbers, map[string]any objects).
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("convert to json: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("convert to json: %w", err)
	}

	if err := s.Validate(v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
