package schema_test

import (
	"strings"
	"testing"

	"github.com/bdobrica/Hibiki/common/spec/schema"
)

const testSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "count": {"type": "integer", "minimum": 0}
  }
}`

func TestValidateYAML_Valid(t *testing.T) {
	doc := "name: hibiki\ncount: 3\n"
	if err := schema.ValidateYAML("mem://test/valid.json", []byte(testSchema), []byte(doc)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateYAML_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing name":   "count: 1\n",
		"negative count": "name: x\ncount: -1\n",
		"wrong type":     "name: [a, b]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			err := schema.ValidateYAML("mem://test/invalid.json", []byte(testSchema), []byte(doc))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.HasPrefix(err.Error(), "schema:") {
				t.Errorf("error %q should be a schema error", err)
			}
		})
	}
}

func TestValidateYAML_BadYAML(t *testing.T) {
	err := schema.ValidateYAML("mem://test/bad.json", []byte(testSchema), []byte("name: [unclosed"))
	if err == nil || !strings.HasPrefix(err.Error(), "yaml:") {
		t.Fatalf("expected yaml error, got %v", err)
	}
}
