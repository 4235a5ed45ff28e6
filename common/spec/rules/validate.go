package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Hibiki/common/spec/schema"
)

//go:embed schema.json
var schemaJSON []byte

//go:embed default.yaml
var defaultYAML []byte

const schemaURL = "https://hibiki.local/schema/rules-v1.json"

// Parse decodes a rules YAML document, validates it against the JSON Schema
// and then checks that every pattern compiles.
func Parse(data []byte) (*Rules, error) {
	if err := schema.ValidateYAML(schemaURL, schemaJSON, data); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("rules parse: %w", err)
	}
	if err := Validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Load reads and parses the rules file at path. An empty path returns the
// embedded default rules.
func Load(path string) (*Rules, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded rules table.
func Default() (*Rules, error) {
	return Parse(defaultYAML)
}

// DefaultYAML returns a copy of the embedded rules document.
func DefaultYAML() []byte {
	out := make([]byte, len(defaultYAML))
	copy(out, defaultYAML)
	return out
}

// Validate checks a Rules value for semantic correctness.
func Validate(r *Rules) error {
	if r == nil {
		return fmt.Errorf("rules must not be nil")
	}
	if r.APIVersion != SpecVersion {
		return fmt.Errorf("apiVersion must be %q, got %q", SpecVersion, r.APIVersion)
	}

	if r.Status.MaxLength <= 0 || r.Status.MaxLines <= 0 || r.Status.ShortLength <= 0 {
		return fmt.Errorf("status: maxLength, maxLines and shortLength must be positive")
	}
	if r.Status.ShortLength > r.Status.MaxLength {
		return fmt.Errorf("status: shortLength (%d) must not exceed maxLength (%d)",
			r.Status.ShortLength, r.Status.MaxLength)
	}

	for i, p := range r.Strip.Brands {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("strip.brands[%d]: %w", i, err)
		}
	}
	for i, p := range r.Strip.Lines {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("strip.lines[%d]: %w", i, err)
		}
	}
	for i, g := range r.Strip.Decorations {
		if strings.TrimSpace(g) == "" {
			return fmt.Errorf("strip.decorations[%d]: must not be blank", i)
		}
	}
	if n := utf8.RuneCountInString(r.Truncation.Marker); n > MaxMarkerLength {
		return fmt.Errorf("truncation.marker: %d runes, at most %d allowed", n, MaxMarkerLength)
	}
	return nil
}

// Marker returns the truncation marker, falling back to DefaultMarker.
func (r *Rules) Marker() string {
	if r.Truncation.Marker == "" {
		return DefaultMarker
	}
	return r.Truncation.Marker
}
