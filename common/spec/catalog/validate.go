package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Hibiki/common/spec/schema"
)

//go:embed schema.json
var schemaJSON []byte

//go:embed example.yaml
var exampleYAML []byte

const schemaURL = "https://hibiki.local/schema/catalog-v1.json"

// Parse decodes a catalog YAML document, validates it against the JSON
// Schema and then checks cross references.
func Parse(data []byte) (*Catalog, error) {
	if err := schema.ValidateYAML(schemaURL, schemaJSON, data); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog parse: %w", err)
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads and parses the catalog file at path. An empty path returns the
// embedded example catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(exampleYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

// Example returns the embedded example catalog document.
func Example() []byte {
	out := make([]byte, len(exampleYAML))
	copy(out, exampleYAML)
	return out
}

// Validate checks a Catalog for semantic correctness. It returns the first
// error encountered.
func Validate(c *Catalog) error {
	if c == nil {
		return fmt.Errorf("catalog must not be nil")
	}
	if c.APIVersion != SpecVersion {
		return fmt.Errorf("apiVersion must be %q, got %q", SpecVersion, c.APIVersion)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("providers must not be empty")
	}

	providers := make(map[string]struct{}, len(c.Providers))
	defaults := 0
	for i, p := range c.Providers {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("providers[%d]: id must not be empty", i)
		}
		if strings.TrimSpace(p.Identity) == "" {
			return fmt.Errorf("providers[%d] (%q): identity must not be empty", i, p.ID)
		}
		if _, dup := providers[p.ID]; dup {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID)
		}
		providers[p.ID] = struct{}{}
		if p.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("providers: at most one default provider allowed, got %d", defaults)
	}

	seen := make(map[string]struct{}, len(c.Commands))
	for i, cmd := range c.Commands {
		if !strings.HasPrefix(cmd.Command, "/") {
			return fmt.Errorf("commands[%d] (%q): command must start with '/'", i, cmd.Command)
		}
		if cmd.Command != strings.ToLower(cmd.Command) {
			return fmt.Errorf("commands[%d] (%q): command must be lower case", i, cmd.Command)
		}
		if _, dup := seen[cmd.Command]; dup {
			return fmt.Errorf("commands[%d]: duplicate command %q", i, cmd.Command)
		}
		seen[cmd.Command] = struct{}{}

		if cmd.Provider != "" {
			if _, ok := providers[cmd.Provider]; !ok {
				return fmt.Errorf("commands[%d] (%q): unknown provider %q", i, cmd.Command, cmd.Provider)
			}
		} else if defaults == 0 {
			return fmt.Errorf("commands[%d] (%q): no provider and no default provider", i, cmd.Command)
		}

		if cmd.MaxArgs > 0 && cmd.MinArgs > cmd.MaxArgs {
			return fmt.Errorf("commands[%d] (%q): minArgs (%d) exceeds maxArgs (%d)",
				i, cmd.Command, cmd.MinArgs, cmd.MaxArgs)
		}
		if cmd.Pattern != "" {
			if _, err := regexp.Compile(cmd.Pattern); err != nil {
				return fmt.Errorf("commands[%d] (%q): pattern: %w", i, cmd.Command, err)
			}
		}
	}
	return nil
}
