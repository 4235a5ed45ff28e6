package catalog_test

import (
	"strings"
	"testing"

	"github.com/bdobrica/Hibiki/common/spec/catalog"
)

const minimalValid = `
apiVersion: catalog/v1
providers:
  - id: echo
    identity: "@echo:example.org"
    default: true
`

func TestParse_MinimalValid(t *testing.T) {
	c, err := catalog.Parse([]byte(minimalValid))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.Providers) != 1 || c.Providers[0].Identity != "@echo:example.org" {
		t.Errorf("unexpected providers: %+v", c.Providers)
	}
}

func TestLoad_Example(t *testing.T) {
	c, err := catalog.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.AllowUnlisted {
		t.Error("example catalog should allow unlisted commands")
	}
	if len(c.Commands) != 4 {
		t.Errorf("got %d commands, want 4", len(c.Commands))
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name    string
		doc     string
		wantSub string
	}{
		{
			name:    "wrong version",
			doc:     "apiVersion: catalog/v2\nproviders: [{id: a, identity: '@a:x'}]\n",
			wantSub: "schema",
		},
		{
			name: "duplicate provider",
			doc: `
apiVersion: catalog/v1
providers:
  - {id: a, identity: "@a:x"}
  - {id: a, identity: "@b:x"}
`,
			wantSub: "duplicate id",
		},
		{
			name: "two defaults",
			doc: `
apiVersion: catalog/v1
providers:
  - {id: a, identity: "@a:x", default: true}
  - {id: b, identity: "@b:x", default: true}
`,
			wantSub: "at most one default",
		},
		{
			name: "unknown provider",
			doc: `
apiVersion: catalog/v1
providers: [{id: a, identity: "@a:x"}]
commands:
  - {command: /x, provider: nope}
`,
			wantSub: "unknown provider",
		},
		{
			name: "no default for command",
			doc: `
apiVersion: catalog/v1
providers: [{id: a, identity: "@a:x"}]
commands:
  - {command: /x}
`,
			wantSub: "no default provider",
		},
		{
			name: "duplicate command",
			doc: `
apiVersion: catalog/v1
providers: [{id: a, identity: "@a:x", default: true}]
commands:
  - {command: /x}
  - {command: /x}
`,
			wantSub: "duplicate command",
		},
		{
			name: "min above max",
			doc: `
apiVersion: catalog/v1
providers: [{id: a, identity: "@a:x", default: true}]
commands:
  - {command: /x, minArgs: 3, maxArgs: 1}
`,
			wantSub: "exceeds maxArgs",
		},
		{
			name: "bad pattern",
			doc: `
apiVersion: catalog/v1
providers: [{id: a, identity: "@a:x", default: true}]
commands:
  - {command: /x, pattern: "(unclosed"}
`,
			wantSub: "pattern",
		},
		{
			name: "upper case command",
			doc: `
apiVersion: catalog/v1
providers: [{id: a, identity: "@a:x", default: true}]
commands:
  - {command: /Weather}
`,
			wantSub: "schema",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := catalog.Parse([]byte(tc.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not contain %q", err, tc.wantSub)
			}
		})
	}
}
