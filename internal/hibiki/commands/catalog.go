package commands

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bdobrica/Hibiki/common/spec/catalog"
)

type entry struct {
	spec    catalog.Command
	pattern *regexp.Regexp
	target  string
}

// Catalog is a validated, indexed command catalog. It is read-only after
// construction and safe for concurrent use.
type Catalog struct {
	allowUnlisted bool
	defaultTarget string
	providers     []catalog.Provider
	entries       map[string]entry
}

// NewCatalog indexes doc after validating it.
func NewCatalog(doc *catalog.Catalog) (*Catalog, error) {
	if err := catalog.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	identities := make(map[string]string, len(doc.Providers))
	c := &Catalog{
		allowUnlisted: doc.AllowUnlisted,
		providers:     append([]catalog.Provider(nil), doc.Providers...),
		entries:       make(map[string]entry, len(doc.Commands)),
	}
	for _, p := range doc.Providers {
		identities[p.ID] = p.Identity
		if p.Default {
			c.defaultTarget = p.Identity
		}
	}

	for _, cmd := range doc.Commands {
		e := entry{spec: cmd, target: c.defaultTarget}
		if cmd.Provider != "" {
			e.target = identities[cmd.Provider]
		}
		if cmd.Pattern != "" {
			e.pattern = regexp.MustCompile(cmd.Pattern)
		}
		c.entries[cmd.Command] = e
	}
	return c, nil
}

// Validate checks cmd against the catalog entry for its name.
func (c *Catalog) Validate(cmd *Command) error {
	e, ok := c.entries[cmd.Name]
	if !ok {
		if c.allowUnlisted && c.defaultTarget != "" {
			return nil
		}
		return &Error{Code: CodeUnknownCommand, Message: fmt.Sprintf("unknown command %s", cmd.Name)}
	}

	n := len(cmd.Args)
	switch {
	case n < e.spec.MinArgs:
		return &Error{
			Code:    CodeInvalidArguments,
			Message: fmt.Sprintf("%s needs at least %d argument(s), got %d", cmd.Name, e.spec.MinArgs, n),
			Format:  e.spec.ArgsFormat,
		}
	case e.spec.MaxArgs > 0 && n > e.spec.MaxArgs:
		return &Error{
			Code:    CodeInvalidArguments,
			Message: fmt.Sprintf("%s takes at most %d argument(s), got %d", cmd.Name, e.spec.MaxArgs, n),
			Format:  e.spec.ArgsFormat,
		}
	}
	if e.pattern != nil && n > 0 && !e.pattern.MatchString(cmd.Args[0]) {
		return &Error{
			Code:    CodeInvalidArguments,
			Message: fmt.Sprintf("invalid argument %q for %s", cmd.Args[0], cmd.Name),
			Format:  e.spec.ArgsFormat,
		}
	}
	return nil
}

// ProviderRaw renders cmd the way the provider bot expects it.
func (c *Catalog) ProviderRaw(cmd *Command) string {
	name := cmd.Name
	if e, ok := c.entries[cmd.Name]; ok && e.spec.ProviderCommand != "" {
		name = e.spec.ProviderCommand
	}
	if len(cmd.Args) == 0 {
		return name
	}
	return name + " " + strings.Join(cmd.Args, " ")
}

// LookupTarget returns the identity of the bot serving command.
func (c *Catalog) LookupTarget(command string) (string, bool) {
	if e, ok := c.entries[command]; ok {
		return e.target, e.target != ""
	}
	if c.allowUnlisted && c.defaultTarget != "" {
		return c.defaultTarget, true
	}
	return "", false
}

// List returns the catalog commands sorted by name.
func (c *Catalog) List() []catalog.Command {
	out := make([]catalog.Command, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Providers returns the configured provider bots.
func (c *Catalog) Providers() []catalog.Provider {
	return append([]catalog.Provider(nil), c.providers...)
}
