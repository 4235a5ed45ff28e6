// Package catalog defines the command catalog document (catalog/v1).
//
// The catalog maps the commands users type to the commands understood by a
// provider bot, validates their arguments and names the bot identity that
// serves each command.
package catalog

// SpecVersion is the API version string required in every catalog document.
const SpecVersion = "catalog/v1"

// Catalog is the root type of a catalog document.
type Catalog struct {
	// APIVersion must be "catalog/v1".
	APIVersion string `yaml:"apiVersion" json:"apiVersion"`

	// AllowUnlisted forwards commands missing from Commands to the default
	// provider unchanged. When false such commands are rejected.
	AllowUnlisted bool `yaml:"allowUnlisted,omitempty" json:"allowUnlisted,omitempty"`

	// Providers lists the bots commands can be forwarded to.
	Providers []Provider `yaml:"providers" json:"providers"`

	// Commands lists the user-facing commands.
	Commands []Command `yaml:"commands,omitempty" json:"commands,omitempty"`
}

// Provider is a bot on the shared channel.
type Provider struct {
	// ID is referenced from Command.Provider.
	ID string `yaml:"id" json:"id"`

	// Name is a human readable label.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Identity is the transport identity of the bot (a Matrix user ID).
	Identity string `yaml:"identity" json:"identity"`

	// Default marks the provider used for unlisted commands and commands
	// without an explicit provider. At most one provider may be default.
	Default bool `yaml:"default,omitempty" json:"default,omitempty"`
}

// Command describes one user-facing command.
type Command struct {
	// Command is the user-facing command including the leading slash.
	Command string `yaml:"command" json:"command"`

	// ProviderCommand is what the bot expects. Defaults to Command.
	ProviderCommand string `yaml:"providerCommand,omitempty" json:"providerCommand,omitempty"`

	// Provider references Provider.ID. Empty means the default provider.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`

	Category    string `yaml:"category,omitempty" json:"category,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// ArgsFormat is shown to users when validation fails.
	ArgsFormat string `yaml:"argsFormat,omitempty" json:"argsFormat,omitempty"`

	// MinArgs and MaxArgs bound the argument count; MaxArgs 0 is unlimited.
	MinArgs int `yaml:"minArgs,omitempty" json:"minArgs,omitempty"`
	MaxArgs int `yaml:"maxArgs,omitempty" json:"maxArgs,omitempty"`

	// Pattern is an RE2 expression the first argument must match.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}
