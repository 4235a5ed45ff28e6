// Package rules defines the sanitizer rules table (rules/v1).
//
// The provider bots decorate their answers with branding, progress notices
// and promotional lines that change far more often than the code that strips
// them. Those pattern lists live in this versioned YAML document instead of
// being compiled into the sanitizer. An embedded default ships with the binary.
package rules

// SpecVersion is the API version string required in every rules document.
const SpecVersion = "rules/v1"

// Rules is the root type of a rules document.
type Rules struct {
	// APIVersion must be "rules/v1".
	APIVersion string `yaml:"apiVersion" json:"apiVersion"`

	// Status controls detection of progress/wait notices.
	Status Status `yaml:"status" json:"status"`

	// Strip lists the content removed from every provider text.
	Strip Strip `yaml:"strip" json:"strip"`

	// Truncation configures the marker appended to truncated texts.
	Truncation Truncation `yaml:"truncation,omitempty" json:"truncation,omitempty"`
}

// Status describes what a progress notice looks like.
type Status struct {
	// MaxLength is the longest trimmed text (in runes) that can still be a
	// status notice at all.
	MaxLength int `yaml:"maxLength" json:"maxLength"`

	// MaxLines is the largest line count a status notice may have.
	MaxLines int `yaml:"maxLines" json:"maxLines"`

	// ShortLength bounds texts for which a keyword or glyph alone is enough.
	ShortLength int `yaml:"shortLength" json:"shortLength"`

	// Keywords are matched case-insensitively as substrings.
	Keywords []string `yaml:"keywords" json:"keywords"`

	// Glyphs are emoji or symbols used by progress notices.
	Glyphs []string `yaml:"glyphs" json:"glyphs"`

	// Informative markers veto status detection: a text containing any of
	// them (case-insensitive) is always kept.
	Informative []string `yaml:"informative" json:"informative"`
}

// Strip lists patterns removed from provider text.
type Strip struct {
	// Brands are regular expressions (RE2) removed wherever they match.
	Brands []string `yaml:"brands" json:"brands"`

	// Lines are regular expressions matched per line; a matching line is
	// removed and, in a short text, marks the text as a status notice.
	Lines []string `yaml:"lines" json:"lines"`

	// Decorations are literal glyphs deleted from the text.
	Decorations []string `yaml:"decorations" json:"decorations"`

	// DropLineGlyphs remove every line that contains one of them.
	DropLineGlyphs []string `yaml:"dropLineGlyphs,omitempty" json:"dropLineGlyphs,omitempty"`
}

// Truncation configures long-text truncation.
type Truncation struct {
	// Marker is appended to truncated text.
	Marker string `yaml:"marker,omitempty" json:"marker,omitempty"`
}

// DefaultMarker is used when a document does not set truncation.marker.
const DefaultMarker = "... (texto truncado)"

// MaxMarkerLength bounds truncation.marker in runes. Truncation removes 50
// runes before appending the marker, so a shorter marker always shrinks the
// text.
const MaxMarkerLength = 40
