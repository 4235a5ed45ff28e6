// Package sanitize cleans the free text returned by provider bots.
//
// Bots interleave progress notices ("consultando...", an hourglass glyph),
// branding, promotional footers and chat markdown with the actual answer.
// The Sanitizer removes all of it using the patterns from a rules table and
// reports when nothing useful is left.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bdobrica/Hibiki/common/spec/rules"
)

// Options controls a single Clean call.
type Options struct {
	// CheckStatus suppresses progress notices entirely.
	CheckStatus bool
	// RemoveDuplicateLines drops repeated and empty lines, keeping the first
	// occurrence of each.
	RemoveDuplicateLines bool
	// MaxLength truncates the result (in runes) when positive.
	MaxLength int
}

// DefaultOptions mirrors how provider replies are cleaned: status notices are
// suppressed, duplicate lines removed and no truncation applied.
var DefaultOptions = Options{CheckStatus: true, RemoveDuplicateLines: true}

// maxRounds caps the Clean loop. Each step shrinks the text whenever
// MaxLength exceeds the truncation marker, so the cap only matters for
// degenerate limits.
const maxRounds = 32

var (
	reBold       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	reItalicLine = regexp.MustCompile(`(?m)^\*([^*\n]+)\*$`)
	reBoldLabel  = regexp.MustCompile(`\*([A-Za-zÁÉÍÓÚÑáéíóúñ\s]+):\*`)
	reBacktick   = regexp.MustCompile("`([^`]*)`")
	reBlankRuns  = regexp.MustCompile(`\n{3,}`)
	reSpaceRuns  = regexp.MustCompile(` {2,}`)
	reSymbolLine = regexp.MustCompile(`(?m)^[-_*=~]{3,}$`)
	reAlnum      = regexp.MustCompile(`[a-zA-Z0-9]`)
	crlfReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

// Sanitizer applies a compiled rules table. It is safe for concurrent use.
type Sanitizer struct {
	rules       *rules.Rules
	brands      []*regexp.Regexp
	lines       []*regexp.Regexp
	keywords    []string
	informative []string
	marker      string
}

// New compiles r into a Sanitizer.
func New(r *rules.Rules) (*Sanitizer, error) {
	if err := rules.Validate(r); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}

	s := &Sanitizer{rules: r, marker: r.Marker()}
	for _, p := range r.Strip.Brands {
		s.brands = append(s.brands, regexp.MustCompile(p))
	}
	for _, p := range r.Strip.Lines {
		s.lines = append(s.lines, regexp.MustCompile(p))
	}
	for _, k := range r.Status.Keywords {
		s.keywords = append(s.keywords, strings.ToLower(k))
	}
	for _, k := range r.Status.Informative {
		s.informative = append(s.informative, strings.ToLower(k))
	}
	return s, nil
}

// NewDefault returns a Sanitizer for the embedded default rules.
func NewDefault() (*Sanitizer, error) {
	r, err := rules.Default()
	if err != nil {
		return nil, err
	}
	return New(r)
}

// IsStatus reports whether text is a pure progress/wait notice.
//
// Long or multi-line texts are never notices, and neither is anything that
// carries an informative marker such as an error or a "not found" answer.
func (s *Sanitizer) IsStatus(text string) bool {
	trimmed := strings.TrimSpace(crlfReplacer.Replace(text))
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)

	for _, marker := range s.informative {
		if strings.Contains(lower, marker) {
			return false
		}
	}

	n := utf8.RuneCountInString(trimmed)
	if n > s.rules.Status.MaxLength {
		return false
	}
	if strings.Count(trimmed, "\n")+1 > s.rules.Status.MaxLines {
		return false
	}

	if n < s.rules.Status.ShortLength {
		for _, k := range s.keywords {
			if strings.Contains(lower, k) {
				return true
			}
		}
		for _, g := range s.rules.Status.Glyphs {
			if strings.Contains(trimmed, g) {
				return true
			}
		}
	}

	for _, line := range strings.Split(trimmed, "\n") {
		for _, re := range s.lines {
			if re.MatchString(line) {
				return true
			}
		}
	}
	return false
}

// Clean returns the cleaned form of raw and whether any usable text remains.
// Clean is idempotent: cleaning an already cleaned text returns it unchanged.
func (s *Sanitizer) Clean(raw string, opts Options) (string, bool) {
	raw = crlfReplacer.Replace(raw)
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	if opts.CheckStatus && s.IsStatus(raw) {
		return "", false
	}

	// Truncating or dropping a duplicate line can expose a new pattern
	// match, so the three steps repeat together until nothing changes.
	text := s.clean(raw)
	for round := 0; round < maxRounds; round++ {
		next := text
		if opts.MaxLength > 0 {
			next = Truncate(next, opts.MaxLength, s.marker)
		}
		if opts.RemoveDuplicateLines {
			next = DedupeLines(next)
		}
		next = s.clean(next)
		if next == text {
			break
		}
		text = next
	}

	if text == "" || !reAlnum.MatchString(text) {
		return "", false
	}
	// Stripping can turn a long text into a short notice.
	if opts.CheckStatus && s.IsStatus(text) {
		return "", false
	}
	return text, true
}

// clean runs the stripping pipeline until the text stops changing.
func (s *Sanitizer) clean(text string) string {
	for {
		next := s.cleanOnce(text)
		if next == text {
			return text
		}
		text = next
	}
}

func (s *Sanitizer) cleanOnce(text string) string {
	for _, re := range s.brands {
		text = re.ReplaceAllString(text, "")
	}

	text = s.filterLines(text)

	for _, g := range s.rules.Strip.Decorations {
		text = strings.ReplaceAll(text, g, "")
	}

	text = reBold.ReplaceAllString(text, "$1")
	text = reItalicLine.ReplaceAllString(text, "$1")
	text = reBoldLabel.ReplaceAllString(text, "$1:")
	text = reBacktick.ReplaceAllString(text, "$1")

	text = reSpaceRuns.ReplaceAllString(text, " ")
	text = reSymbolLine.ReplaceAllString(text, "")
	text = trimLineEnds(text)
	text = reBlankRuns.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// filterLines blanks denylisted lines and lines holding a drop glyph.
func (s *Sanitizer) filterLines(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if s.dropLine(line) {
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

func (s *Sanitizer) dropLine(line string) bool {
	for _, g := range s.rules.Strip.DropLineGlyphs {
		if strings.Contains(line, g) {
			return true
		}
	}
	for _, re := range s.lines {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// trimLineEnds removes trailing blanks from every line so that removed
// fragments do not leave dangling whitespace behind.
func trimLineEnds(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
