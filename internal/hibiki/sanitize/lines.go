package sanitize

import (
	"strings"
	"unicode/utf8"
)

// DedupeLines drops empty lines and every repeated line (compared after
// trimming), keeping the first occurrence and its original indentation.
func DedupeLines(text string) string {
	lines := strings.Split(text, "\n")
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		key := strings.TrimSpace(line)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Truncate shortens text to fit within max runes. The text is cut at max-50
// runes; when a line break exists past 80% of max the cut moves back to it.
// marker is appended to mark the cut.
func Truncate(text string, max int, marker string) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}

	keep := max - 50
	if keep < 0 {
		keep = 0
	}
	runes := []rune(text)
	cut := string(runes[:keep])

	lastNewline := -1
	for i := len(runes[:keep]) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			lastNewline = i
			break
		}
	}

	if float64(lastNewline) > float64(max)*0.8 {
		return string(runes[:lastNewline]) + "\n\n" + marker
	}
	return cut + marker
}
