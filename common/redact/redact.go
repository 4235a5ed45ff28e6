// Package redact strips sensitive values from log output and audit payloads.
//
// Lookup commands routinely carry personal identifiers (national ID numbers,
// phone numbers, plates) as arguments, and the process itself holds a Matrix
// access token. Neither may appear verbatim in log lines or in the audit log.
// Redaction is best-effort and works on string representations only.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid spurious
// redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Map returns a shallow copy of m with values replaced by [REDACTED] for every
// key whose name suggests it contains a secret. Non-string values are kept.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			if str, ok := v.(string); ok && str != "" {
				out[k] = placeholder
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Arg masks a single command argument, keeping the first two and last
// character so operators can still tell arguments apart: "12345678" becomes
// "12*****8". Arguments of four characters or fewer are fully masked.
func Arg(arg string) string {
	r := []rune(arg)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:2]) + strings.Repeat("*", len(r)-3) + string(r[len(r)-1])
}

// Command masks every argument of a raw "/command arg1 arg2" line while
// keeping the command word itself readable.
func Command(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) <= 1 {
		return strings.TrimSpace(raw)
	}
	out := make([]string, len(fields))
	out[0] = fields[0]
	for i, f := range fields[1:] {
		out[i+1] = Arg(f)
	}
	return strings.Join(out, " ")
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "key", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
