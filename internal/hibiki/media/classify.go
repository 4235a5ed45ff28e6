// Package media classifies binary attachments received from provider bots.
//
// Bots rarely label their attachments reliably. Classification therefore
// trusts a specific transport hint first, falls back to magic bytes and
// finally to a printable-text heuristic.
package media

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is the coarse attachment category.
type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
)

// Common MIME types.
const (
	MIMEJPEG        = "image/jpeg"
	MIMEPNG         = "image/png"
	MIMEGIF         = "image/gif"
	MIMEPDF         = "application/pdf"
	MIMEText        = "text/plain"
	MIMEMP4         = "video/mp4"
	MIMEMPEG        = "audio/mpeg"
	MIMEOctetStream = "application/octet-stream"
)

// sniffLen is how many leading bytes the text heuristic inspects.
const sniffLen = 512

// printableRatio is the minimum share of printable runes for text/plain.
const printableRatio = 0.95

// Classification is the result of Classify.
type Classification struct {
	Kind Kind   `json:"kind"`
	MIME string `json:"mime"`
}

// Fallback is what callers use when Classify reports no match.
var Fallback = Classification{Kind: KindDocument, MIME: MIMEOctetStream}

var signatures = []struct {
	magic []byte
	class Classification
}{
	{[]byte{0xFF, 0xD8, 0xFF}, Classification{KindImage, MIMEJPEG}},
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, Classification{KindImage, MIMEPNG}},
	{[]byte{0x47, 0x49, 0x46, 0x38}, Classification{KindImage, MIMEGIF}},
	{[]byte{0x25, 0x50, 0x44, 0x46}, Classification{KindDocument, MIMEPDF}},
}

// Classify determines the kind and MIME type of an attachment from an
// optional transport hint (a MIME type or a word such as "photo") and its
// bytes. It reports false when nothing matched; callers then use Fallback.
func Classify(hint string, data []byte) (Classification, bool) {
	if c, ok := fromHint(hint); ok {
		return c, true
	}
	if c, ok := fromMagic(data); ok {
		return c, true
	}
	if looksLikeText(data) {
		return Classification{KindDocument, MIMEText}, true
	}
	return Classification{}, false
}

// ClassifyOrFallback is Classify with Fallback applied.
func ClassifyOrFallback(hint string, data []byte) Classification {
	if c, ok := Classify(hint, data); ok {
		return c
	}
	return Fallback
}

func fromHint(hint string) (Classification, bool) {
	h := strings.ToLower(strings.TrimSpace(hint))
	if h == "" {
		return Classification{}, false
	}

	if c, ok := fromMediaMIME(h); ok {
		return c, true
	}

	switch {
	case strings.Contains(h, "photo") || strings.Contains(h, "image"):
		if strings.Contains(h, "png") {
			return Classification{KindImage, MIMEPNG}, true
		}
		if strings.Contains(h, "gif") {
			return Classification{KindImage, MIMEGIF}, true
		}
		return Classification{KindImage, MIMEJPEG}, true
	case strings.Contains(h, "pdf"):
		return Classification{KindDocument, MIMEPDF}, true
	case strings.HasPrefix(h, "text/"):
		return Classification{KindDocument, MIMEText}, true
	case strings.Contains(h, "video"):
		return Classification{KindVideo, MIMEMP4}, true
	case strings.Contains(h, "audio") || strings.Contains(h, "voice"):
		return Classification{KindAudio, MIMEMPEG}, true
	case strings.HasPrefix(h, "application/") && h != MIMEOctetStream:
		return Classification{KindDocument, h}, true
	}
	return Classification{}, false
}

// fromMediaMIME keeps the subtype of a well-formed image, video or audio
// MIME hint such as image/webp.
func fromMediaMIME(h string) (Classification, bool) {
	if i := strings.IndexByte(h, ';'); i >= 0 {
		h = strings.TrimSpace(h[:i])
	}
	family, sub, ok := strings.Cut(h, "/")
	if !ok || sub == "" || strings.ContainsAny(sub, " /\t") {
		return Classification{}, false
	}
	switch Kind(family) {
	case KindImage, KindVideo, KindAudio:
	default:
		return Classification{}, false
	}
	if h == "image/jpg" {
		h = MIMEJPEG
	}
	return Classification{Kind(family), h}, true
}

func fromMagic(data []byte) (Classification, bool) {
	if len(data) == 0 {
		return Classification{}, false
	}
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.magic) {
			return sig.class, true
		}
	}

	// Wider signature coverage for formats the table above does not know.
	// Text is left to looksLikeText so both paths agree on what text is.
	detected := mimetype.Detect(data)
	mime := detected.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		return Classification{KindImage, mime}, true
	case strings.HasPrefix(mime, "video/"):
		return Classification{KindVideo, mime}, true
	case strings.HasPrefix(mime, "audio/"):
		return Classification{KindAudio, mime}, true
	case strings.HasPrefix(mime, "application/") && mime != MIMEOctetStream:
		return Classification{KindDocument, mime}, true
	}
	return Classification{}, false
}

// looksLikeText reports whether at least 95% of the runes in the first 512
// bytes are printable ASCII, common whitespace or valid non-ASCII UTF-8.
func looksLikeText(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > sniffLen {
		sample = sample[:sniffLen]
	}

	total, printable := 0, 0
	for len(sample) > 0 {
		r, size := utf8.DecodeRune(sample)
		if r == utf8.RuneError && size == 1 && !utf8.FullRune(sample) {
			// Multi-byte rune cut by the sample boundary.
			break
		}
		sample = sample[size:]
		total++
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			printable++
		case r >= 0x20 && r <= 0x7E:
			printable++
		case r >= 0x80 && r != utf8.RuneError:
			printable++
		}
	}
	if total == 0 {
		return false
	}
	return float64(printable)/float64(total) >= printableRatio
}

// Extension returns a file extension (without dot) for a MIME type.
func Extension(mime string) string {
	switch mime {
	case MIMEPDF:
		return "pdf"
	case MIMEText:
		return "txt"
	case MIMEJPEG:
		return "jpg"
	case MIMEPNG:
		return "png"
	case MIMEGIF:
		return "gif"
	case MIMEMP4:
		return "mp4"
	case MIMEMPEG:
		return "mp3"
	}
	if m := mimetype.Lookup(mime); m != nil && m.Extension() != "" {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	if strings.HasPrefix(mime, "application/") {
		sub := strings.TrimPrefix(mime, "application/")
		if sub != "" && sub != "octet-stream" && !strings.ContainsAny(sub, "/;+ ") {
			return sub
		}
	}
	return "bin"
}
