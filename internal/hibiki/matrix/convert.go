package matrix

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"maunium.net/go/mautrix/event"
)

var (
	reMxReply     = regexp.MustCompile(`(?s)<mx-reply>.*?</mx-reply>`)
	reQuoteHeader = regexp.MustCompile(`^> <[^>]+> `)
)

// messageText returns the text of a message with any reply fallback
// removed. HTML bodies are converted to markdown so the sanitizer sees the
// same emphasis markers a bot would send over a markdown transport.
func messageText(content *event.MessageEventContent) string {
	if content.Format == event.FormatHTML && content.FormattedBody != "" {
		html := reMxReply.ReplaceAllString(content.FormattedBody, "")
		if md, err := htmltomarkdown.ConvertString(html); err == nil {
			return strings.TrimSpace(md)
		}
	}
	return stripReplyFallback(content.Body)
}

// stripReplyFallback drops the quoted "> <@user> text" block that clients
// prepend to replies.
func stripReplyFallback(body string) string {
	lines := strings.Split(body, "\n")
	if len(lines) == 0 || !reQuoteHeader.MatchString(lines[0]) {
		return body
	}
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	return strings.Join(lines[i:], "\n")
}

// caption returns the user-visible caption of a media message. Body holds
// the file name unless FileName is set and differs from it.
func caption(content *event.MessageEventContent) string {
	if content.FileName == "" || content.FileName == content.Body {
		return ""
	}
	return messageText(content)
}

func isMedia(t event.MessageType) bool {
	switch t {
	case event.MsgImage, event.MsgVideo, event.MsgAudio, event.MsgFile:
		return true
	}
	return false
}

// mediaHint describes an attachment for the classifier: the declared MIME
// type when present, otherwise a word derived from the message type.
func mediaHint(content *event.MessageEventContent) string {
	if content.Info != nil && content.Info.MimeType != "" {
		return content.Info.MimeType
	}
	switch content.MsgType {
	case event.MsgImage:
		return "photo"
	case event.MsgVideo:
		return "video"
	case event.MsgAudio:
		return "audio"
	case event.MsgFile:
		return "document"
	}
	return ""
}

func fileName(content *event.MessageEventContent) string {
	if content.FileName != "" {
		return content.FileName
	}
	if content.MsgType == event.MsgFile {
		return content.Body
	}
	return ""
}

// replyPointer returns the event a message answers: the in-reply-to target,
// or the thread root for threaded replies.
func replyPointer(content *event.MessageEventContent) string {
	if content.RelatesTo == nil {
		return ""
	}
	if r := content.RelatesTo.GetReplyTo(); r != "" {
		return r.String()
	}
	return content.RelatesTo.GetThreadParent().String()
}
