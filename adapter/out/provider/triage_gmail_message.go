package provider

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"google.golang.org/api/gmail/v1"

	"triage_server/core/domain"
)

// convertMessage maps a full-format Gmail message to the domain message.
func convertMessage(msg *gmail.Message) *domain.EmailMessage {
	result := &domain.EmailMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
	}
	if msg.Payload == nil {
		return result
	}

	result.Sender = header(msg.Payload, "From")
	result.Subject = header(msg.Payload, "Subject")
	result.ThreadingToken = header(msg.Payload, "Message-ID")
	result.Body = extractBody(msg.Payload)
	return result
}

// header returns the first header named name, compared case-insensitively.
func header(part *gmail.MessagePart, name string) string {
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// extractBody walks the MIME tree. The first text/plain part wins, then the
// first text/html part, then the top-level body data.
func extractBody(payload *gmail.MessagePart) string {
	if text := findPart(payload, "text/plain"); text != "" {
		return text
	}
	if html := findPart(payload, "text/html"); html != "" {
		return html
	}
	if payload.Body != nil {
		return decodeBody(payload.Body.Data)
	}
	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		if s := decodeBody(part.Body.Data); s != "" {
			return s
		}
	}
	for _, child := range part.Parts {
		if s := findPart(child, mimeType); s != "" {
			return s
		}
	}
	return ""
}

// decodeBody decodes Gmail's URL-safe base64, padded or not.
func decodeBody(data string) string {
	if data == "" {
		return ""
	}
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "=")); err == nil {
		return string(b)
	}
	return ""
}

// replySubject prefixes "Re: " unless the subject already carries it.
func replySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if len(s) >= 3 && strings.EqualFold(s[:3], "re:") {
		return s
	}
	return "Re: " + s
}

// buildReply renders the RFC 5322 reply for msg. The caller has checked that
// the sender and threading token are present.
func buildReply(to, subject, threadingToken, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", replySubject(subject)))
	fmt.Fprintf(&b, "In-Reply-To: %s\r\n", threadingToken)
	fmt.Fprintf(&b, "References: %s\r\n", threadingToken)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	b.WriteString("\r\n")
	b.WriteString(wrap76(base64.StdEncoding.EncodeToString([]byte(body))))
	return b.String()
}

func wrap76(s string) string {
	var b strings.Builder
	for len(s) > 76 {
		b.WriteString(s[:76])
		b.WriteString("\r\n")
		s = s[76:]
	}
	b.WriteString(s)
	return b.String()
}
