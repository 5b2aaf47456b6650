package domain

import (
	"bytes"
	"net/mail"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// EmailMessage is one fetched mailbox message. Read-only after fetch.
type EmailMessage struct {
	ID       string
	ThreadID string
	Sender   string // raw From header
	Subject  string
	Body     string

	// ThreadingToken is the Message-ID header, used for In-Reply-To/References.
	ThreadingToken string
}

// HasBody reports whether the message carries any non-blank body text.
func (m *EmailMessage) HasBody() bool {
	return strings.TrimSpace(m.Body) != ""
}

// SenderAddress returns the bare address from the From header.
func (m *EmailMessage) SenderAddress() string {
	return ParseAddress(m.Sender)
}

// ParseAddress extracts the address part of an RFC 5322 address,
// falling back to the text between angle brackets, then the input itself.
func ParseAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr.Address
	}
	if start := strings.LastIndex(s, "<"); start >= 0 {
		rest := s[start+1:]
		if end := strings.Index(rest, ">"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	return s
}

// MessageRef is a list entry returned by the mailbox before a full fetch.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// InboundNotification is the decoded push payload: which account changed,
// and the history cursor at the time of the change.
type InboundNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

type rawNotification struct {
	EmailAddress string          `json:"emailAddress"`
	HistoryID    json.RawMessage `json:"historyId"`
}

// ParseNotification decodes a push payload. The history id may be
// a JSON number or a numeric string.
func ParseNotification(data []byte) (*InboundNotification, error) {
	var raw rawNotification
	if err := json.Unmarshal(bytes.TrimSpace(data), &raw); err != nil {
		return nil, err
	}

	n := &InboundNotification{EmailAddress: raw.EmailAddress}
	if len(raw.HistoryID) > 0 && string(raw.HistoryID) != "null" {
		s := strings.Trim(string(raw.HistoryID), `"`)
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, err
		}
		n.HistoryID = id
	}
	return n, nil
}
