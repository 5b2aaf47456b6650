package domain

import (
	"strings"
	"testing"
)

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		email   string
		history uint64
		wantErr bool
	}{
		{"number", `{"emailAddress":"shop@example.com","historyId":12345}`, "shop@example.com", 12345, false},
		{"string", `{"emailAddress":"shop@example.com","historyId":"987"}`, "shop@example.com", 987, false},
		{"missing history", `{"emailAddress":"shop@example.com"}`, "shop@example.com", 0, false},
		{"bad history", `{"emailAddress":"a","historyId":"abc"}`, "", 0, true},
		{"not json", `hello`, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseNotification([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if err != nil {
				return
			}
			if n.EmailAddress != tt.email || n.HistoryID != tt.history {
				t.Errorf("expected %s/%d, got %s/%d", tt.email, tt.history, n.EmailAddress, n.HistoryID)
			}
		})
	}
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		input    string
		expected Classification
	}{
		{"SPAM", ClassificationSpam},
		{"  spam\n", ClassificationSpam},
		{"Process", ClassificationProcess},
		{"This looks like spam to me", ClassificationProcess},
		{"", ClassificationProcess},
		{"UNKNOWN", ClassificationProcess},
	}

	for _, tt := range tests {
		if got := ParseClassification(tt.input); got != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Jane Doe <jane@example.com>", "jane@example.com"},
		{"jane@example.com", "jane@example.com"},
		{"\"Broken, Name\" <broken@example.com", "broken@example.com"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ParseAddress(tt.input); got != tt.expected {
			t.Errorf("%q: expected %q, got %q", tt.input, tt.expected, got)
		}
	}
}

func TestSearchParametersKeyword(t *testing.T) {
	if (SearchParameters{"q": "  thinkpad t470 "}).Keyword() != "thinkpad t470" {
		t.Error("expected trimmed keyword")
	}
	if (SearchParameters{"q": ""}).HasKeyword() {
		t.Error("blank keyword should not count")
	}
	if (SearchParameters{"limit": "10"}).HasKeyword() {
		t.Error("missing keyword should not count")
	}
	if !(SearchParameters{}).IsEmpty() {
		t.Error("expected empty parameters")
	}

	orig := SearchParameters{"q": "x"}
	clone := orig.Clone()
	clone["limit"] = 50
	if _, ok := orig["limit"]; ok {
		t.Error("clone must not mutate the original")
	}
}

func TestOutcomeResolvesMessage(t *testing.T) {
	tests := []struct {
		outcome   DispatchOutcome
		delivered bool
		expected  bool
	}{
		{OutcomeReplied, false, true},
		{OutcomeMarkedSpam, false, true},
		{OutcomeSkippedEmpty, false, true},
		{OutcomeEscalated, true, true},
		{OutcomeEscalated, false, false},
		{OutcomeFailed, false, false},
		{OutcomeNone, false, false},
	}

	for _, tt := range tests {
		if got := tt.outcome.ResolvesMessage(tt.delivered); got != tt.expected {
			t.Errorf("%s delivered=%v: expected %v, got %v", tt.outcome, tt.delivered, tt.expected, got)
		}
	}
}

func TestNewEscalation(t *testing.T) {
	msg := &EmailMessage{
		ID:       "m1",
		ThreadID: "t1",
		Sender:   "Jane <jane@example.com>",
		Subject:  "Laptop",
		Body:     strings.Repeat("a", 1500),
	}

	e := NewEscalation(msg, ReasonNoCatalogItems)
	if len([]rune(e.BodyPreview)) != EscalationPreviewLimit {
		t.Errorf("expected preview of %d runes, got %d", EscalationPreviewLimit, len([]rune(e.BodyPreview)))
	}
	if e.ReplyAddress != "jane@example.com" {
		t.Errorf("unexpected reply address %q", e.ReplyAddress)
	}
	if e.ThreadLink != "https://mail.google.com/mail/u/0/#inbox/t1" {
		t.Errorf("unexpected thread link %q", e.ThreadLink)
	}

	empty := NewEscalation(&EmailMessage{ID: "m2"}, ReasonUnclassified)
	if empty.Sender != "Unknown Sender" || empty.Subject != "No Subject" {
		t.Errorf("expected placeholders, got %q/%q", empty.Sender, empty.Subject)
	}
}
