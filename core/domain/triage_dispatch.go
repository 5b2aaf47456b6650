package domain

import (
	"time"

	"triage_server/pkg/textutil"
)

// DispatchOutcome is the terminal tag of one dispatch cycle.
type DispatchOutcome string

const (
	OutcomeNone         DispatchOutcome = "" // no message handled
	OutcomeReplied      DispatchOutcome = "REPLIED"
	OutcomeEscalated    DispatchOutcome = "ESCALATED"
	OutcomeMarkedSpam   DispatchOutcome = "MARKED_SPAM"
	OutcomeSkippedEmpty DispatchOutcome = "SKIPPED_EMPTY"
	OutcomeFailed       DispatchOutcome = "FAILED"
)

// ResolvesMessage reports whether the outcome requires the message to be marked read.
// An escalation resolves the message only when it was delivered.
func (o DispatchOutcome) ResolvesMessage(delivered bool) bool {
	switch o {
	case OutcomeReplied, OutcomeMarkedSpam, OutcomeSkippedEmpty:
		return true
	case OutcomeEscalated:
		return delivered
	}
	return false
}

// EscalationReason says why a message was handed to a human.
type EscalationReason string

const (
	ReasonUnclassified       EscalationReason = "classification_failed"
	ReasonNoSearchParameters EscalationReason = "no_search_parameters"
	ReasonNoCatalogItems     EscalationReason = "no_catalog_items"
	ReasonInsufficientItems  EscalationReason = "insufficient_items"
	ReasonReplyFailed        EscalationReason = "reply_failed"
)

// Human-readable reason text used in notifications.
func (r EscalationReason) Description() string {
	switch r {
	case ReasonUnclassified:
		return "Could not classify the message"
	case ReasonNoSearchParameters:
		return "No product keywords could be extracted"
	case ReasonNoCatalogItems:
		return "No matching listings were found"
	case ReasonInsufficientItems:
		return "Listings found were not sufficient to answer"
	case ReasonReplyFailed:
		return "Automatic reply could not be sent"
	}
	return string(r)
}

// EscalationPreviewLimit bounds the body preview sent to operators.
const EscalationPreviewLimit = 1000

const threadLinkPrefix = "https://mail.google.com/mail/u/0/#inbox/"

// Escalation is the condensed summary delivered to a human operator.
type Escalation struct {
	MessageID    string
	ThreadID     string
	Sender       string
	Subject      string
	BodyPreview  string
	ReplyAddress string
	ThreadLink   string
	Reason       EscalationReason
}

// NewEscalation builds the operator summary for msg.
func NewEscalation(msg *EmailMessage, reason EscalationReason) *Escalation {
	sender := msg.Sender
	if sender == "" {
		sender = "Unknown Sender"
	}
	subject := msg.Subject
	if subject == "" {
		subject = "No Subject"
	}
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = NotAvailable
	}

	return &Escalation{
		MessageID:    msg.ID,
		ThreadID:     msg.ThreadID,
		Sender:       sender,
		Subject:      subject,
		BodyPreview:  textutil.Truncate(msg.Body, EscalationPreviewLimit),
		ReplyAddress: msg.SenderAddress(),
		ThreadLink:   threadLinkPrefix + threadID,
		Reason:       reason,
	}
}

// DispatchResult records what one dispatch cycle did.
type DispatchResult struct {
	DispatchID     string
	MessageID      string
	ThreadID       string
	Outcome        DispatchOutcome
	Classification Classification
	Reason         EscalationReason
	ItemCount      int
	Delivered      bool // escalation delivered
	MarkedRead     bool
	Locked         bool // another worker held the message lock
	Err            error
	Duration       time.Duration
}

// Handled reports whether a message reached a terminal outcome in this cycle.
func (r *DispatchResult) Handled() bool {
	return r.Outcome != OutcomeNone
}
