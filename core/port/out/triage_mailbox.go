package out

import (
	"context"

	"triage_server/core/domain"
)

// MailboxGateway is the mailbox provider as seen by the dispatcher.
type MailboxGateway interface {
	// ListUnread returns unread inbox messages, newest first, filtered by the
	// configured watch label when one is set.
	ListUnread(ctx context.Context) ([]domain.MessageRef, error)
	Get(ctx context.Context, messageID string) (*domain.EmailMessage, error)
	// SendReply sends a threaded reply to msg. It fails without sending when
	// the message has no sender or threading token.
	SendReply(ctx context.Context, msg *domain.EmailMessage, body string) error
	MarkRead(ctx context.Context, messageID string) error
}

// MailboxWatcher manages provider push subscriptions.
type MailboxWatcher interface {
	Watch(ctx context.Context) (*WatchInfo, error)
	StopWatch(ctx context.Context) error
}

// WatchInfo is returned by a successful watch registration.
type WatchInfo struct {
	HistoryID  uint64
	Expiration int64 // unix millis
}
