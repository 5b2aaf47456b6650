package out

import (
	"context"
	"time"

	"triage_server/core/domain"
)

// CatalogSearcher runs a marketplace search. It never fails: provider and
// auth errors yield an empty list.
type CatalogSearcher interface {
	Search(ctx context.Context, params domain.SearchParameters) []domain.CatalogItem
}

// EscalationNotifier delivers an escalation to a human operator.
// A nil error means the message was delivered.
type EscalationNotifier interface {
	Notify(ctx context.Context, e *domain.Escalation) error
}

// Unlock releases a lock obtained from MessageLocker.
type Unlock func(ctx context.Context) error

// MessageLocker serializes processing of the same message across workers.
type MessageLocker interface {
	// TryLock returns ok=false when another holder owns the lock.
	TryLock(ctx context.Context, messageID string, ttl time.Duration) (unlock Unlock, ok bool, err error)
}

// NotificationPublisher hands a raw push payload to a queue for later dispatch.
type NotificationPublisher interface {
	Publish(ctx context.Context, payload []byte) (string, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
