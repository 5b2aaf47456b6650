package in

import (
	"context"

	"triage_server/core/domain"
)

// NotificationHandler is the single entry point of the triage core.
// A non-nil error means the delivery should be negatively acknowledged.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, payload []byte) error

	// Dispatch runs one cycle and also returns what happened.
	Dispatch(ctx context.Context, payload []byte) (*domain.DispatchResult, error)
}
