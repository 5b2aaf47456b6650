package messaging

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"triage_server/pkg/apperr"
)

// ReceiveFunc handles one Pub/Sub message payload. A nil error acks.
type ReceiveFunc func(ctx context.Context, data []byte) error

// SubscriberConfig holds Pub/Sub pull configuration.
type SubscriberConfig struct {
	ProjectID       string
	Subscription    string
	CredentialsFile string // optional; application default credentials otherwise
	MaxOutstanding  int    // default: 10
}

// Subscriber pulls Gmail notifications from a Pub/Sub subscription.
type Subscriber struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
	owned  bool
	log    zerolog.Logger
}

// NewSubscriber creates a client for cfg.ProjectID and binds the subscription.
func NewSubscriber(ctx context.Context, cfg SubscriberConfig, log zerolog.Logger) (*Subscriber, error) {
	if cfg.ProjectID == "" {
		return nil, apperr.MissingConfig("GOOGLE_PROJECT_ID")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, apperr.ConfigError("create pubsub client").WithError(err)
	}
	s := NewSubscriberFromClient(client, cfg, log)
	s.owned = true
	return s, nil
}

// NewSubscriberFromClient binds the subscription on an existing client.
func NewSubscriberFromClient(client *pubsub.Client, cfg SubscriberConfig, log zerolog.Logger) *Subscriber {
	sub := client.Subscription(cfg.Subscription)
	maxOutstanding := cfg.MaxOutstanding
	if maxOutstanding <= 0 {
		maxOutstanding = 10
	}
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding

	return &Subscriber{
		client: client,
		sub:    sub,
		log: log.With().
			Str("component", "pubsub_subscriber").
			Str("subscription", cfg.Subscription).
			Logger(),
	}
}

// Receive blocks until ctx is cancelled or the subscription fails. Each
// message is acked when fn succeeds and nacked for redelivery otherwise.
func (s *Subscriber) Receive(ctx context.Context, fn ReceiveFunc) error {
	s.log.Info().Int("max_outstanding", s.sub.ReceiveSettings.MaxOutstandingMessages).Msg("listening for messages")

	err := s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		log := s.log.With().Str("pubsub_id", m.ID).Logger()
		log.Debug().Int("bytes", len(m.Data)).Msg("message received")

		if err := fn(ctx, m.Data); err != nil {
			log.Warn().Err(err).Msg("handling failed, nacking")
			m.Nack()
			return
		}
		m.Ack()
	})
	if err != nil {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

// Close releases the client when the subscriber created it.
func (s *Subscriber) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
