package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
)

// DefaultStream carries raw push payloads between the HTTP intake and the
// delivery workers.
const DefaultStream = "triage:notifications"

var _ out.NotificationPublisher = (*StreamPublisher)(nil)

// StreamPublisher implements out.NotificationPublisher using Redis Streams.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher creates a publisher. maxLen caps the stream
// approximately; zero leaves it unbounded.
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish appends payload and returns the stream entry ID.
func (p *StreamPublisher) Publish(ctx context.Context, payload []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			fieldData:       string(payload),
			fieldEnvelopeID: uuid.NewString(),
			fieldReceivedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", apperr.Transient(redisService, err).WithDetail("stream", p.stream)
	}
	return id, nil
}
