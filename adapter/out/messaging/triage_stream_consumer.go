package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Stream entry fields.
const (
	fieldData       = "data"
	fieldEnvelopeID = "envelope_id"
	fieldReceivedAt = "received_at"
)

// Delivery is one stream entry handed to the workers. It stays pending in
// the consumer group until acknowledged.
type Delivery struct {
	ID         string
	Stream     string
	EnvelopeID string
	Data       []byte
	Attempt    int64
}

// Sink receives deliveries. It must not block for long; the worker pool
// queues them.
type Sink func(ctx context.Context, d Delivery)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	BatchSize int64         // default: 10
	Block     time.Duration // default: 5s

	PendingCheckInterval time.Duration // default: 30s
	PendingIdleTime      time.Duration // default: 2m
	MaxRetries           int64         // default: 3

	Logger zerolog.Logger
}

// Consumer reads a Redis stream through a consumer group. Entries that
// stay pending longer than PendingIdleTime are claimed again; entries
// delivered MaxRetries times are moved to the dead letter stream.
type Consumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	batch    int64
	block    time.Duration

	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int64

	log zerolog.Logger
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *redis.Client, cfg ConsumerConfig) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.PendingCheckInterval <= 0 {
		cfg.PendingCheckInterval = 30 * time.Second
	}
	if cfg.PendingIdleTime <= 0 {
		cfg.PendingIdleTime = 2 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &Consumer{
		client:               client,
		stream:               cfg.Stream,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		batch:                cfg.BatchSize,
		block:                cfg.Block,
		pendingCheckInterval: cfg.PendingCheckInterval,
		pendingIdleTime:      cfg.PendingIdleTime,
		maxRetries:           cfg.MaxRetries,
		log: cfg.Logger.With().
			Str("component", "stream_consumer").
			Str("stream", cfg.Stream).
			Str("consumer", cfg.Consumer).
			Logger(),
	}
}

// DeadLetterStream returns the stream that receives exhausted entries.
func (c *Consumer) DeadLetterStream() string {
	return "dlq:" + c.stream
}

// Run reads until ctx is cancelled, handing every entry to sink.
func (c *Consumer) Run(ctx context.Context, sink Sink) error {
	c.log.Info().Str("group", c.group).Msg("starting consumer")

	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	go c.reclaimLoop(ctx, sink)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, err := c.ReadOnce(ctx, sink); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from stream")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// EnsureGroup creates the consumer group and the stream when missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// ReadOnce performs one XREADGROUP and returns how many entries were handed on.
func (c *Consumer) ReadOnce(ctx context.Context, sink Sink) (int, error) {
	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batch,
		Block:    c.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	n := 0
	for _, stream := range result {
		for _, msg := range stream.Messages {
			if c.deliver(ctx, msg, 1, sink) {
				n++
			}
		}
	}
	return n, nil
}

// Reclaim claims entries idle longer than the pending idle time, handing
// them to sink again or dead-lettering them once retries are exhausted.
func (c *Consumer) Reclaim(ctx context.Context, sink Sink) int {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Error().Err(err).Msg("error getting pending entries")
		}
		return 0
	}

	n := 0
	for _, p := range pending {
		if p.Idle < c.pendingIdleTime {
			continue
		}

		if p.RetryCount >= c.maxRetries {
			c.log.Warn().Str("id", p.ID).Int64("retries", p.RetryCount).Msg("entry exceeded max retries, moving to DLQ")
			if err := c.deadLetter(ctx, p.ID, nil, "max retries exceeded"); err != nil {
				c.log.Error().Err(err).Str("id", p.ID).Msg("error moving entry to DLQ")
			}
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.pendingIdleTime,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming entry")
			continue
		}

		for _, msg := range claimed {
			c.log.Info().Str("id", msg.ID).Str("previous_consumer", p.Consumer).Dur("idle", p.Idle).Msg("claimed stuck entry")
			if c.deliver(ctx, msg, p.RetryCount+1, sink) {
				n++
			}
		}
	}
	return n
}

// Ack removes an entry from the pending list.
func (c *Consumer) Ack(ctx context.Context, id string) error {
	return c.client.XAck(ctx, c.stream, c.group, id).Err()
}

func (c *Consumer) reclaimLoop(ctx context.Context, sink Sink) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	c.log.Info().
		Dur("check_interval", c.pendingCheckInterval).
		Dur("idle_time", c.pendingIdleTime).
		Int64("max_retries", c.maxRetries).
		Msg("starting pending entry processor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Reclaim(ctx, sink)
		}
	}
}

// deliver converts msg and hands it to sink. Entries without a data field
// go straight to the dead letter stream.
func (c *Consumer) deliver(ctx context.Context, msg redis.XMessage, attempt int64, sink Sink) bool {
	data, ok := msg.Values[fieldData].(string)
	if !ok {
		c.log.Warn().Str("id", msg.ID).Msg("entry has no data field")
		if err := c.deadLetter(ctx, msg.ID, msg.Values, "missing data field"); err != nil {
			c.log.Error().Err(err).Str("id", msg.ID).Msg("error moving entry to DLQ")
		}
		return false
	}

	envelopeID, _ := msg.Values[fieldEnvelopeID].(string)
	sink(ctx, Delivery{
		ID:         msg.ID,
		Stream:     c.stream,
		EnvelopeID: envelopeID,
		Data:       []byte(data),
		Attempt:    attempt,
	})
	return true
}

// deadLetter copies the entry to the DLQ stream and acknowledges it.
// values is read from the stream when nil.
func (c *Consumer) deadLetter(ctx context.Context, id string, values map[string]any, reason string) error {
	if values == nil {
		messages, err := c.client.XRange(ctx, c.stream, id, id).Result()
		if err != nil {
			return fmt.Errorf("read entry for DLQ: %w", err)
		}
		if len(messages) > 0 {
			values = messages[0].Values
		}
	}

	dlqData := map[string]any{
		"original_stream": c.stream,
		"original_id":     id,
		"reason":          reason,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.consumer,
		"group":           c.group,
	}
	for k, v := range values {
		dlqData["original_"+k] = v
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: c.DeadLetterStream(), Values: dlqData}).Err(); err != nil {
		return fmt.Errorf("add entry to DLQ: %w", err)
	}
	if err := c.Ack(ctx, id); err != nil {
		return fmt.Errorf("ack dead-lettered entry: %w", err)
	}

	c.log.Info().Str("dlq_stream", c.DeadLetterStream()).Str("original_id", id).Str("reason", reason).Msg("entry moved to DLQ")
	return nil
}
