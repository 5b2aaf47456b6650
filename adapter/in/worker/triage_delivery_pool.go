package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"triage_server/adapter/out/messaging"
	"triage_server/core/port/in"
)

// Acker acknowledges a delivery once it has been handled.
type Acker interface {
	Ack(ctx context.Context, id string) error
}

// PoolConfig holds delivery pool configuration.
type PoolConfig struct {
	Workers        int           // default: 4
	BatchSize      int           // default: 1
	WorkerChanSize int // default: 100
}

// DeliveryPool dispatches stream deliveries concurrently and acks the ones
// the handler accepted. Failed deliveries stay pending and are reclaimed by
// the consumer.
type DeliveryPool struct {
	handler in.NotificationHandler
	acker   Acker
	config  PoolConfig

	pool *pool.WorkerGroup[messaging.Delivery]

	processed atomic.Int64
	failed    atomic.Int64
	ackErrors atomic.Int64
	queued    atomic.Int32

	started bool
	mu      sync.Mutex
	log     zerolog.Logger
}

// deliveryWorker implements pool.Worker.
type deliveryWorker struct {
	p *DeliveryPool
}

func (w *deliveryWorker) Do(ctx context.Context, d messaging.Delivery) error {
	w.p.process(ctx, d)
	return nil
}

func NewDeliveryPool(handler in.NotificationHandler, acker Acker, cfg PoolConfig, log zerolog.Logger) *DeliveryPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.WorkerChanSize <= 0 {
		cfg.WorkerChanSize = 100
	}
	return &DeliveryPool{
		handler: handler,
		acker:   acker,
		config:  cfg,
		log:     log.With().Str("component", "delivery_pool").Logger(),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop is called.
func (p *DeliveryPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	p.pool = pool.New[messaging.Delivery](p.config.Workers, &deliveryWorker{p: p}).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.pool.Go(ctx); err != nil {
		return err
	}
	p.started = true

	p.log.Info().Int("workers", p.config.Workers).Msg("delivery pool started")
	return nil
}

// Submit queues a delivery. It matches messaging.Sink.
func (p *DeliveryPool) Submit(_ context.Context, d messaging.Delivery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		p.log.Warn().Str("id", d.ID).Msg("pool not running, delivery left pending")
		return
	}
	p.queued.Add(1)
	p.pool.Submit(d)
}

// Stop waits for queued deliveries to finish.
func (p *DeliveryPool) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	if err := p.pool.Close(ctx); err != nil {
		p.log.Warn().Err(err).Msg("error closing delivery pool")
	}
	p.log.Info().
		Int64("processed", p.processed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("delivery pool stopped")
}

// Stats returns counters for the stats endpoint.
func (p *DeliveryPool) Stats() map[string]any {
	return map[string]any{
		"processed":  p.processed.Load(),
		"failed":     p.failed.Load(),
		"ack_errors": p.ackErrors.Load(),
		"queued":     p.queued.Load(),
	}
}

func (p *DeliveryPool) process(ctx context.Context, d messaging.Delivery) {
	defer p.queued.Add(-1)

	log := p.log.With().Str("id", d.ID).Str("envelope_id", d.EnvelopeID).Int64("attempt", d.Attempt).Logger()

	if err := p.handler.HandleNotification(ctx, d.Data); err != nil {
		p.failed.Add(1)
		log.Warn().Err(err).Msg("delivery failed, left pending")
		return
	}

	// Ack on a fresh context so a finished dispatch is not redelivered
	// because the pool is shutting down.
	ackCtx, ackCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer ackCancel()
	if err := p.acker.Ack(ackCtx, d.ID); err != nil {
		p.ackErrors.Add(1)
		log.Error().Err(err).Msg("error acknowledging delivery")
		return
	}
	p.processed.Add(1)
	log.Debug().Msg("delivery acknowledged")
}
