package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"triage_server/adapter/in/http"
	"triage_server/adapter/in/worker"
	"triage_server/adapter/out/messaging"
	"triage_server/config"
	"triage_server/core/port/out"
)

const (
	shutdownTimeout = 30 * time.Second
	streamMaxLen    = 10000
)

// Server runs the push endpoint and, in queued intake, the stream consumer
// and its delivery pool.
type Server struct {
	deps     *Dependencies
	app      *fiber.App
	consumer *messaging.Consumer
	pool     *worker.DeliveryPool
	renewer  *worker.WatchRenewer
}

func NewServer(deps *Dependencies) (*Server, error) {
	cfg := deps.Config
	s := &Server{
		deps:    deps,
		renewer: worker.NewWatchRenewer(deps.Gmail, cfg.WatchRenewInterval, deps.Log),
	}

	var publisher out.NotificationPublisher
	stats := map[string]http.StatsSource{}

	if cfg.IntakeMode == config.IntakeQueued {
		if deps.Redis == nil {
			return nil, errors.New("queued intake requires REDIS_URL")
		}
		publisher = messaging.NewStreamPublisher(deps.Redis, cfg.StreamName, streamMaxLen)
		s.consumer = messaging.NewConsumer(deps.Redis, messaging.ConsumerConfig{
			Stream:               cfg.StreamName,
			Group:                cfg.StreamGroup,
			Consumer:             cfg.WorkerID,
			BatchSize:            int64(cfg.ConsumerBatchSize),
			Block:                time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
			PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
			PendingIdleTime:      time.Duration(cfg.ConsumerMinIdleSec) * time.Second,
			MaxRetries:           int64(cfg.ConsumerMaxRetries),
			Logger:               deps.Log,
		})
		s.pool = worker.NewDeliveryPool(deps.Dispatcher, s.consumer, worker.PoolConfig{
			Workers: cfg.WorkerCount,
		}, deps.Log)
		stats["pool"] = func() any { return s.pool.Stats() }
	}

	s.app = NewAPI(deps, publisher, stats)
	return s, nil
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run blocks until ctx is cancelled or a component fails, then shuts
// everything down.
func (s *Server) Run(ctx context.Context) error {
	log := s.deps.Log
	g, ctx := errgroup.WithContext(ctx)

	if s.pool != nil {
		if err := s.pool.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			return s.consumer.Run(ctx, s.pool.Submit)
		})
	}

	var renewWG sync.WaitGroup
	renewWG.Add(1)
	go func() {
		defer renewWG.Done()
		s.renewer.Run(ctx)
	}()

	g.Go(func() error {
		addr := ":" + s.deps.Config.Port
		log.Info().Str("addr", addr).Str("intake", s.deps.Config.IntakeMode).Msg("starting push endpoint")
		return s.app.Listen(addr)
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down")
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error().Err(err).Msg("error shutting down http server")
		}
		return nil
	})

	err := g.Wait()

	if s.pool != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		s.pool.Stop(stopCtx)
		cancel()
	}
	renewWG.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
