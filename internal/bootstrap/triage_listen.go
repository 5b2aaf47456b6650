package bootstrap

import (
	"context"
	"errors"
	"sync"

	"triage_server/adapter/in/worker"
	"triage_server/adapter/out/messaging"
)

// RunListener pulls notifications from the Pub/Sub subscription and
// dispatches each one. A dispatch error nacks the message.
func RunListener(ctx context.Context, deps *Dependencies) error {
	cfg := deps.Config
	log := deps.Log

	sub, err := messaging.NewSubscriber(ctx, messaging.SubscriberConfig{
		ProjectID:       cfg.GoogleProjectID,
		Subscription:    cfg.PubSubSubscription,
		CredentialsFile: cfg.PubSubCredentialsFile,
		MaxOutstanding:  cfg.PubSubMaxOutstanding,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sub.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close pubsub client")
		}
	}()

	var wg sync.WaitGroup
	renewCtx, cancelRenew := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.NewWatchRenewer(deps.Gmail, cfg.WatchRenewInterval, log).Run(renewCtx)
	}()

	err = sub.Receive(ctx, deps.Dispatcher.HandleNotification)

	cancelRenew()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Interface("stats", deps.Stats.Snapshot()).Msg("listener stopped")
	return nil
}
