package bootstrap

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"triage_server/config"
)

const watchTimeout = time.Minute

// RunWatch registers the Gmail push subscription on the configured topic.
func RunWatch(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	gw, err := NewMailbox(ctx, cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, watchTimeout)
	defer cancel()

	info, err := gw.Watch(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Uint64("history_id", info.HistoryID).
		Time("expires_at", time.UnixMilli(info.Expiration)).
		Str("topic", cfg.GmailPubSubTopic).
		Msg("gmail watch registered")
	return nil
}

// RunUnwatch stops Gmail push notifications for the mailbox.
func RunUnwatch(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	gw, err := NewMailbox(ctx, cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, watchTimeout)
	defer cancel()

	if err := gw.StopWatch(ctx); err != nil {
		return err
	}
	log.Info().Msg("gmail watch stopped")
	return nil
}
