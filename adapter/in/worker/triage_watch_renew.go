package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"triage_server/core/port/out"
)

// WatchRenewer re-registers the Gmail push watch on a fixed interval.
// Gmail expires a watch after seven days.
type WatchRenewer struct {
	watcher  out.MailboxWatcher
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

func NewWatchRenewer(watcher out.MailboxWatcher, interval time.Duration, log zerolog.Logger) *WatchRenewer {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &WatchRenewer{
		watcher:  watcher,
		interval: interval,
		timeout:  time.Minute,
		log:      log.With().Str("component", "watch_renewer").Logger(),
	}
}

// Run renews once immediately and then on every tick until ctx is done.
func (r *WatchRenewer) Run(ctx context.Context) {
	r.log.Info().Dur("interval", r.interval).Msg("starting watch renewer")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Renew(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("watch renewer stopped")
			return
		case <-ticker.C:
			r.Renew(ctx)
		}
	}
}

// Renew registers the watch once. Failures are logged and retried on the next tick.
func (r *WatchRenewer) Renew(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	info, err := r.watcher.Watch(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to renew watch")
		return err
	}
	r.log.Info().
		Uint64("history_id", info.HistoryID).
		Time("expires_at", time.UnixMilli(info.Expiration)).
		Msg("watch renewed")
	return nil
}
