// Package resilience wraps gobreaker with the settings used for every outbound provider.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"triage_server/pkg/apperr"
)

// ErrOpen is returned when a call is rejected by an open or saturated breaker.
var ErrOpen = errors.New("circuit breaker is open")

// TripFunc reports whether err counts as a provider failure for the breaker.
// Client errors (bad request, auth, not found) should return false.
type TripFunc func(err error) bool

// Config holds breaker settings.
type Config struct {
	Name        string
	MaxRequests uint32        // requests allowed in half-open (default: 3)
	Interval    time.Duration // closed-state counter reset (default: 60s)
	Timeout     time.Duration // open -> half-open (default: 30s)
	ShouldTrip  TripFunc      // default: TripOnRetryable
}

// Breaker guards calls to one provider.
type Breaker struct {
	cb         *gobreaker.CircuitBreaker
	shouldTrip TripFunc
	log        zerolog.Logger
}

// New creates a breaker that opens after more than 5 consecutive failures or
// a failure ratio of at least 60% over at least 10 requests.
func New(cfg Config, log zerolog.Logger) *Breaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = TripOnRetryable
	}

	l := log.With().Str("breaker", cfg.Name).Logger()

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !cfg.ShouldTrip(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &Breaker{
		cb:         gobreaker.NewCircuitBreaker(settings),
		shouldTrip: cfg.ShouldTrip,
		log:        l,
	}
}

// Execute runs fn under the breaker. Errors for which ShouldTrip is false are
// returned unchanged without counting against the provider.
func (b *Breaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.log.Warn().Str("operation", operation).Str("state", b.cb.State().String()).Msg("call rejected")
		return apperr.Transient(b.cb.Name(), ErrOpen)
	}

	if err != nil && b.shouldTrip(err) {
		b.log.Debug().Err(err).Str("operation", operation).Str("state", b.cb.State().String()).Msg("call failed")
	}
	return err
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// IsOpen reports whether calls currently fail fast.
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// TripOnRetryable trips on retryable and unclassified errors only.
func TripOnRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return apperr.IsRetryable(err)
}
