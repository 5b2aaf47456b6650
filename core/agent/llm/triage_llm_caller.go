package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"triage_server/pkg/apperr"
	"triage_server/pkg/retry"
)

// Status is the kind of result a call produced.
type Status int

const (
	StatusCompleted Status = iota
	StatusBlocked
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusBlocked:
		return "blocked"
	default:
		return "failed"
	}
}

// Result is the outcome of Caller.Call.
type Result struct {
	Text     string
	Status   Status
	Attempts int // network attempts made
	Err      error
}

// OK reports whether the call produced text.
func (r Result) OK() bool {
	return r.Status == StatusCompleted
}

// Caller applies the retry policy to completion requests. Safety blocks and
// client errors are never retried.
type Caller struct {
	policy retry.Policy
	log    zerolog.Logger
}

func NewCaller(policy retry.Policy, log zerolog.Logger) *Caller {
	return &Caller{
		policy: policy,
		log:    log.With().Str("component", "llm_caller").Logger(),
	}
}

// Call sends prompt to model. An uninitialized model or an empty prompt
// fails without any network attempt.
func (c *Caller) Call(ctx context.Context, model *Model, prompt string) Result {
	if err := model.Err(); err != nil {
		c.log.Error().Err(err).Str("model", model.Name()).Msg("model is not initialized")
		return Result{Status: StatusFailed, Err: err}
	}
	if strings.TrimSpace(prompt) == "" {
		return Result{Status: StatusFailed, Err: errors.New("empty prompt")}
	}

	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.log.Warn().Err(err).
			Str("model", model.Name()).
			Int("attempt", attempt).
			Int("max_attempts", policy.MaxAttempts).
			Dur("retry_in", delay).
			Msg("completion failed, retrying")
	}

	text, attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		c.log.Debug().Str("model", model.Name()).Int("attempt", attempt).Msg("calling model")
		out, err := model.complete(ctx, prompt)
		if err == nil {
			return out, nil
		}
		if apperr.HasCode(err, apperr.CodeSafetyBlock) || !apperr.IsRetryable(err) {
			return "", retry.Permanent(err)
		}
		return "", err
	})

	switch {
	case err == nil:
		return Result{Text: text, Status: StatusCompleted, Attempts: attempts}
	case apperr.HasCode(err, apperr.CodeSafetyBlock):
		c.log.Warn().Err(err).Str("model", model.Name()).Msg("request blocked by provider")
		return Result{Status: StatusBlocked, Attempts: attempts, Err: err}
	default:
		c.log.Error().Err(err).Str("model", model.Name()).Int("attempts", attempts).Msg("completion failed")
		return Result{Status: StatusFailed, Attempts: attempts, Err: err}
	}
}
