// Package triage implements the intake dispatcher: one push notification in,
// at most one terminal action on the newest unread message out.
package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
	"triage_server/pkg/metrics"
)

var _ in.NotificationHandler = (*Dispatcher)(nil)

// Dependencies are the collaborators the dispatcher drives.
type Dependencies struct {
	Mailbox     out.MailboxGateway
	Classifier  out.IntentClassifier
	Synthesizer out.QuerySynthesizer
	Searcher    out.CatalogSearcher
	Evaluator   out.RelevanceEvaluator
	Generator   out.ReplyGenerator
	Notifier    out.EscalationNotifier
}

// Dispatcher runs the decision pipeline for one notification at a time per call.
// Concurrent calls are allowed; without a locker the same message may be
// processed twice.
type Dispatcher struct {
	deps Dependencies

	locker  out.MessageLocker
	lockTTL time.Duration

	escalateOnReplyFailure bool

	stats *metrics.DispatchStats
	newID func() string
	log   zerolog.Logger
}

type Option func(*Dispatcher)

// WithLocker serializes processing per message id.
func WithLocker(locker out.MessageLocker, ttl time.Duration) Option {
	return func(d *Dispatcher) {
		d.locker = locker
		if ttl > 0 {
			d.lockTTL = ttl
		}
	}
}

// WithStats records each cycle's outcome and latency.
func WithStats(stats *metrics.DispatchStats) Option {
	return func(d *Dispatcher) { d.stats = stats }
}

// WithEscalateOnReplyFailure escalates instead of leaving the message
// unresolved when reply generation or sending fails.
func WithEscalateOnReplyFailure(enabled bool) Option {
	return func(d *Dispatcher) { d.escalateOnReplyFailure = enabled }
}

// WithIDGenerator overrides dispatch id generation.
func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) { d.newID = fn }
}

func NewDispatcher(deps Dependencies, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		deps:    deps,
		lockTTL: 5 * time.Minute,
		newID:   uuid.NewString,
		log:     log.With().Str("component", "dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleNotification runs one cycle. It returns an error only when the
// notification should be redelivered.
func (d *Dispatcher) HandleNotification(ctx context.Context, payload []byte) error {
	_, err := d.Dispatch(ctx, payload)
	return err
}

// Dispatch runs one cycle and reports what happened. The error is non-nil
// only when listing unread messages fails or fetching the newest one fails
// with a retryable error.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) (res *domain.DispatchResult, err error) {
	start := time.Now()
	res = &domain.DispatchResult{DispatchID: d.newID()}
	log := d.log.With().Str("dispatch_id", res.DispatchID).Logger()

	defer func() {
		res.Duration = time.Since(start)
		if d.stats != nil {
			d.stats.Observe(string(res.Outcome), res.Duration, err)
		}
		if res.Handled() {
			log.Info().
				Str("message_id", res.MessageID).
				Str("outcome", string(res.Outcome)).
				Str("reason", string(res.Reason)).
				Bool("marked_read", res.MarkedRead).
				Dur("duration", res.Duration).
				Msg("dispatch finished")
		}
	}()

	n, perr := domain.ParseNotification(payload)
	if perr != nil {
		log.Error().Err(apperr.InvalidPayload("notification", perr)).Msg("malformed notification, dropping")
		return res, nil
	}
	log.Info().Str("email_address", n.EmailAddress).Uint64("history_id", n.HistoryID).Msg("notification received")

	refs, err := d.deps.Mailbox.ListUnread(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list unread messages")
		return res, fmt.Errorf("list unread: %w", err)
	}
	if len(refs) == 0 {
		log.Info().Msg("no unread messages, nothing to do")
		return res, nil
	}

	ref := refs[0]
	if ref.ID == "" {
		log.Warn().Msg("newest unread entry has no id, skipping")
		return res, nil
	}
	res.MessageID = ref.ID
	res.ThreadID = ref.ThreadID
	log = log.With().Str("message_id", ref.ID).Logger()

	if d.locker != nil {
		unlock, ok, lerr := d.locker.TryLock(ctx, ref.ID, d.lockTTL)
		switch {
		case lerr != nil:
			log.Warn().Err(lerr).Msg("message lock unavailable, continuing without it")
		case !ok:
			log.Info().Msg("message is being processed elsewhere")
			res.Locked = true
			return res, nil
		default:
			defer func() {
				if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
					log.Warn().Err(uerr).Msg("failed to release message lock")
				}
			}()
		}
	}

	msg, err := d.deps.Mailbox.Get(ctx, ref.ID)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.Err = err
		if apperr.IsRetryable(err) {
			log.Error().Err(err).Msg("failed to fetch message, will retry on redelivery")
			return res, fmt.Errorf("get message %s: %w", ref.ID, err)
		}
		log.Error().Err(err).Msg("failed to fetch message")
		return res, nil
	}
	if msg.ThreadID != "" {
		res.ThreadID = msg.ThreadID
	}

	d.process(ctx, log, msg, res)
	return res, nil
}

func (d *Dispatcher) process(ctx context.Context, log zerolog.Logger, msg *domain.EmailMessage, res *domain.DispatchResult) {
	if !msg.HasBody() {
		log.Warn().Msg("message has no body")
		d.resolve(ctx, log, msg, res, domain.OutcomeSkippedEmpty)
		return
	}

	class, err := d.deps.Classifier.Classify(ctx, msg.Subject, msg.Body)
	res.Classification = class
	switch class {
	case domain.ClassificationSpam:
		d.resolve(ctx, log, msg, res, domain.OutcomeMarkedSpam)
	case domain.ClassificationProcess:
		d.answer(ctx, log, msg, res)
	default:
		log.Error().Err(err).Msg("classification failed")
		d.escalate(ctx, log, msg, res, domain.ReasonUnclassified)
	}
}

// answer runs search, evaluation, and reply for a PROCESS message.
func (d *Dispatcher) answer(ctx context.Context, log zerolog.Logger, msg *domain.EmailMessage, res *domain.DispatchResult) {
	params, err := d.deps.Synthesizer.Synthesize(ctx, msg.Body)
	if err != nil || !params.HasKeyword() {
		log.Warn().Err(err).Msg("no usable search parameters")
		d.escalate(ctx, log, msg, res, domain.ReasonNoSearchParameters)
		return
	}

	items := d.deps.Searcher.Search(ctx, params)
	res.ItemCount = len(items)
	if len(items) == 0 {
		log.Info().Str("query", params.Keyword()).Msg("no listings found")
		d.escalate(ctx, log, msg, res, domain.ReasonNoCatalogItems)
		return
	}
	log.Info().Str("query", params.Keyword()).Int("items", len(items)).Msg("listings found")

	if !d.deps.Evaluator.IsSufficient(ctx, msg.Body, items) {
		d.escalate(ctx, log, msg, res, domain.ReasonInsufficientItems)
		return
	}

	reply, err := d.deps.Generator.GenerateReply(ctx, msg.Subject, msg.Body, items)
	if err == nil && reply == "" {
		err = apperr.MalformedOutput("reply", fmt.Errorf("empty reply"))
	}
	if err == nil {
		err = d.deps.Mailbox.SendReply(context.WithoutCancel(ctx), msg, reply)
	}
	if err != nil {
		res.Err = apperr.PartialPipeline("reply", err)
		if d.escalateOnReplyFailure {
			log.Warn().Err(err).Msg("reply failed, escalating")
			d.escalate(ctx, log, msg, res, domain.ReasonReplyFailed)
			return
		}
		log.Error().Err(err).Msg("reply failed, leaving message unread")
		res.Outcome = domain.OutcomeFailed
		return
	}

	d.resolve(ctx, log, msg, res, domain.OutcomeReplied)
}

// escalate hands msg to an operator and marks it read only on delivery.
// Terminal side effects ignore cancellation of the cycle: an escalation
// caused by a cancelled step must still reach the operator.
func (d *Dispatcher) escalate(ctx context.Context, log zerolog.Logger, msg *domain.EmailMessage, res *domain.DispatchResult, reason domain.EscalationReason) {
	res.Outcome = domain.OutcomeEscalated
	res.Reason = reason

	if err := d.deps.Notifier.Notify(context.WithoutCancel(ctx), domain.NewEscalation(msg, reason)); err != nil {
		log.Error().Err(err).Str("reason", string(reason)).Msg("escalation not delivered, leaving message unread")
		res.Err = err
		return
	}
	res.Delivered = true
	d.markRead(ctx, log, msg, res)
}

func (d *Dispatcher) resolve(ctx context.Context, log zerolog.Logger, msg *domain.EmailMessage, res *domain.DispatchResult, outcome domain.DispatchOutcome) {
	res.Outcome = outcome
	d.markRead(ctx, log, msg, res)
}

func (d *Dispatcher) markRead(ctx context.Context, log zerolog.Logger, msg *domain.EmailMessage, res *domain.DispatchResult) {
	if !res.Outcome.ResolvesMessage(res.Delivered) {
		return
	}
	if err := d.deps.Mailbox.MarkRead(context.WithoutCancel(ctx), msg.ID); err != nil {
		log.Error().Err(err).Msg("failed to mark message read")
		return
	}
	res.MarkedRead = true
}
