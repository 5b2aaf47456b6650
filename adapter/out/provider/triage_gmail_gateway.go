// Package provider implements the Gmail mailbox gateway and watch management.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
	"triage_server/pkg/resilience"
)

const (
	serviceName   = "gmail"
	unreadLabel   = "UNREAD"
	unreadInInbox = "is:unread in:inbox"
)

var (
	_ out.MailboxGateway = (*GmailGateway)(nil)
	_ out.MailboxWatcher = (*GmailGateway)(nil)
)

// GmailConfig holds Gmail gateway configuration.
type GmailConfig struct {
	UserID     string // default: me
	LabelID    string // optional watch label
	Topic      string // projects/<project>/topics/<topic>, needed by Watch
	HTTPClient *http.Client
	Endpoint   string // API base override, mainly for tests
}

// GmailGateway implements out.MailboxGateway and out.MailboxWatcher.
type GmailGateway struct {
	svc     *gmail.Service
	userID  string
	labelID string
	topic   string
	breaker *resilience.Breaker
	log     zerolog.Logger
}

// NewGmailGateway creates a gateway over an authorized HTTP client.
func NewGmailGateway(ctx context.Context, cfg GmailConfig, log zerolog.Logger) (*GmailGateway, error) {
	if cfg.HTTPClient == nil {
		return nil, apperr.ConfigError("gmail gateway needs an authorized HTTP client")
	}

	opts := []option.ClientOption{option.WithHTTPClient(cfg.HTTPClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	userID := cfg.UserID
	if userID == "" {
		userID = "me"
	}

	l := log.With().Str("component", "gmail").Logger()
	return &GmailGateway{
		svc:     svc,
		userID:  userID,
		labelID: cfg.LabelID,
		topic:   cfg.Topic,
		breaker: resilience.New(resilience.Config{Name: "gmail-api", ShouldTrip: tripOnServerError}, l),
		log:     l,
	}, nil
}

// ListUnread lists unread inbox messages, restricted to the watch label when set.
func (g *GmailGateway) ListUnread(ctx context.Context) ([]domain.MessageRef, error) {
	query := unreadInInbox
	if g.labelID != "" {
		query += " label:" + g.labelID
	}

	var resp *gmail.ListMessagesResponse
	err := g.breaker.Execute(ctx, "ListUnread", func(ctx context.Context) error {
		var apiErr error
		resp, apiErr = g.svc.Users.Messages.List(g.userID).Q(query).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, g.wrapError(err, "failed to list unread messages")
	}

	refs := make([]domain.MessageRef, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		refs = append(refs, domain.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	g.log.Debug().Int("count", len(refs)).Str("query", query).Msg("listed unread messages")
	return refs, nil
}

// Get fetches a message in full format.
func (g *GmailGateway) Get(ctx context.Context, messageID string) (*domain.EmailMessage, error) {
	var msg *gmail.Message
	err := g.breaker.Execute(ctx, "Get", func(ctx context.Context) error {
		var apiErr error
		msg, apiErr = g.svc.Users.Messages.Get(g.userID, messageID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, g.wrapError(err, "failed to get message").WithDetail("message_id", messageID)
	}
	return convertMessage(msg), nil
}

// SendReply sends body as a reply in the message's thread.
func (g *GmailGateway) SendReply(ctx context.Context, msg *domain.EmailMessage, body string) error {
	to := msg.SenderAddress()
	if to == "" {
		return apperr.InvalidPayload("reply has no recipient", nil).WithDetail("message_id", msg.ID)
	}
	if msg.ThreadingToken == "" {
		return apperr.InvalidPayload("reply has no threading token", nil).WithDetail("message_id", msg.ID)
	}

	raw := buildReply(to, msg.Subject, msg.ThreadingToken, body)
	outgoing := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		ThreadId: msg.ThreadID,
	}

	var sent *gmail.Message
	err := g.breaker.Execute(ctx, "SendReply", func(ctx context.Context) error {
		var apiErr error
		sent, apiErr = g.svc.Users.Messages.Send(g.userID, outgoing).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return g.wrapError(err, "failed to send reply").WithDetail("message_id", msg.ID)
	}

	g.log.Info().Str("message_id", msg.ID).Str("sent_id", sent.Id).Str("to", to).Msg("reply sent")
	return nil
}

// MarkRead removes the UNREAD label.
func (g *GmailGateway) MarkRead(ctx context.Context, messageID string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{unreadLabel}}
	err := g.breaker.Execute(ctx, "MarkRead", func(ctx context.Context) error {
		_, apiErr := g.svc.Users.Messages.Modify(g.userID, messageID, req).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return g.wrapError(err, "failed to mark message read").WithDetail("message_id", messageID)
	}
	return nil
}

// Watch registers push notifications to the configured topic.
func (g *GmailGateway) Watch(ctx context.Context) (*out.WatchInfo, error) {
	if g.topic == "" {
		return nil, apperr.MissingConfig("GMAIL_PUBSUB_TOPIC")
	}

	req := &gmail.WatchRequest{TopicName: g.topic}
	if g.labelID != "" {
		req.LabelIds = []string{g.labelID}
	}

	var resp *gmail.WatchResponse
	err := g.breaker.Execute(ctx, "Watch", func(ctx context.Context) error {
		var apiErr error
		resp, apiErr = g.svc.Users.Watch(g.userID, req).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, g.wrapError(err, "failed to setup watch")
	}

	g.log.Info().Uint64("history_id", resp.HistoryId).Int64("expiration", resp.Expiration).Str("topic", g.topic).Msg("watch registered")
	return &out.WatchInfo{HistoryID: resp.HistoryId, Expiration: resp.Expiration}, nil
}

// StopWatch stops push notifications for the mailbox.
func (g *GmailGateway) StopWatch(ctx context.Context) error {
	err := g.breaker.Execute(ctx, "StopWatch", func(ctx context.Context) error {
		return g.svc.Users.Stop(g.userID).Context(ctx).Do()
	})
	if err != nil {
		return g.wrapError(err, "failed to stop watch")
	}
	g.log.Info().Msg("watch stopped")
	return nil
}

// Ping checks that the mailbox is reachable.
func (g *GmailGateway) Ping(ctx context.Context) error {
	err := g.breaker.Execute(ctx, "Ping", func(ctx context.Context) error {
		_, apiErr := g.svc.Users.GetProfile(g.userID).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return g.wrapError(err, "failed to get profile")
	}
	return nil
}

// CircuitState returns the breaker state name.
func (g *GmailGateway) CircuitState() string {
	return g.breaker.State()
}

// wrapError maps Gmail API failures onto application errors.
func (g *GmailGateway) wrapError(err error, message string) *apperr.AppError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apperr.FromHTTPStatus(serviceName, apiErr.Code, fmt.Errorf("%s: %w", message, err))
	}
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperr.Transient(serviceName, fmt.Errorf("%s: %w", message, err))
}

// tripOnServerError trips on 429 and 5xx responses and on transport errors.
// Client errors (400/401/403/404) do not count against the API.
func tripOnServerError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return true
}
