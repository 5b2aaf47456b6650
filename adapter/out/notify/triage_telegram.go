// Package notify delivers escalations to operators over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
	"triage_server/pkg/httputil"
	"triage_server/pkg/resilience"
)

const serviceName = "telegram"

var _ out.EscalationNotifier = (*TelegramNotifier)(nil)

type TelegramConfig struct {
	BotToken    string
	ChatID      int64
	APIEndpoint string // format with token and method, default tgbotapi.APIEndpoint
	HTTPClient  *http.Client
}

// TelegramNotifier sends escalation summaries to one chat.
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	breaker *resilience.Breaker
	log     zerolog.Logger
}

// NewTelegramNotifier authenticates the bot with getMe.
func NewTelegramNotifier(cfg TelegramConfig, log zerolog.Logger) (*TelegramNotifier, error) {
	if cfg.BotToken == "" {
		return nil, apperr.MissingConfig("TELEGRAM_BOT_TOKEN")
	}
	if cfg.ChatID == 0 {
		return nil, apperr.MissingConfig("TELEGRAM_CHAT_ID")
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httputil.ChatClient()
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, client)
	if err != nil {
		return nil, wrapError(err, "failed to authenticate bot")
	}

	l := log.With().Str("component", "telegram").Logger()
	l.Info().Str("bot", bot.Self.UserName).Int64("chat_id", cfg.ChatID).Msg("telegram bot ready")

	return &TelegramNotifier{
		bot:     bot,
		chatID:  cfg.ChatID,
		breaker: resilience.New(resilience.Config{Name: "telegram-api"}, l),
		log:     l,
	}, nil
}

// CircuitState returns the breaker state name.
func (n *TelegramNotifier) CircuitState() string {
	return n.breaker.State()
}

// Notify sends the escalation. A nil error means Telegram accepted the message.
func (n *TelegramNotifier) Notify(ctx context.Context, e *domain.Escalation) error {
	msg := tgbotapi.NewMessage(n.chatID, FormatEscalation(e))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	err := n.breaker.Execute(ctx, "sendMessage", func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := n.bot.Send(msg)
		if err != nil {
			return wrapError(err, "failed to send message")
		}
		return nil
	})
	if err != nil {
		n.log.Error().Err(err).Str("message_id", e.MessageID).Msg("escalation not delivered")
		return err
	}

	n.log.Info().Str("message_id", e.MessageID).Str("reason", string(e.Reason)).Msg("escalation delivered")
	return nil
}

// FormatEscalation renders the operator message in Telegram HTML.
func FormatEscalation(e *domain.Escalation) string {
	var b strings.Builder
	b.WriteString("🆘 <b>Manual Support Needed</b>\n\n")
	fmt.Fprintf(&b, "<b>From:</b> %s\n", html.EscapeString(e.Sender))
	fmt.Fprintf(&b, "<b>Subject:</b> %s\n", html.EscapeString(e.Subject))
	fmt.Fprintf(&b, "<b>Gmail Msg ID:</b> %s\n", html.EscapeString(e.MessageID))
	if e.Reason != "" {
		fmt.Fprintf(&b, "<b>Reason:</b> %s\n", html.EscapeString(e.Reason.Description()))
	}
	b.WriteString("\n<b>Content Preview:</b>\n")
	fmt.Fprintf(&b, "%s...\n\n", html.EscapeString(e.BodyPreview))
	if e.ReplyAddress != "" {
		fmt.Fprintf(&b, "Reply to this email: %s\n", html.EscapeString(e.ReplyAddress))
	}
	fmt.Fprintf(&b, "<a href=\"%s\">View in Gmail</a>", html.EscapeString(e.ThreadLink))
	return b.String()
}

// wrapError maps Bot API errors by their error_code; anything else is a
// transport failure.
func wrapError(err error, message string) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.Code != 0 {
		return apperr.FromHTTPStatus(serviceName, tgErr.Code, fmt.Errorf("%s: %w", message, err))
	}
	return apperr.Transient(serviceName, fmt.Errorf("%s: %w", message, err))
}
