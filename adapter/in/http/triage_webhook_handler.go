package http

import (
	"encoding/base64"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
	"triage_server/pkg/response"
)

// PushEnvelope is the body Pub/Sub POSTs to a push endpoint.
type PushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId"`
		Attributes  map[string]string `json:"attributes,omitempty"`
		PublishTime string            `json:"publishTime,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type WebhookMetrics struct {
	Received  int64 `json:"received"`
	Direct    int64 `json:"direct"`
	Queued    int64 `json:"queued"`
	Malformed int64 `json:"malformed"`
	Errors    int64 `json:"errors"`
}

// WebhookHandler receives Gmail change notifications pushed by Pub/Sub.
// A 2xx response acks the push, anything else makes Pub/Sub redeliver.
type WebhookHandler struct {
	handler   in.NotificationHandler
	publisher out.NotificationPublisher
	log       zerolog.Logger
	metrics   WebhookMetrics
}

// NewWebhookHandler dispatches notifications synchronously. When publisher is
// non-nil notifications are queued instead and handler is not called.
func NewWebhookHandler(handler in.NotificationHandler, publisher out.NotificationPublisher, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		handler:   handler,
		publisher: publisher,
		log:       log.With().Str("component", "webhook").Logger(),
	}
}

func (h *WebhookHandler) Register(router fiber.Router, mw ...fiber.Handler) {
	handlers := append(mw, h.GmailWebhook)
	router.Post("/webhook/gmail", handlers...)
}

func (h *WebhookHandler) GetMetrics() WebhookMetrics {
	return WebhookMetrics{
		Received:  atomic.LoadInt64(&h.metrics.Received),
		Direct:    atomic.LoadInt64(&h.metrics.Direct),
		Queued:    atomic.LoadInt64(&h.metrics.Queued),
		Malformed: atomic.LoadInt64(&h.metrics.Malformed),
		Errors:    atomic.LoadInt64(&h.metrics.Errors),
	}
}

func (h *WebhookHandler) GmailWebhook(c *fiber.Ctx) error {
	atomic.AddInt64(&h.metrics.Received, 1)

	var envelope PushEnvelope
	if err := json.Unmarshal(c.Body(), &envelope); err != nil {
		atomic.AddInt64(&h.metrics.Malformed, 1)
		return apperr.InvalidPayload("push envelope is not valid JSON", err)
	}

	log := h.log.With().Str("pubsub_message_id", envelope.Message.MessageID).Logger()

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		// redelivery cannot fix the payload
		atomic.AddInt64(&h.metrics.Malformed, 1)
		log.Warn().Err(err).Msg("push data is not base64, dropping")
		return response.NoContent(c)
	}

	if h.publisher != nil {
		id, err := h.publisher.Publish(c.UserContext(), data)
		if err != nil {
			atomic.AddInt64(&h.metrics.Errors, 1)
			log.Error().Err(err).Msg("failed to queue notification")
			return response.InternalError(c, "notification not queued")
		}
		atomic.AddInt64(&h.metrics.Queued, 1)
		log.Debug().Str("stream_id", id).Msg("notification queued")
		return response.NoContent(c)
	}

	atomic.AddInt64(&h.metrics.Direct, 1)
	res, err := h.handler.Dispatch(c.UserContext(), data)
	if err != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		log.Error().Err(err).Msg("dispatch failed, requesting redelivery")
		return response.InternalError(c, "dispatch failed")
	}
	if res != nil && res.Handled() {
		log.Debug().Str("dispatch_id", res.DispatchID).Str("outcome", string(res.Outcome)).Msg("push handled")
	}
	return response.NoContent(c)
}
