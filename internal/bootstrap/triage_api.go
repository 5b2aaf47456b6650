package bootstrap

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"triage_server/adapter/in/http"
	"triage_server/adapter/out/messaging"
	"triage_server/core/port/out"
	"triage_server/infra/middleware"
)

// NewAPI builds the push endpoint app. A non-nil publisher switches the
// webhook to queued intake.
func NewAPI(deps *Dependencies, publisher out.NotificationPublisher, extraStats map[string]http.StatsSource) *fiber.App {
	cfg := deps.Config
	log := deps.Log.With().Str("component", "api").Logger()

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(log),
		DisableStartupMessage: !cfg.IsDevelopment(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             1 * 1024 * 1024,
		ReadTimeout:           30 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	// order matters
	app.Use(middleware.Recover(log))
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger(log))

	webhook := http.NewWebhookHandler(deps.Dispatcher, publisher, log)
	webhook.Register(app, middleware.PushAuth(middleware.PushAuthConfig{
		Disabled:       cfg.PushAuthDisabled,
		Audience:       cfg.PushAudience,
		ServiceAccount: cfg.PushServiceAccount,
		Keys:           middleware.NewJWKSCache(middleware.GoogleCertsURL, nil, time.Hour),
	}, log))

	health := http.NewHealthHandler().
		AddCheck("gmail", deps.Gmail).
		AddStats("dispatch", func() any { return deps.Stats.Snapshot() }).
		AddStats("webhook", func() any { return webhook.GetMetrics() }).
		AddStats("circuits", func() any { return deps.breakerStates() })
	if deps.Redis != nil {
		health.AddCheck("redis", messaging.NewRedisHealth(deps.Redis))
	}
	for name, src := range extraStats {
		health.AddStats(name, src)
	}
	health.Register(app)

	return app
}
