package http

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"triage_server/core/port/out"
	"triage_server/pkg/response"
)

// StatsSource returns a JSON-friendly snapshot for /stats.
type StatsSource func() any

type HealthHandler struct {
	checks  map[string]out.Pinger
	stats   map[string]StatsSource
	started time.Time
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		checks:  make(map[string]out.Pinger),
		stats:   make(map[string]StatsSource),
		started: time.Now(),
	}
}

// AddCheck registers a dependency probed by /ready.
func (h *HealthHandler) AddCheck(name string, p out.Pinger) *HealthHandler {
	if p != nil {
		h.checks[name] = p
	}
	return h
}

// AddStats registers a section of the /stats document.
func (h *HealthHandler) AddStats(name string, src StatsSource) *HealthHandler {
	if src != nil {
		h.stats[name] = src
	}
	return h
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	app.Get("/stats", h.Stats)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	allHealthy := true
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Stats(c *fiber.Ctx) error {
	data := make(map[string]any, len(h.stats)+1)
	for name, src := range h.stats {
		data[name] = src()
	}
	data["uptime_sec"] = int64(time.Since(h.started).Seconds())
	return response.OK(c, data)
}
