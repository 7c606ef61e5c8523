package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/esc-lab/dialogue-bench/internal/config"
	"github.com/esc-lab/dialogue-bench/internal/handler"
	"github.com/esc-lab/dialogue-bench/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ExperimentHandler *handler.ExperimentHandler
	QuestionHandler   *handler.QuestionHandler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	if deps.ExperimentHandler != nil {
		api.Get("/models", deps.ExperimentHandler.Models)
		deps.ExperimentHandler.Register(api.Group("/experiments"))
	}

	if deps.QuestionHandler != nil {
		deps.QuestionHandler.Register(api.Group("/questions"))
	}
}
