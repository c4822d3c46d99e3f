// Package main provides the stride API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/stride-run/stride/pkg/dispatch"
	"github.com/stride-run/stride/pkg/ratelimit"
	"github.com/stride-run/stride/pkg/web"
	"github.com/stride-run/stride/pkg/workflow"
)

type API struct {
	logger     *slog.Logger
	loader     *workflow.Loader
	executor   *workflow.Executor
	dispatcher *dispatch.Dispatcher
	limiter    ratelimit.Limiter
}

func NewAPI(
	logger *slog.Logger,
	executor *workflow.Executor,
	dispatcher *dispatch.Dispatcher,
	limiter ratelimit.Limiter,
) *API {
	return &API{
		logger:     logger,
		loader:     workflow.NewLoader(),
		executor:   executor,
		dispatcher: dispatcher,
		limiter:    limiter,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.loader, a.executor, a.dispatcher, a.limiter, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Stride API")
	})

	w := app.Group("/workflows")
	w.Post("/run", handlers.RunWorkflow)
	w.Post("/validate", handlers.ValidateWorkflow)

	p := app.Group("/providers")
	p.Get("/stats", handlers.GetProviderStats)
	p.Post("/:name/restore", handlers.RestoreProvider)

	app.Get("/rate-limits/:key", handlers.GetRateLimit)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
