package middleware

import (
	"time"

	"dubserver/internal/config"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// Setup installs the ambient middleware chain every deployable role
// shares: panic recovery, tracing, request IDs, structured logging,
// Prometheus metrics, security headers, CORS, and a global rate limit
// outside development/test. Grounded on the teacher's
// Server.SetupMiddleware, generalized so every cmd/ entrypoint wires
// the same chain against its own service name rather than duplicating
// it per component.
func Setup(app *fiber.App, cfg *config.Config, serviceName string) *fiberprometheus.FiberPrometheus {
	app.Use(recover.New())
	app.Use(TracingMiddleware())
	app.Use(requestid.New())
	app.Use(ContextMiddleware())

	prom := fiberprometheus.New(serviceName)
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)

	app.Use(helmet.New())
	app.Use(StructuredLogger())

	origins := cfg.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	if cfg.Env != "development" && cfg.Env != "test" && cfg.Env != "stress" {
		app.Use(limiter.New(limiter.Config{
			Max:        100,
			Expiration: time.Minute,
			Next: func(c *fiber.Ctx) bool {
				return c.Method() == fiber.MethodOptions
			},
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Too many requests, please try again later.",
				})
			},
		}))
	}

	return prom
}
