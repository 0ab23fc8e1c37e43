// Command api is the entry point for the public HTTP API role
// (ComponentAPI): oauth token issuance, leaderboard queries, friend
// lookups, and avatar upload. Grounded on the teacher's
// cmd/server/main.go bootstrap/listen/shutdown shape.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dubserver/internal/api"
	"dubserver/internal/auth"
	"dubserver/internal/avatar"
	"dubserver/internal/bootstrap"
	"dubserver/internal/config"
	"dubserver/internal/leaderboard"
	"dubserver/internal/middleware"
	"dubserver/internal/observability"
	"dubserver/internal/social"

	"github.com/gofiber/fiber/v2"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  cfg.OTELServiceName,
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplerRatio: cfg.OTELTracesSamplerRatio,
	})
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	db, redisClient, err := bootstrap.InitRuntime(cfg, bootstrap.Options{EnsureDefaultOAuthApp: true})
	if err != nil {
		log.Fatalf("runtime initialization failed: %v", err)
	}

	authSvc := auth.NewService(db, cfg.TokenHMACSecret, cfg.DebugMode)
	lb := leaderboard.New(db, redisClient)
	socialSvc := social.New(db)

	avatars := avatar.New(cfg.DataDir)

	handler := api.NewHandler(authSvc, lb, socialSvc, avatars)

	app := fiber.New(fiber.Config{
		AppName:   "api",
		BodyLimit: 10 * 1024 * 1024,
	})
	middleware.Setup(app, cfg, "api")

	handler.Register(app)
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("api: shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(ctx); err != nil {
			log.Printf("api: shutdown error: %v", err)
		}
	}()

	log.Printf("api starting on port %s...", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}
