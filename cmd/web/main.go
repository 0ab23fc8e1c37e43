// Command web is the entry point for the client-facing web role
// (ComponentWeb): score submission, leaderboard fetch, replay and
// beatmap file serving (§6). Grounded on the teacher's cmd/server/main.go
// bootstrap/listen/shutdown shape.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dubserver/internal/beatmaps"
	"dubserver/internal/bootstrap"
	"dubserver/internal/config"
	"dubserver/internal/leaderboard"
	"dubserver/internal/middleware"
	"dubserver/internal/notify"
	"dubserver/internal/observability"
	"dubserver/internal/performance"
	"dubserver/internal/scores"
	"dubserver/internal/web"

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

	db, redisClient, err := bootstrap.InitRuntime(cfg, bootstrap.Options{EnsureDefaultOAuthApp: false})
	if err != nil {
		log.Fatalf("runtime initialization failed: %v", err)
	}

	lb := leaderboard.New(db, redisClient)
	resolver := beatmaps.New(db, cfg.DataDir, cfg.BeatmapMirrorURL, cfg.OfficialUpdateURL)
	calc := performance.New()
	notifier := notify.New(cfg.ServerURL, cfg.TokenHMACSecret)

	engine := scores.New(db, resolver, calc, lb, notifier, cfg.DataDir, cfg.DebugMode)
	handler := web.NewHandler(db, engine, lb, resolver, cfg.DataDir, cfg.BeatmapMirrorURL)

	app := fiber.New(fiber.Config{
		AppName:   "web",
		BodyLimit: 50 * 1024 * 1024,
	})
	middleware.Setup(app, cfg, "web")

	handler.Register(app)
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("web: shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(ctx); err != nil {
			log.Printf("web: shutdown error: %v", err)
		}
	}()

	log.Printf("web starting on port %s...", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}
