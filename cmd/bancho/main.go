// Command bancho is the entry point for the session gateway role: the
// stateful server speaking the game's binary packet protocol (C7-C11).
// Grounded on the teacher's cmd/server/main.go bootstrap/listen/shutdown
// shape, adapted from a single monolithic server to this one deployable
// role's own dependency graph.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dubserver/internal/admin"
	"dubserver/internal/alerts"
	"dubserver/internal/beatmaps"
	"dubserver/internal/bootstrap"
	"dubserver/internal/bot"
	"dubserver/internal/channels"
	"dubserver/internal/config"
	"dubserver/internal/gateway"
	"dubserver/internal/geo"
	"dubserver/internal/leaderboard"
	"dubserver/internal/middleware"
	"dubserver/internal/models"
	"dubserver/internal/observability"
	"dubserver/internal/performance"
	"dubserver/internal/presence"

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

	registry := presence.NewRegistry()

	chanMgr := channels.NewManager(middleware.Logger)
	chanMgr.LoadStatic([]models.ChannelRecord{
		{ID: 1, Name: "#osu", ChannelType: models.ChannelPublic, Description: "Main channel"},
		{ID: 2, Name: "#announce", ChannelType: models.ChannelPublic, Description: "Announcements"},
	})

	geoSvc := geo.NewService(cfg.DebugMode, geo.NewEmbeddedResolver())
	lb := leaderboard.New(db, redisClient)
	alertNotifier := alerts.New(cfg.AlertDiscordWebhook, middleware.Logger)

	presenceTimeout := time.Duration(cfg.PresenceTimeoutSeconds) * time.Second
	gw := gateway.New(db, registry, chanMgr, geoSvc, lb, alertNotifier, cfg.DebugMode, presenceTimeout)

	resolver := beatmaps.New(db, cfg.DataDir, cfg.BeatmapMirrorURL, cfg.OfficialUpdateURL)
	calc := performance.New()
	b := bot.New(db, chanMgr, registry, resolver, calc, cfg.AlertDiscordWebhook)
	gw.SetBot(b)

	botPresence := presence.New("", &models.User{ID: bootstrap.BotUserID, Username: bootstrap.BotUsername, Permissions: models.PermManager}, presence.ClientData{}, presence.Geo{})
	registry.SetBot(botPresence)

	adminHandler := admin.NewHandler(registry, chanMgr, lb, cfg.TokenHMACSecret, presenceTimeout)

	app := fiber.New(fiber.Config{
		AppName:   "bancho",
		BodyLimit: 10 * 1024 * 1024,
	})
	middleware.Setup(app, cfg, "bancho")

	app.Post("/", gw.HandleRequest)
	adminHandler.Register(app)
	adminHandler.RegisterDebugStream(app)
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("bancho: shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(ctx); err != nil {
			log.Printf("bancho: shutdown error: %v", err)
		}
	}()

	log.Printf("bancho starting on port %s...", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}
