// Command recalculate is the entry point for the recalculation terminal
// role (ComponentRecalc): an offline batch tool that re-runs the score
// engine's weighted-PP recompute and leaderboard upsert over every user
// and mode, then exits. Grounded on original_source's recalculate/mod.rs
// one-shot sweep driver.
package main

import (
	"context"
	"log"

	"dubserver/internal/beatmaps"
	"dubserver/internal/bootstrap"
	"dubserver/internal/config"
	"dubserver/internal/leaderboard"
	"dubserver/internal/notify"
	"dubserver/internal/observability"
	"dubserver/internal/performance"
	"dubserver/internal/recalc"
	"dubserver/internal/scores"
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
	runner := recalc.New(db, engine)

	result := runner.RunAll(context.Background())
	log.Printf("recalculate: visited %d users, recomputed %d partitions, %d failures",
		result.UsersVisited, result.Recomputed, result.Failed)

	if result.Failed > 0 {
		log.Fatalf("recalculate: completed with %d failures", result.Failed)
	}
}
