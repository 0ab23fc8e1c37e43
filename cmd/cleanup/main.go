// Command cleanup is the entry point for the janitor role
// (ComponentCleanup): a robfig/cron-driven scheduler that periodically
// runs the janitor's sweep cycle. Grounded on the teacher's
// cmd/server/main.go bootstrap/shutdown shape, adapted from an HTTP
// listener to a cron scheduler since this role serves no inbound
// traffic of its own.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dubserver/internal/bootstrap"
	"dubserver/internal/cleanup"
	"dubserver/internal/config"
	"dubserver/internal/observability"

	"github.com/robfig/cron/v3"
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

	db, _, err := bootstrap.InitRuntime(cfg, bootstrap.Options{EnsureDefaultOAuthApp: false})
	if err != nil {
		log.Fatalf("runtime initialization failed: %v", err)
	}

	janitor := cleanup.New(db, cfg.DataDir, cfg.ServerURL, cfg.TokenHMACSecret)

	interval := cfg.CleanupIntervalSeconds
	if interval <= 0 {
		interval = 30
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %ds", interval)
	if _, err := c.AddFunc(spec, func() {
		janitor.RunOnce(context.Background())
	}); err != nil {
		log.Fatalf("cleanup: failed to schedule sweep: %v", err)
	}
	c.Start()

	log.Printf("cleanup: running janitor every %ds", interval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("cleanup: shutting down...")
	<-c.Stop().Done()
}
