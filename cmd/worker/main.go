package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/ignite/mailflow/internal/app"
	"github.com/ignite/mailflow/internal/config"
)

func main() {
	log.Println("Starting mailflow dispatch worker...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	// --once runs a single batch and exits, for cron-style scheduling.
	if len(os.Args) > 1 && os.Args[1] == "--once" {
		sum, err := a.Dispatcher.RunOnce(ctx)
		if err != nil {
			log.Fatalf("Dispatch failed: %v", err)
		}
		log.Printf("Dispatched: claimed=%d sent=%d suppressed=%d failed=%d retried=%d",
			sum.Claimed, sum.Sent, sum.Suppressed, sum.Failed, sum.Retried)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Dispatcher.Run(ctx, cfg.Dispatch.PollInterval())
	}()
	go func() {
		defer wg.Done()
		a.Recovery.Start(ctx)
	}()
	log.Printf("Dispatcher started (every %s, batch %d, providers %v)",
		cfg.Dispatch.PollInterval(), cfg.Dispatch.BatchSize, a.Sender.Names())
	log.Printf("Stale claim recovery started (every %s, stale after %s)",
		cfg.Dispatch.RecoveryInterval(), cfg.Dispatch.StaleAfter())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	wg.Wait()
	log.Println("Worker stopped")
}
