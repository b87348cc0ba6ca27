package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkin/internal/config"
	"checkin/internal/githubstore"
	"checkin/internal/ledger"
	"checkin/internal/queue"
	"checkin/internal/store"
)

// Worker consumes accepted-scan messages and keeps the rendered report
// cached in Redis, so the report view does not hit the ledger store on
// every page load during a rush at the desks.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "checkin:scans")
	}

	ghStore := githubstore.New(cfg.GitHubAPIURL, cfg.GitHubToken, cfg.GitHubRepo, cfg.GitHubPath, cfg.GitHubBranch, cfg.StoreTimeout)

	schema := ledger.BaseColumns()
	if cfg.ContactColumns {
		schema = ledger.ContactColumns()
	}

	refresh := func() {
		fetchCtx, fetchCancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer fetchCancel()

		l, _, err := ghStore.Fetch(fetchCtx)
		if errors.Is(err, ledger.ErrNotFound) {
			l = ledger.New(schema)
		} else if err != nil {
			log.Printf("report refresh fetch failed: %v", err)
			return
		}

		data, err := json.Marshal(ledger.Report(l, cfg.PassTypes))
		if err != nil {
			log.Printf("report marshal failed: %v", err)
			return
		}
		if err := redisClient.SetReport(ctx, data, cfg.ReportCacheTTL); err != nil {
			log.Printf("report cache write failed: %v", err)
			return
		}
		log.Printf("report cache refreshed: %d rows", l.Len())
	}

	// Warm the cache before the first scan arrives.
	refresh()

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for accepted scans...")
	for msg := range messages {
		log.Printf("scan accepted: %s / %s", msg.Name, msg.PassType)
		refresh()
		time.Sleep(10 * time.Millisecond)
	}

	log.Println("worker stopped")
}
