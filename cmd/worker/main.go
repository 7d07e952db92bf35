package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"schoolrecords/internal/config"
	"schoolrecords/internal/queue"
	"schoolrecords/internal/records"
	"schoolrecords/internal/store"
)

// Worker consumes record events from the queue and appends them to the audit trail.
func main() {
	cfg := config.Load()
	if cfg.QueueBackend == "memory" {
		log.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is drained by the api process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	recordStore, err := store.Open(startCtx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("store connect failed: %v", err)
	}
	defer recordStore.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable, will keep retrying", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	svc := records.NewService(recordStore, records.WithLocation(cfg.Location()))

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for record events...")
	n := svc.ConsumeEvents(context.Background(), messages)
	log.Printf("worker stopped after %d events", n)
}
