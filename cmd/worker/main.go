package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"absensi/internal/config"
	"absensi/internal/queue"
	"absensi/internal/store"
)

const counterTTL = 60 * 24 * time.Hour

// Worker consumes commit events and maintains per-class daily present
// counters in Redis so dashboards read a counter instead of aggregating
// ledger rows.
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
		q = queue.NewRedisQueue(redisClient.Client, "absensi:commits")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for commit events...")
	for msg := range messages {
		if msg.Type != queue.TypeCommit {
			continue
		}

		// Body is classKey|day-month-year, written by the scan handler.
		classKey, date, ok := splitCommit(string(msg.Body))
		if !ok {
			log.Printf("skipping malformed commit event %q", msg.Body)
			continue
		}

		key := fmt.Sprintf("summary:%s:%s", classKey, date)
		count, err := redisClient.Client.Incr(ctx, key).Result()
		if err != nil {
			log.Printf("increment %s failed: %v", key, err)
			continue
		}
		if count == 1 {
			_ = redisClient.Client.Expire(ctx, key, counterTTL).Err()
		}
		log.Printf("class %s has %d present on %s", classKey, count, date)
	}

	log.Println("worker stopped")
}

func splitCommit(body string) (classKey, date string, ok bool) {
	i := strings.LastIndex(body, "|")
	if i <= 0 || i == len(body)-1 {
		return "", "", false
	}
	return body[:i], body[i+1:], true
}
