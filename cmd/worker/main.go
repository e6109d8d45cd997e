package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schoolbot/internal/auth"
	"schoolbot/internal/config"
	"schoolbot/internal/gateway"
	"schoolbot/internal/logging"
	"schoolbot/internal/notify"
	"schoolbot/internal/queue"
	"schoolbot/internal/store"
)

// Worker retries notifications the API could not push through the gateway.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
	}

	logger := logging.WithRollbar(logging.New(os.Stderr, !cfg.Production()), cfg.RollbarToken, cfg.Env, "worker")
	defer logging.Flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("shutdown signal received")
		cancel()
	}()

	redisClient, err := store.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("redis connect failed: %v", err)
	}
	defer redisClient.Close()
	q := queue.NewRedisQueue(redisClient.Client, "schoolbot:deliveries")

	creds := auth.NewSource("schoolbot-worker", auth.RoleGateway, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
	if _, err := creds.Token(ctx); err != nil {
		log.Fatalf("gateway credential: %v", err)
	}
	gw := gateway.New(cfg.GatewayURL, creds, cfg.GatewaySkip)
	if !cfg.GatewaySkip {
		if err := gw.Health(ctx); err != nil {
			logger.Warnf("gateway not available: %v; deliveries will be retried", err)
		} else {
			logger.Infof("gateway connected")
		}
	}

	redeliver := notify.NewRedeliverer(gw, q, cfg.MaxDeliveryAttempts, 5*time.Second, logger)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	logger.Infof("worker started, waiting for deliveries...")
	for msg := range messages {
		if err := redeliver.Process(ctx, msg); err != nil {
			logger.Warnf("redelivery: %v", err)
		}
	}
	logger.Infof("worker stopped")
}
