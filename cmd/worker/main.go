package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/handshake-escrow/backend/internal/config"
	"github.com/handshake-escrow/backend/internal/db"
	"github.com/handshake-escrow/backend/internal/events"
	"github.com/handshake-escrow/backend/internal/repositories"
	"github.com/handshake-escrow/backend/migrations"
	"go.uber.org/zap"
)

// The worker drains the usage event stream into durable per-agent counters
// so metering never sits on the request path.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConn), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	usageRepo := repositories.NewUsageRepo(pool)
	subscriber := events.NewRedisSubscriber(rdb, log)

	err = subscriber.Subscribe(ctx, events.StreamUsage, func(event events.Event) {
		if event.Type != events.EventUsageMetered {
			return
		}
		agentID, _ := event.Payload["agent_id"].(string)
		operation, _ := event.Payload["operation"].(string)
		if agentID == "" || operation == "" {
			log.Warn("dropping malformed usage event", zap.Any("payload", event.Payload))
			return
		}
		if err := usageRepo.Increment(ctx, agentID, operation); err != nil {
			log.Error("failed to increment usage counter",
				zap.String("agent_id", agentID),
				zap.String("operation", operation),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		log.Fatal("failed to subscribe to usage stream", zap.Error(err))
	}

	// Escrow lifecycle events are logged for operational visibility.
	err = subscriber.Subscribe(ctx, events.StreamEscrow, func(event events.Event) {
		log.Info("escrow event", zap.String("type", event.Type), zap.Any("payload", event.Payload))
	})
	if err != nil {
		log.Fatal("failed to subscribe to escrow stream", zap.Error(err))
	}

	log.Info("worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down worker")
		cancel()
	case <-ctx.Done():
	}
}
