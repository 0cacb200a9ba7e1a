package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/handshake-escrow/backend/internal/chain"
	"github.com/handshake-escrow/backend/internal/config"
	"github.com/handshake-escrow/backend/internal/db"
	"github.com/handshake-escrow/backend/internal/events"
	apphttp "github.com/handshake-escrow/backend/internal/http"
	"github.com/handshake-escrow/backend/internal/http/handlers"
	"github.com/handshake-escrow/backend/internal/judge"
	"github.com/handshake-escrow/backend/internal/repositories"
	"github.com/handshake-escrow/backend/internal/services"
	"github.com/handshake-escrow/backend/internal/settlement"
	"github.com/handshake-escrow/backend/migrations"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConn), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	escrowRepo := repositories.NewEscrowRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	usageRepo := repositories.NewUsageRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Judge
	judgeClient := judge.NewClient(cfg.JudgeAPIURL, cfg.JudgeAPIKey, cfg.JudgeModel, cfg.JudgeTimeout, log)

	// Settlement. Without a signing key the executor runs in manual mode
	// and returns instructions instead of broadcasting transactions.
	var backend chain.Backend
	if cfg.EVMPrivateKey != "" {
		client, err := chain.Dial(ctx, cfg.EVMRPCURL, cfg.EVMPrivateKey, log)
		if err != nil {
			log.Fatal("failed to connect to chain rpc", zap.Error(err))
		}
		backend = client
		log.Info("settlement running in automatic mode", zap.String("rpc", cfg.EVMRPCURL))
	} else {
		log.Warn("no signing key configured, settlement running in manual mode")
	}
	executor := settlement.NewExecutor(backend, cfg.TreasuryWallet, cfg.USDCContract, log)

	// Services
	locker := db.NewLocker(rdb)
	escrowService := services.NewEscrowService(escrowRepo, judgeClient, executor, locker, auditRepo, publisher, cfg, log)

	// Handlers
	escrowHandler := handlers.NewEscrowHandler(escrowService, auditRepo, log)
	usageHandler := handlers.NewUsageHandler(usageRepo, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"success": false, "error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, escrowHandler, usageHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
