package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"match-state-service/config"
	"match-state-service/engine"
	"match-state-service/handlers"
	"match-state-service/services"
	"match-state-service/storage"
	"match-state-service/utils"
	"match-state-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := cfg.Policy()
	if err != nil {
		log.Fatal("invalid abandon policy:", err)
	}

	// --- Storage: PostgreSQL when reachable, local JSON files otherwise ---
	local, err := storage.NewLocalStore(cfg.DataDir)
	if err != nil {
		log.Fatal("failed to open local store:", err)
	}
	var durable storage.Backend
	if cfg.DatabaseURL != "" {
		store, err := storage.NewDurableStore(cfg.DatabaseURL, cfg.StoreCallTimeout)
		if err != nil {
			log.Printf("⚠️  Durable store disabled: %v", err)
		} else {
			durable = store
		}
	} else {
		log.Println("⚠️  DATABASE_URL not set, using local file storage")
	}
	router := storage.NewRouter(ctx, durable, local, cfg.ProbeTimeout)
	if _, err := router.RefreshLobby(ctx); err != nil {
		log.Printf("⚠️  Initial lobby rebuild failed: %v", err)
	}

	// --- Settlement export ---
	var sink workers.SettlementSink = workers.LogSink{}
	if cfg.R2.Enabled() {
		r2, err := utils.NewR2Client(ctx, cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.AccessKeySecret, cfg.R2.BucketName)
		if err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		sink = workers.ObjectSink{Store: r2}
		log.Printf("✅ Settlements export to R2 bucket %s", r2.Bucket())
	} else {
		log.Println("⚠️  R2 not configured, settlements are only logged")
	}
	settlementWorker := workers.NewSettlementWorker(sink, cfg.SettlementNamespace)
	settlementWorker.Start(ctx)

	matchService := services.NewMatchService(router, engine.New(policy), settlementWorker)

	sched, err := matchService.StartCleanupScheduler(cfg.RetentionMaxAge, cfg.CleanupInterval)
	if err != nil {
		log.Fatal("failed to start cleanup scheduler:", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 64 * 1024,
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Origins(),
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, X-Admin-Key",
		MaxAge:       86400, // 24 hours
	}))

	handlers.SetupMatchRoutes(app, matchService, cfg.AdminKey)

	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost%s", cfg.ListenAddr())
	log.Printf("✅ Storage backend: %s", router.Active())
	log.Printf("✅ Abandon policy: %s", policy.Mode)
	log.Printf("✅ CORS configured for origins: %s", cfg.Origins())

	<-ctx.Done()
	log.Println("Shutting down server...")

	if err := sched.Shutdown(); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
