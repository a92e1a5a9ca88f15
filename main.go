package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"budget-ledger-service/handlers"
	"budget-ledger-service/middleware"
	"budget-ledger-service/models"
	"budget-ledger-service/services"
	"budget-ledger-service/utils"
	"budget-ledger-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024, // 10MB, icons are the only uploads
	})

	// 🔐 GLOBAL: only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, Idempotency-Key",
		ExposeHeaders:    "Content-Length, Content-Type, Retry-After",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	// TranslateError turns driver unique-violation errors into
	// gorm.ErrDuplicatedKey, which the idempotency and slug checks rely on.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Wallet{},
		&models.Transaction{},
		&models.Category{},
		&models.Tag{},
		&models.ExchangeRate{},
		&models.UserSettings{},
		&models.IdempotencyKey{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	if err := services.SeedReferenceData(db); err != nil {
		log.Fatal("failed to seed reference data:", err)
	}

	if err := utils.EnsureUploadDir(); err != nil {
		log.Fatal("failed to ensure upload dir:", err)
	}

	rdb := connectRedis()

	rateService := services.NewRateService(db)
	ledgerService := services.NewLedgerService(db, rateService)
	walletService := services.NewWalletService(db, rateService)
	aggregateService := services.NewAggregateService(db, rateService)
	referenceService := services.NewReferenceService(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rateSync := workers.NewRateSyncClient(db); rateSync != nil {
		go workers.PollRates(ctx, rateSync, 6*time.Hour)
		log.Println("✅ Exchange-rate polling running (every 6h)")
	} else {
		log.Println("⚠️  RATE_PROVIDER_URL not set, exchange rates come from manual entry only")
	}

	ledgerService.StartMaintenanceScheduler()

	// Everything under /api carries a user context and is rate limited.
	api := app.Group("/api", middleware.RateLimitMiddleware(rdb), middleware.UserContextMiddleware())
	handlers.SetupTransactionRoutes(api, ledgerService, rateService)
	handlers.SetupWalletRoutes(api, walletService, aggregateService)
	handlers.SetupReferenceRoutes(api, referenceService)

	app.Static("/uploads", "./uploads")

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// connectRedis dials the rate-limit store. A missing or unreachable Redis is
// not fatal: the limiter falls back to pass-through.
func connectRedis() *redis.Client {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		log.Println("⚠️  REDIS_URL not set, rate limiting disabled")
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("⚠️  Invalid REDIS_URL, rate limiting disabled: %v", err)
		return nil
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("⚠️  Redis unreachable, rate limiting disabled: %v", err)
		return nil
	}

	log.Println("✅ Connected to Redis")
	return client
}
