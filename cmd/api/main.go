package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/catalog"
	"github.com/fairyhunter13/checkout-payment-core/internal/checkout"
	"github.com/fairyhunter13/checkout-payment-core/internal/config"
	"github.com/fairyhunter13/checkout-payment-core/internal/handler"
	"github.com/fairyhunter13/checkout-payment-core/internal/notify"
	"github.com/fairyhunter13/checkout-payment-core/internal/reservation"
	"github.com/fairyhunter13/checkout-payment-core/internal/stock"
	"github.com/fairyhunter13/checkout-payment-core/internal/validator"
	"github.com/fairyhunter13/checkout-payment-core/internal/webhook"
	"github.com/fairyhunter13/checkout-payment-core/pkg/database"
	"github.com/fairyhunter13/checkout-payment-core/pkg/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	initLogger(cfg)
	for _, warning := range cfg.WarnIfDefaultCredentials() {
		log.Warn().Msg(warning)
	}

	ctx := context.Background()

	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	asynqClient := queue.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer asynqClient.Close()

	// Domain components, wired bottom-up: stock -> reservation -> checkout
	// -> webhook intake, plus the catalog/notify collaborators.
	stockStore := stock.NewStore(pool)
	reservationRepo := reservation.NewRepository(pool)
	ledger := reservation.NewLedger(pool, reservationRepo, stockStore)

	sessionRepo := checkout.NewSessionRepository(pool)
	orderRepo := checkout.NewOrderRepository(pool)
	paymentSessionRepo := checkout.NewPaymentSessionRepository(pool)
	priceLookup := catalog.NewStaticPriceLookup(stockStore)
	sessionService := checkout.NewSessionService(sessionRepo, ledger, priceLookup, cfg.Reservation.TTL(), cfg.Reservation.PaymentWindow())
	draftOrderService := checkout.NewDraftOrderService(orderRepo, sessionService, paymentSessionRepo)

	alerts := notify.NewLoggingAlertSink()

	webhookRepo := webhook.NewRepository(pool)
	webhookIntake := webhook.NewIntake(webhookRepo, asynqClient, cfg.Webhook, alerts)

	app := fiber.New(fiber.Config{
		AppName:      "Checkout Payment Core",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())

	validate := validator.New()

	healthHandler := handler.NewHealthHandler(pool)
	checkoutHandler := handler.NewCheckoutHandler(sessionService, validate)
	paymentHandler := handler.NewPaymentHandler(draftOrderService, validate)
	webhookHandler := handler.NewWebhookHandler(webhookIntake)
	orderHandler := handler.NewOrderHandler(draftOrderService)

	app.Get("/health", healthHandler.Check)
	app.Post("/checkout/session", checkoutHandler.CreateSession)
	app.Post("/payment/initiate", paymentHandler.Initiate)
	app.Post("/webhooks/:provider", webhookHandler.Receive)
	app.Get("/orders/by-txn/:gatewayTxnId", orderHandler.GetByGatewayTxnID)
	app.Get("/orders/:orderId", orderHandler.GetByID)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	log.Info().Msg("closing connections...")
	pool.Close()
	_ = redisClient.Close()
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
