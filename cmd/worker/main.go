// Package main runs the asynq worker process: the ServeMux that drains
// the three webhook-priority queues (C8) plus the scheduler that ticks
// the periodic Reconciliation (C9) and Expiry (C10) sweeps.
//
// Grounded on the teacher's pack companion duclm31099-bookstore-backend's
// cmd/worker/{server.go,scheduler.go} split (asynq.NewServer+ServeMux
// registration in one file, asynq.NewScheduler+cron Register calls in
// another), generalized from bookstore's domain-task handlers to this
// service's webhook/reconcile/expiry task types.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/catalog"
	"github.com/fairyhunter13/checkout-payment-core/internal/checkout"
	"github.com/fairyhunter13/checkout-payment-core/internal/config"
	"github.com/fairyhunter13/checkout-payment-core/internal/expiry"
	"github.com/fairyhunter13/checkout-payment-core/internal/gateway"
	"github.com/fairyhunter13/checkout-payment-core/internal/notify"
	"github.com/fairyhunter13/checkout-payment-core/internal/ordercommit"
	"github.com/fairyhunter13/checkout-payment-core/internal/reconcile"
	"github.com/fairyhunter13/checkout-payment-core/internal/reservation"
	"github.com/fairyhunter13/checkout-payment-core/internal/stock"
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

	ctx := context.Background()

	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	stockStore := stock.NewStore(pool)
	reservationRepo := reservation.NewRepository(pool)
	ledger := reservation.NewLedger(pool, reservationRepo, stockStore)

	sessionRepo := checkout.NewSessionRepository(pool)
	orderRepo := checkout.NewOrderRepository(pool)
	paymentSessionRepo := checkout.NewPaymentSessionRepository(pool)
	priceLookup := catalog.NewStaticPriceLookup(stockStore)
	sessionService := checkout.NewSessionService(sessionRepo, ledger, priceLookup, cfg.Reservation.TTL(), cfg.Reservation.PaymentWindow())

	alerts := notify.NewLoggingAlertSink()
	commitService := ordercommit.NewService(pool, orderRepo, stockStore, alerts)
	processor := webhook.NewProcessor(orderRepo, paymentSessionRepo, sessionRepo, commitService, ledger, cfg.Emergency, alerts)

	webhookRepo := webhook.NewRepository(pool)
	breaker := webhook.NewCircuitBreaker(redisClient, "checkout:webhook_circuit", 5, 60*time.Second)
	manager := webhook.NewManager(webhookRepo, processor, breaker, cfg.Webhook.MaxRetries)

	gatewayClient := gateway.NewClient(cfg.Gateway)
	reconcileWorker := reconcile.NewWorker(gatewayClient, orderRepo, webhookRepo, processor, cfg.Reconcile)
	expiryWorker := expiry.NewWorker(ledger, orderRepo, sessionRepo, stockStore, cfg.Expiry)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessWebhook, manager.HandleProcessWebhookTask)
	mux.HandleFunc(queue.TypeDeadLetterResweep, manager.HandleDeadLetterResweepTask)
	mux.HandleFunc(queue.TypeReconcileSweep, reconcileWorker.HandleReconcileSweepTask)
	mux.HandleFunc(queue.TypeExpirySweep, expiryWorker.HandleExpirySweepTask)

	srv := queue.NewServer(queue.ServerConfig{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Queue.Concurrency,
	})

	go func() {
		log.Info().Msg("starting asynq worker server")
		if err := srv.Run(mux); err != nil {
			log.Fatal().Err(err).Msg("asynq worker server failed")
		}
	}()

	scheduler := queue.NewScheduler(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	registerSchedule(scheduler, cfg)

	go func() {
		log.Info().Msg("starting asynq scheduler")
		if err := scheduler.Run(); err != nil {
			log.Fatal().Err(err).Msg("asynq scheduler failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	scheduler.Shutdown()
	srv.Shutdown()
	log.Info().Msg("worker stopped")
}

// registerSchedule wires the periodic reconciliation and expiry sweeps
// onto the scheduler's cron tab using asynq's "@every" duration spec, so
// the schedule tracks the configured intervals directly rather than
// rounding them to whole minutes.
func registerSchedule(scheduler *asynq.Scheduler, cfg *config.Config) {
	reconcileSpec := "@every " + cfg.Reconcile.Interval().String()
	if _, err := scheduler.Register(reconcileSpec, asynq.NewTask(queue.TypeReconcileSweep, nil)); err != nil {
		log.Fatal().Err(err).Msg("failed to register reconciliation schedule")
	}

	expirySpec := "@every " + cfg.Expiry.Interval().String()
	if _, err := scheduler.Register(expirySpec, asynq.NewTask(queue.TypeExpirySweep, nil)); err != nil {
		log.Fatal().Err(err).Msg("failed to register expiry schedule")
	}

	const dlqResweepSpec = "@every 5m"
	if _, err := scheduler.Register(dlqResweepSpec, asynq.NewTask(queue.TypeDeadLetterResweep, nil)); err != nil {
		log.Fatal().Err(err).Msg("failed to register dead letter resweep schedule")
	}
}

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
