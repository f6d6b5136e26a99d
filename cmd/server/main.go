package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subscription-api/internal/api"
	"subscription-api/internal/billing"
	"subscription-api/internal/config"
	"subscription-api/internal/database"
	"subscription-api/internal/services"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}
	cfg := config.AppConfig

	// Initialize logging
	logging.InitLogging(cfg.Mode, cfg.LogLevel)

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	if cfg.StripeSecretKey == "" {
		logging.Warnf("STRIPE_SECRET_KEY is not set, provider calls will fail")
	}
	if cfg.StripeWebhookSecret == "" {
		logging.Warnf("STRIPE_WEBHOOK_SECRET is not set, webhooks will be rejected")
	}

	provider := billing.NewStripeProvider(cfg.StripeSecretKey)
	store := database.NewStore(database.GetDB())

	// Correlation store, event ledger and change feed share Redis when it is up
	var (
		pairings services.PairingStore
		ledger   services.EventLedger
		feed     services.ChangeFeed
		stops    []func()
	)
	if client := database.GetRedis(); client != nil {
		rs := services.NewRedisService(client)
		pairings = services.NewRedisPairingStore(rs, cfg.PairingTTL)
		ledger = services.NewRedisEventLedger(rs, cfg.PairingTTL)
		feed = services.NewRedisChangeFeed(rs)
	} else {
		logging.Warnf("Redis unavailable, using in-memory pairing store and event ledger")
		memPairings := services.NewMemoryPairingStore(cfg.PairingTTL)
		memLedger := services.NewReplayProtection(cfg.PairingTTL)
		stops = append(stops, memPairings.Stop, memLedger.Stop)
		pairings = memPairings
		ledger = memLedger
		feed = services.NewMemoryChangeFeed()
	}

	publishers := services.FanoutPublisher{feed}
	var notifier *services.WebhookNotifier
	if cfg.ChangeWebhookURL != "" {
		notifier = services.NewWebhookNotifier(cfg.ChangeWebhookURL, cfg.ChangeWebhookSecret)
		publishers = append(publishers, notifier)
		logging.Infof("Forwarding subscription changes to %s", cfg.ChangeWebhookURL)
	}

	opts := []services.ReconcilerOption{
		services.WithEventLedger(ledger),
		services.WithChangePublisher(publishers),
	}
	if brevo := services.NewBrevoService(cfg.BrevoAPIKey, cfg.BrevoFromEmail, cfg.BrevoFromName, cfg.ServiceName); brevo != nil {
		opts = append(opts, services.WithTrialEndingNotifier(brevo))
	} else {
		logging.Infof("Brevo not configured, trial ending emails disabled")
	}

	reconciler := services.NewSubscriptionReconciler(provider, store, pairings, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := services.NewAccountSweeper(provider, store, cfg.SweepInterval)
	sweeper.Start(ctx)

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	r := gin.New()
	r.Use(gin.Recovery())

	api.SetupRoutes(r, &api.Handler{
		Reconciler:    reconciler,
		Trials:        services.NewTrialService(store, cfg.TrialDuration),
		Users:         services.NewUserService(store),
		Store:         store,
		Feed:          feed,
		Billing:       provider,
		WebhookSecret: cfg.StripeWebhookSecret,
		KeyPrefix:     provider.KeyPrefix(),
		ServiceName:   cfg.ServiceName,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Infof("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("Server shutdown failed: %v", err)
	}

	cancel()
	sweeper.Stop()
	if notifier != nil {
		notifier.Wait()
	}
	for _, stop := range stops {
		stop()
	}
	if err := database.CloseDatabase(); err != nil {
		logging.Errorf("Failed to close database: %v", err)
	}
}
