package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ticket-resale/config"
	"ticket-resale/internal/handlers"
	"ticket-resale/internal/services"
	"ticket-resale/internal/services/gateway"
	"ticket-resale/internal/store"
	"ticket-resale/monitoring"
	"ticket-resale/security"
	"ticket-resale/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Storage: Redis when configured, otherwise in memory
	var (
		st          store.Store
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		client, err := utils.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
		st = store.NewRedisStore(client)
	} else {
		log.Println("REDIS_URL not set, using in-memory store")
		st = store.NewMemoryStore()
	}

	// Realtime notifications
	var publisher services.Publisher = services.NopPublisher{}
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		publisher = services.NewPubNubPublisher(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, cfg.PubNubSecretKey, cfg.PubNubUserID)
	}
	notifier := services.NewNotifier(publisher, cfg.NotifyQueueSize)
	notifier.Start(cfg.NotifyWorkers)

	// Wallet gateways
	gateways := gateway.NewRegistry()
	var verifier services.IPNVerifier
	if cfg.Momo.Enabled() {
		momo := gateway.NewMomo(gateway.MomoConfig{
			PartnerCode: cfg.Momo.PartnerCode,
			AccessKey:   cfg.Momo.AccessKey,
			SecretKey:   cfg.Momo.SecretKey,
			Endpoint:    cfg.Momo.Endpoint,
			ReturnURL:   cfg.Momo.ReturnURL,
			NotifyURL:   cfg.Momo.NotifyURL,
		})
		gateways.Register(momo)
		verifier = momo
		slog.Info("momo gateway enabled", "endpoint", cfg.Momo.Endpoint)
	}

	// Initialize services
	processor := services.NewProcessor(gateways)
	paymentService := services.NewPaymentService(st, processor, notifier, cfg.CommissionRate, verifier)
	transactionService := services.NewTransactionService(st, paymentService)
	authService := services.NewAuthService(st, services.AuthConfig{
		Secret:     cfg.JWTSecret,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})

	deps := handlers.Deps{
		Auth:           authService,
		Tickets:        services.NewTicketService(st),
		Transactions:   transactionService,
		Payments:       paymentService,
		Earnings:       services.NewEarningService(st),
		CallbackSecret: cfg.CallbackSecret,
		EnableMetrics:  cfg.EnableMetrics,
	}
	if redisClient != nil {
		deps.Limiter = security.NewRateLimiter(redisClient, cfg.RateLimitPerMinute)
		deps.Health = func(ctx context.Context) error {
			return utils.RedisHealthCheck(ctx, redisClient)
		}
	}
	api := handlers.NewAPI(deps)

	ctx, cancel := context.WithCancel(context.Background())
	var background sync.WaitGroup
	// The reaper settles transactions and so notifies; it must be done
	// before the notifier closes.
	defer func() {
		cancel()
		background.Wait()
		notifier.Shutdown()
	}()

	// Start background tasks
	reaper := services.NewReaper(transactionService, cfg.PendingTransactionTTL, cfg.ReaperInterval)
	background.Add(1)
	go func() {
		defer background.Done()
		reaper.Run(ctx)
	}()
	if cfg.EnableMetrics {
		monitor := monitoring.NewMonitor(transactionService, 30*time.Second)
		background.Add(1)
		go func() {
			defer background.Done()
			monitor.Run(ctx)
		}()
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		api.Register(se)
		log.Println("Server routes registered")
		return se.Next()
	})

	app.RootCmd.AddCommand(
		newPreviewCommand(),
		newBuyCommand(),
		newHistoryCommand(),
		newSandboxCommand(cfg),
	)

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// handleShutdown cancels background work on SIGINT or SIGTERM.
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
