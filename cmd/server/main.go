package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/skinvault/escrowd/internal/botpool"
	"github.com/skinvault/escrowd/internal/breaker"
	"github.com/skinvault/escrowd/internal/config"
	"github.com/skinvault/escrowd/internal/handler"
	"github.com/skinvault/escrowd/internal/middleware"
	"github.com/skinvault/escrowd/internal/pkg/logger"
	"github.com/skinvault/escrowd/internal/queue"
	"github.com/skinvault/escrowd/internal/repository"
	"github.com/skinvault/escrowd/internal/service"
	"github.com/skinvault/escrowd/internal/steam"
	"github.com/skinvault/escrowd/internal/store"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Logger
	logger.Init(cfg.Server.LogLevel)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. Initialize Persistence
	// The relational ledger is mandatory: it is the only place trade
	// state may live.
	db, err := repository.NewDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	logger.Info("✅ Connected to PostgreSQL")
	ledger := repository.NewPostgresLedgerRepo(db)
	riskRepo := repository.NewPostgresRiskRepo(db)

	// Score cache (Redis > Memory)
	var scoreCache store.ScoreCache
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			scoreCache = redisClient
		} else {
			logger.Error("⚠️ Failed to connect to Redis, falling back to memory", "error", err)
		}
	}
	if scoreCache == nil {
		scoreCache = service.NewMemoryScoreCache()
	}

	// 4. Initialize Core Services
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Cooldown:         time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
		HalfOpenMax:      cfg.Breaker.HalfOpenMax,
	})

	client := steam.NewAPIClient(cfg.Platform.APIBaseURL, cfg.Platform.APIKey)

	riskEngine := service.NewRiskEngine(riskRepo, scoreCache,
		time.Duration(cfg.Risk.WindowDays)*24*time.Hour)

	pool := botpool.New(botpool.Config{
		InventoryCap:     cfg.Pool.InventoryCap,
		HealthInterval:   time.Duration(cfg.Pool.HealthIntervalSeconds) * time.Second,
		LoginDelay:       time.Duration(cfg.Pool.LoginDelaySeconds) * time.Second,
		MaxLoginAttempts: cfg.Pool.MaxLoginAttempts,
		LoginRetryDelay:  time.Duration(cfg.Pool.LoginRetrySeconds) * time.Second,
		RateLimitBase:    time.Duration(cfg.Pool.RateLimitBaseSeconds) * time.Second,
	}, client, breakers)

	for _, bot := range cfg.Bots {
		pool.RegisterBot(bot.ID, bot.Handle, nil)
		if bot.Credential != "" {
			if err := riskEngine.RegisterCredential(ctx, bot.ID, bot.Credential); err != nil {
				logger.Error("Failed to register bot credential", "bot_id", bot.ID, "error", err)
			}
		}
	}
	// Logins are serialized inside the pool; run them off the startup
	// path so a rate-limited platform does not block the server.
	go func() {
		for _, bot := range cfg.Bots {
			if err := pool.LoginWithRetry(ctx, bot.ID); err != nil {
				logger.Error("Bot login failed, health cycle will retry", "bot_id", bot.ID, "error", err)
			}
		}
	}()
	pool.StartHealthChecks(ctx)

	offersBreaker := breakers.Get("trade_offers")
	gate := service.NewScamGate(
		service.NewLiveInventory(client, offersBreaker.Execute),
		riskEngine,
		cfg.Risk.BlockThreshold,
	)

	webhooks := queue.NewWebhookDispatcher()

	ladder := make([]time.Duration, 0, len(cfg.Queue.BackoffLadderSeconds))
	for _, s := range cfg.Queue.BackoffLadderSeconds {
		ladder = append(ladder, time.Duration(s)*time.Second)
	}
	tradeQueue := queue.New(queue.Config{
		Workers:       cfg.Queue.Workers,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		Lease:         time.Duration(cfg.Queue.LeaseSeconds) * time.Second,
		MaxStalls:     cfg.Queue.MaxStalls,
		VIPBand:       cfg.Queue.VIPPriorityBand,
		BackoffLadder: ladder,
	}, webhooks)

	orch := service.NewOrchestrator(ledger, pool, gate, client, breakers, client, webhooks, service.OrchestratorConfig{
		FeePercent:    decimal.NewFromFloat(cfg.Escrow.FeePercent),
		DepositMarkup: decimal.NewFromFloat(cfg.Escrow.DepositMarkup),
		Expiry:        time.Duration(cfg.Escrow.ExpiryMinutes) * time.Minute,
		SweepInterval: time.Duration(cfg.Escrow.ExpirySweepSeconds) * time.Second,
	})

	tradeQueue.SetProcessor(orch.ProcessJob)
	tradeQueue.Start(ctx)

	// External offer event stream feeds the state machine.
	stream := steam.NewStream(cfg.Platform.EventStreamURL, cfg.Platform.APIKey)
	stream.Start()
	go orch.Run(ctx, stream.Events())

	// 5. Initialize Handlers
	tradeHandler := handler.NewTradeHandler(orch, tradeQueue, ledger)
	listingHandler := handler.NewListingHandler(ledger)
	botHandler := handler.NewBotHandler(pool)
	riskHandler := handler.NewRiskHandler(riskEngine)

	// 6. Setup Router
	r := gin.Default()

	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "escrowd"})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	{
		writes := v1.Group("")
		writes.Use(middleware.RateLimitMiddleware(cfg.Server.RateRPS, cfg.Server.RateBurst))
		{
			writes.POST("/trades", tradeHandler.CreateTrade)
			writes.POST("/trades/batch", tradeHandler.CreateBatch)
			writes.POST("/trades/:id/pay", tradeHandler.Pay)
			writes.POST("/listings", listingHandler.CreateListing)
			writes.POST("/risk/credentials/verify", riskHandler.VerifyCredential)
		}

		v1.GET("/trades/:id", tradeHandler.GetTrade)
		v1.GET("/jobs/:id", tradeHandler.GetJob)
		v1.GET("/listings/:id", listingHandler.GetListing)
		v1.GET("/bots", botHandler.ListBots)
		v1.GET("/risk/:subject", riskHandler.GetScore)
	}

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 escrowd started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream.Stop()
	stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}
