package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pool-api/internal/cache"
	"pool-api/internal/config"
	"pool-api/internal/controller"
	"pool-api/internal/database"
	"pool-api/internal/engine"
	"pool-api/internal/external"
	"pool-api/internal/middleware"
	"pool-api/internal/monitoring"
	"pool-api/internal/service"
	"pool-api/pkg/logger"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.Initialize(ctx, cfg)
	cancel()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize storage")
	}

	publisher := buildPublisher(cfg)
	gateway := external.NewGatewayClient(&external.GatewayConfig{
		BaseURL:   cfg.Gateway.BaseURL,
		APIKey:    cfg.Gateway.APIKey,
		APISecret: cfg.Gateway.APISecret,
		Timeout:   cfg.Gateway.Timeout,
	})

	cacheService := cache.NewRedisCache(db.RedisDB, cfg.Redis.CacheTTL)
	metrics := monitoring.NewPrometheusMetrics()
	monitoring.StartSystemMetricsRecording(metrics, 15*time.Second)

	repos := db.Repositories
	poolEngine := engine.NewPoolEngine(repos.Pool, repos.Balance, repos.Ledger, repos.TxRunner, engine.PoolEngineConfig{
		Currency:            cfg.Pool.Currency,
		WarningUnallocated:  decimal.NewFromFloat(cfg.Pool.WarningUnallocated),
		WarningAllocatedPct: decimal.NewFromFloat(cfg.Pool.WarningAllocatedPct),
		AlertThreshold:      decimal.NewFromFloat(cfg.Pool.AlertThreshold),
		Tolerance:           decimal.NewFromFloat(cfg.Limits.ReconciliationTolerance),
	})
	balanceEngine := engine.NewBalanceEngine(repos.Pool, repos.Balance, repos.Ledger, repos.TxRunner)
	idempotency := engine.NewIdempotencyManager(repos.Idempotency, cfg.Redis.IdempotencyTTL)
	txEngine := engine.NewTransactionEngine(
		repos.Pool, repos.Balance, repos.Ledger, repos.Transaction,
		repos.TxRunner, repos.LockManager, idempotency,
		engine.TransactionEngineConfig{
			MinAmount: decimal.NewFromFloat(cfg.Limits.MinTransactionAmount),
			MaxAmount: decimal.NewFromFloat(cfg.Limits.MaxTransactionAmount),
			LockTTL:   cfg.Redis.LockTTL,
		},
	)
	reconciliation := engine.NewReconciliationEngine(
		repos.Pool, repos.Balance, repos.Ledger,
		decimal.NewFromFloat(cfg.Limits.ReconciliationTolerance),
	)

	fundsService := service.NewFundsService(
		poolEngine, balanceEngine, txEngine, reconciliation,
		cacheService, publisher, metrics,
	)
	adminService := service.NewAdminService(
		poolEngine, balanceEngine, txEngine, reconciliation,
		gateway, cfg.Pool.GatewayAccountID,
		cacheService, publisher, metrics,
	)

	scheduler := service.NewScheduler(adminService, cfg.Jobs)
	if err := scheduler.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start background jobs")
	}

	health := monitoring.NewHealthChecker(version)
	health.RegisterCheck("mongodb", func(ctx context.Context) error {
		return db.HealthCheck(ctx)
	}, 5*time.Second)
	health.RegisterCheck("redis", func(ctx context.Context) error {
		return cacheService.Ping(ctx)
	}, 3*time.Second)

	router := buildRouter(cfg, db, metrics, health, fundsService, adminService)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logrus.WithField("addr", server.Addr).Info("Pool API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	scheduler.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Forced server shutdown")
	}
	if err := publisher.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close event publisher")
	}
	if err := db.Close(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Failed to close storage connections")
	}
	logrus.Info("Shutdown complete")
}

func buildPublisher(cfg *config.Config) external.EventPublisher {
	if !cfg.RabbitMQ.Enabled {
		logrus.Info("Event publishing disabled")
		return external.NoopPublisher{}
	}
	publisher, err := external.NewEventPublisher(&external.PublisherConfig{
		URL:            cfg.RabbitMQ.URL,
		Exchange:       cfg.RabbitMQ.Exchange,
		PublishTimeout: cfg.RabbitMQ.PublishTimeout,
	})
	if err != nil {
		logrus.WithError(err).Warn("Event publisher unavailable, events will be dropped")
		return external.NoopPublisher{}
	}
	return publisher
}

func buildRouter(
	cfg *config.Config,
	db *database.Database,
	metrics monitoring.MetricsService,
	health monitoring.HealthChecker,
	fundsService service.FundsService,
	adminService service.AdminService,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logrus.WithError(err).Warn("Failed to set trusted proxies")
	}

	router.Use(requestid.New())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger(metrics))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.MaxBodySize(1 << 20))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-Admin-Key", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	auth := middleware.NewAuthMiddleware(
		cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer,
		cfg.Auth.InternalKey, cfg.Auth.AdminKey,
	)
	rateLimit := middleware.NewRateLimitMiddleware(db.RedisDB, nil)

	fundsController := controller.NewFundsController(fundsService)
	adminController := controller.NewAdminController(adminService)

	router.GET(cfg.Monitoring.HealthCheckPath, func(c *gin.Context) {
		status := health.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if status.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	router.GET("/ready", func(c *gin.Context) {
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	if cfg.Monitoring.EnableMetrics {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api")
	api.Use(rateLimit.IPRateLimit())
	api.Use(auth.JWTAuth())
	api.Use(rateLimit.UserRateLimit())
	{
		pool := api.Group("/pool")
		{
			pool.GET("/status", fundsController.GetPoolStatus)
			pool.GET("/health", fundsController.GetPoolHealth)
		}

		balance := api.Group("/balance")
		balance.Use(auth.ValidateUserAccess())
		{
			balance.GET("/:userId", fundsController.GetBalance)
			balance.GET("/:userId/ledger", fundsController.GetLedger)
			balance.GET("/:userId/summary", fundsController.GetLedgerSummary)
			balance.GET("/:userId/reconcile", fundsController.ReconcileUser)
			balance.POST("/:userId/reserve", fundsController.ReserveFunds)
			balance.POST("/:userId/release", fundsController.ReleaseReserved)
		}

		transactions := api.Group("/transactions")
		{
			transactions.POST("/sale", rateLimit.FundsRateLimit(), fundsController.ProcessSale)
			transactions.POST("/deposit", rateLimit.FundsRateLimit(), fundsController.InitiateDeposit)
			transactions.POST("/:transactionId/refund", rateLimit.FundsRateLimit(), fundsController.ProcessRefund)
			transactions.POST("/:transactionId/cancel", fundsController.CancelTransaction)
			transactions.GET("/:transactionId", fundsController.GetTransaction)
			transactions.GET("/user/:userId", auth.ValidateUserAccess(), fundsController.ListTransactions)
		}
	}

	admin := router.Group("/admin")
	admin.Use(rateLimit.IPRateLimit())
	admin.Use(auth.AdminAuth())
	{
		admin.POST("/pool/funds/add", adminController.AddFunds)
		admin.POST("/pool/funds/remove", adminController.RemoveFunds)
		admin.POST("/pool/reserve", adminController.ReservePoolFunds)
		admin.POST("/pool/release", adminController.ReleasePoolFunds)
		admin.POST("/pool/allocate", adminController.AllocateToUser)
		admin.POST("/pool/deallocate", adminController.DeallocateFromUser)
		admin.GET("/pool/integrity", adminController.VerifyPoolIntegrity)
		admin.POST("/balance/adjust", adminController.AdjustBalance)
		admin.POST("/deposits/:transactionId/approve", adminController.ApproveDeposit)
		admin.POST("/deposits/:transactionId/reject", adminController.RejectDeposit)
		admin.POST("/reconcile/gateway", adminController.ReconcileWithGateway)
		admin.POST("/reconcile/users", adminController.ReconcileAllUsers)
	}

	return router
}
