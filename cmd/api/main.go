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

	_ "pettycash/api/swagger" // swagger docs
	"pettycash/internal/config"
	"pettycash/internal/database"
	"pettycash/internal/handler"
	"pettycash/internal/logger"
	"pettycash/internal/metrics"
	"pettycash/internal/middleware"
	"pettycash/internal/repository"
	"pettycash/internal/repository/memory"
	"pettycash/internal/service"
	"pettycash/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// stores is the persistence wiring shared by every service.
type stores struct {
	expenses    repository.ExpenseRepository
	attachments repository.AttachmentRepository
	audit       repository.AuditRepository
	balances    repository.BalanceRepository
	users       repository.UserRepository
	policies    repository.PolicyRepository
	statistics  repository.StatisticsRepository
	txManager   repository.TransactionManager
	close       func()
}

// @title           Petty Cash API
// @version         1.0
// @description     Expense claim lifecycle and petty-cash balance ledger.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load("configs/.env")
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Logger setup failed: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	st, err := openStores(cfg, zlog)
	if err != nil {
		zlog.Fatal("storage setup failed", zap.Error(err))
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(zlog.Named("ws"))
	go wsHub.Run()
	defer wsHub.Stop()

	// Set up dependencies (Repository -> Service -> Handler)
	lifecycleService := service.NewLifecycleService(service.LifecycleDeps{
		Expenses:    st.expenses,
		Attachments: st.attachments,
		Audit:       st.audit,
		Balances:    st.balances,
		Users:       st.users,
		Policies:    st.policies,
		TxManager:   st.txManager,
		Events:      wsHub,
		Recorder:    m,
		Logger:      zlog.Named("lifecycle"),
	})
	auditService := service.NewAuditService(st.expenses, st.audit)
	attachmentService := service.NewAttachmentService(st.attachments, st.expenses, zlog.Named("attachments"))
	balanceService := service.NewBalanceService(st.balances)
	userService := service.NewUserService(st.users)
	statisticsService := service.NewStatisticsService(st.statistics)

	expenseHandler := handler.NewExpenseHandler(lifecycleService, auditService, attachmentService)
	attachmentHandler := handler.NewAttachmentHandler(attachmentService)
	balanceHandler := handler.NewBalanceHandler(balanceService)
	userHandler := handler.NewUserHandler(userService)
	auditHandler := handler.NewAuditHandler(auditService)
	statisticsHandler := handler.NewStatisticsHandler(statisticsService)

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(zlog.Named("http")), m.Instrument())

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(metrics.Handler(reg)))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "store": cfg.Store})
	})

	secret := []byte(cfg.JWTSecret)
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, secret)
	})

	api := router.Group("", middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst), middleware.Authenticate(secret))
	expenseHandler.RegisterRoutes(api)
	attachmentHandler.RegisterRoutes(api)
	balanceHandler.RegisterRoutes(api)
	userHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)
	statisticsHandler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("server listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
	}
	zlog.Info("server stopped")
}

func openStores(cfg *config.Config, zlog *zap.Logger) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		zlog.Warn("using in-memory store; data is lost on restart")
		mem := memory.New()
		return &stores{
			expenses:    mem.Expenses(),
			attachments: mem.Attachments(),
			audit:       mem.AuditLog(),
			balances:    mem.Balances(),
			users:       mem.Users(),
			policies:    mem.Policies(),
			statistics:  mem.Statistics(),
			txManager:   mem,
			close:       func() {},
		}, nil
	}

	db, err := database.NewConnection(cfg.Database.DSN(), zlog)
	if err != nil {
		return nil, err
	}
	zlog.Info("connected to postgres", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.Name))

	st := &stores{
		expenses:    repository.NewExpenseRepository(db),
		attachments: repository.NewAttachmentRepository(db),
		audit:       repository.NewAuditRepository(db),
		balances:    repository.NewBalanceRepository(db),
		users:       repository.NewUserRepository(db),
		policies:    repository.NewPolicyRepository(db),
		statistics:  repository.NewStatisticsRepository(db),
		txManager:   repository.NewTransactionManager(db),
	}
	closers := []func(){}
	if sqlDB, err := db.DB(); err == nil {
		closers = append(closers, func() { _ = sqlDB.Close() })
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			// The cache degrades to direct reads, so an unreachable redis is not fatal.
			zlog.Warn("redis unreachable at startup, policy cache will fall through", zap.Error(err))
		}
		cancel()
		st.policies = repository.NewCachedPolicyRepository(st.policies, rdb, cfg.Redis.PolicyTTL, zlog.Named("policy_cache"))
		closers = append(closers, func() { _ = rdb.Close() })
	}

	st.close = func() {
		for _, c := range closers {
			c()
		}
	}
	return st, nil
}
