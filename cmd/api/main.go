package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xiebiao/warehouse/internal/application/allocation"
	"github.com/xiebiao/warehouse/internal/application/confirmation"
	"github.com/xiebiao/warehouse/internal/application/receiving"
	"github.com/xiebiao/warehouse/internal/application/release"
	"github.com/xiebiao/warehouse/internal/application/sweeper"
	"github.com/xiebiao/warehouse/internal/infrastructure/config"
	erpgateway "github.com/xiebiao/warehouse/internal/infrastructure/gateway"
	outboxinfra "github.com/xiebiao/warehouse/internal/infrastructure/outbox"
	"github.com/xiebiao/warehouse/internal/infrastructure/persistence/mysql"
	"github.com/xiebiao/warehouse/internal/infrastructure/persistence/redis"
	"github.com/xiebiao/warehouse/internal/interface/http/handler"
	"github.com/xiebiao/warehouse/internal/interface/http/middleware"
	"github.com/xiebiao/warehouse/pkg/jwt"
	"github.com/xiebiao/warehouse/pkg/metrics"
	"github.com/xiebiao/warehouse/pkg/mq"
	"github.com/xiebiao/warehouse/pkg/response"
)

// main 主程序入口
// 说明：手动依赖注入（wire.go提供编译期生成的等价版本）
func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	fmt.Printf("✓ 配置加载成功\n")
	fmt.Printf("  - 服务端口: %d\n", cfg.Server.Port)
	fmt.Printf("  - 运行模式: %s\n", cfg.Server.Mode)
	fmt.Printf("  - 数据库: %s:%d/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)
	fmt.Printf("  - Redis: %s\n", cfg.Redis.Addr())
	fmt.Printf("  - 登记网关: %s\n", cfg.Gateway.BaseURL)

	// 2. 初始化日志
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	// 3. 初始化监控指标
	metrics.InitMetrics()

	// 4. 初始化基础设施连接
	db, err := mysql.NewDB(cfg)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}

	redisClient, err := redis.NewClient(cfg)
	if err != nil {
		log.Fatalf("初始化Redis失败: %v", err)
	}

	publisher, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, "topic")
	if err != nil {
		log.Fatalf("初始化RabbitMQ失败: %v", err)
	}
	defer publisher.Close()

	// 5. 依赖注入（手动组装）
	// 依赖链: Repository ← UseCase ← Handler

	// 基础设施层
	txManager := mysql.NewTxManager(db)
	lotRepo := mysql.NewLotRepository(db)
	resvRepo := mysql.NewReservationRepository(db)
	markerRepo := mysql.NewMarkerRepository(db)
	auditRepo := mysql.NewAuditRepository(db)
	outboxRepo := mysql.NewOutboxRepository(db)
	summaryRepo := mysql.NewSummaryRepository(db)
	availabilityCache := redis.NewAvailabilityCache(redisClient, cfg.Redis.CacheTTL)
	registrationGateway := erpgateway.NewERPClient(cfg, logger)
	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpire, cfg.JWT.RefreshTokenExpire)

	// 应用层
	selector := allocation.NewCandidateSelector(lotRepo, resvRepo)
	reserveUseCase := allocation.NewReserveUseCase(selector, lotRepo, resvRepo,
		auditRepo, outboxRepo, txManager, availabilityCache, cfg.Reservation.TemporaryTTL)
	promoteUseCase := allocation.NewPromoteUseCase(lotRepo, resvRepo, auditRepo,
		txManager, availabilityCache)
	availabilityQuery := allocation.NewAvailabilityQuery(lotRepo, resvRepo, availabilityCache)
	confirmUseCase := confirmation.NewConfirmUseCase(lotRepo, resvRepo, markerRepo,
		auditRepo, outboxRepo, registrationGateway, txManager, availabilityCache)
	confirmBatchUseCase := confirmation.NewConfirmBatchUseCase(confirmUseCase)
	releaseConfirmedUseCase := confirmation.NewReleaseConfirmedUseCase(lotRepo, resvRepo,
		auditRepo, outboxRepo, registrationGateway, txManager, availabilityCache,
		cfg.Reservation.SagaTimeout)
	releaseUseCase := release.NewReleaseUseCase(lotRepo, resvRepo, auditRepo,
		outboxRepo, txManager, availabilityCache)
	receiveUseCase := receiving.NewReceiveLotUseCase(lotRepo, summaryRepo, outboxRepo, txManager)

	// 接口层
	reservationHandler := handler.NewReservationHandler(reserveUseCase, promoteUseCase,
		availabilityQuery, confirmUseCase, confirmBatchUseCase, releaseConfirmedUseCase,
		releaseUseCase)
	lotHandler := handler.NewLotHandler(receiveUseCase, lotRepo, summaryRepo)
	authMiddleware := middleware.NewAuthMiddleware(jwtManager)

	// 6. 后台任务
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	expirySweeper := sweeper.NewSweeper(lotRepo, resvRepo, auditRepo, outboxRepo,
		txManager, availabilityCache, logger,
		cfg.Reservation.SweepInterval, cfg.Reservation.SweepBatch)
	go expirySweeper.Run(bgCtx)

	drainer := outboxinfra.NewDrainer(outboxRepo, publisher, logger, cfg)
	go drainer.Run(bgCtx)

	// 7. 初始化Gin引擎
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())

	registerRoutes(r, reservationHandler, lotHandler, authMiddleware)

	// 8. 启动服务（优雅停机）
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		fmt.Printf("\n🚀 服务启动成功！\n")
		fmt.Printf("   访问地址: http://localhost%s\n", addr)
		fmt.Printf("   健康检查: http://localhost%s/ping\n", addr)
		fmt.Printf("   监控指标: http://localhost%s/metrics\n", addr)
		fmt.Printf("   API文档:  http://localhost%s/swagger/index.html\n", addr)
		fmt.Printf("\n按Ctrl+C停止服务\n\n")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("启动服务失败: %v", err)
		}
	}()

	// 等待停机信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到停机信号,开始优雅停机")
	bgCancel() // 先停后台任务(清理器/搬运器)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("优雅停机失败", zap.Error(err))
	}
	logger.Info("服务已停止")
}

// newLogger 根据配置构建zap日志器
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.Log.Format == "console" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if cfg.Log.Output != "" {
		zapCfg.OutputPaths = []string{cfg.Log.Output}
	}
	zapCfg.DisableCaller = !cfg.Log.EnableCaller

	return zapCfg.Build()
}

// registerRoutes 注册路由
func registerRoutes(r *gin.Engine, reservationHandler *handler.ReservationHandler,
	lotHandler *handler.LotHandler, authMiddleware *middleware.AuthMiddleware) {
	// 健康检查
	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{
			"message": "pong",
			"status":  "healthy",
		})
	})

	// Prometheus指标
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger文档
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API路由组
	v1 := r.Group("/api/v1")
	{
		// 批次模块
		lots := v1.Group("/lots")
		{
			// 查询接口(公开)
			lots.GET("", lotHandler.List)
			lots.GET("/summary", lotHandler.Summary)
			lots.GET("/:id/availability", reservationHandler.Availability)

			// 收货(需要登录)
			lots.POST("", authMiddleware.RequireAuth(), lotHandler.Receive)
		}

		// 预留模块(全部需要登录)
		reservations := v1.Group("/reservations")
		reservations.Use(authMiddleware.RequireAuth())
		{
			reservations.POST("", reservationHandler.Reserve)
			reservations.POST("/:id/promote", reservationHandler.Promote)
			reservations.POST("/:id/confirm", reservationHandler.Confirm)
			reservations.POST("/confirm-batch", reservationHandler.ConfirmBatch)
			reservations.DELETE("/:id", reservationHandler.Release)
			reservations.POST("/release-by-source", reservationHandler.ReleaseBySource)
			reservations.POST("/release-bulk", reservationHandler.ReleaseBulk)

			// 补偿释放已确认预留:跨系统破坏性操作,仅限supervisor
			reservations.POST("/:id/release-confirmed",
				authMiddleware.RequireRole("supervisor"),
				reservationHandler.ReleaseConfirmed)
		}
	}
}
