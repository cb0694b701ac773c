//go:build wireinject
// +build wireinject

// Wire依赖注入配置文件
//
// 教学说明：
// 1. Wire是Google开发的编译期依赖注入工具
// 2. 与运行时反射注入不同，Wire在编译期生成代码
// 3. 优势：零运行时开销、类型安全、编译期检测循环依赖
//
// Wire工作流程：
// Step 1: 编写wire.go（本文件），定义Providers和Injector
// Step 2: 运行 `wire gen ./cmd/api`
// Step 3: Wire生成wire_gen.go，包含完整的依赖创建代码

package main

import (
	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xiebiao/warehouse/internal/application/allocation"
	"github.com/xiebiao/warehouse/internal/application/confirmation"
	"github.com/xiebiao/warehouse/internal/application/receiving"
	"github.com/xiebiao/warehouse/internal/application/release"
	domaingateway "github.com/xiebiao/warehouse/internal/domain/gateway"
	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/outbox"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
	"github.com/xiebiao/warehouse/internal/domain/shared"
	"github.com/xiebiao/warehouse/internal/infrastructure/config"
	erpgateway "github.com/xiebiao/warehouse/internal/infrastructure/gateway"
	"github.com/xiebiao/warehouse/internal/infrastructure/persistence/mysql"
	"github.com/xiebiao/warehouse/internal/infrastructure/persistence/redis"
	"github.com/xiebiao/warehouse/internal/interface/http/handler"
	"github.com/xiebiao/warehouse/internal/interface/http/middleware"
	"github.com/xiebiao/warehouse/pkg/jwt"
	"github.com/xiebiao/warehouse/pkg/mq"
)

// infrastructureSet 基础设施层依赖
var infrastructureSet = wire.NewSet(
	config.Load,     // 加载配置文件
	newLogger,       // zap日志器
	mysql.NewDB,     // 创建MySQL连接
	redis.NewClient, // 创建Redis连接
	providePublisher,
)

// repositorySet 仓储层依赖
var repositorySet = wire.NewSet(
	mysql.NewLotRepository,
	mysql.NewReservationRepository,
	mysql.NewMarkerRepository,
	mysql.NewAuditRepository,
	mysql.NewOutboxRepository,
	mysql.NewSummaryRepository,
	mysql.NewTxManager,
	wire.Bind(new(shared.TxManager), new(*mysql.TxManager)),
	provideAvailabilityCache,
	erpgateway.NewERPClient,
)

// applicationSet 应用层依赖
var applicationSet = wire.NewSet(
	allocation.NewCandidateSelector,
	provideReserveUseCase, // 需要从配置提取TemporaryTTL
	allocation.NewPromoteUseCase,
	allocation.NewAvailabilityQuery,
	confirmation.NewConfirmUseCase,
	confirmation.NewConfirmBatchUseCase,
	provideReleaseConfirmedUseCase, // 需要从配置提取SagaTimeout
	release.NewReleaseUseCase,
	receiving.NewReceiveLotUseCase,
)

// interfaceSet 接口层依赖
var interfaceSet = wire.NewSet(
	provideJWTManager,
	middleware.NewAuthMiddleware,
	handler.NewReservationHandler,
	handler.NewLotHandler,
)

// ========================================
// Custom Providers (自定义Provider)
// ========================================
// 有些依赖的构造函数参数需要从Config中提取,Wire无法自动推导,
// 这时需要手写Provider函数

func providePublisher(cfg *config.Config) (*mq.Publisher, error) {
	return mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, "topic")
}

func provideAvailabilityCache(client *goredis.Client, cfg *config.Config) allocation.AvailabilityCache {
	return redis.NewAvailabilityCache(client, cfg.Redis.CacheTTL)
}

func provideJWTManager(cfg *config.Config) *jwt.Manager {
	return jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpire, cfg.JWT.RefreshTokenExpire)
}

func provideReserveUseCase(
	selector *allocation.CandidateSelector,
	lotRepo lot.Repository,
	resvRepo reservation.Repository,
	auditRepo reservation.AuditRepository,
	outboxRepo outbox.Repository,
	txManager shared.TxManager,
	cache allocation.AvailabilityCache,
	cfg *config.Config,
) *allocation.ReserveUseCase {
	return allocation.NewReserveUseCase(selector, lotRepo, resvRepo, auditRepo,
		outboxRepo, txManager, cache, cfg.Reservation.TemporaryTTL)
}

func provideReleaseConfirmedUseCase(
	lotRepo lot.Repository,
	resvRepo reservation.Repository,
	auditRepo reservation.AuditRepository,
	outboxRepo outbox.Repository,
	gw domaingateway.RegistrationGateway,
	txManager shared.TxManager,
	cache allocation.AvailabilityCache,
	cfg *config.Config,
) *confirmation.ReleaseConfirmedUseCase {
	return confirmation.NewReleaseConfirmedUseCase(lotRepo, resvRepo, auditRepo,
		outboxRepo, gw, txManager, cache, cfg.Reservation.SagaTimeout)
}

// provideGinEngine 创建并配置Gin引擎
func provideGinEngine(
	cfg *config.Config,
	logger *zap.Logger,
	reservationHandler *handler.ReservationHandler,
	lotHandler *handler.LotHandler,
	authMiddleware *middleware.AuthMiddleware,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())

	registerRoutes(r, reservationHandler, lotHandler, authMiddleware)
	return r
}

// ========================================
// Wire Injector (依赖注入器)
// ========================================

// InitializeApp 初始化整个应用
// wire.Build会在编译期分析依赖关系，生成初始化代码(wire_gen.go)
func InitializeApp() (*gin.Engine, error) {
	wire.Build(
		infrastructureSet,
		repositorySet,
		applicationSet,
		interfaceSet,
		provideGinEngine,
	)
	return nil, nil
}
