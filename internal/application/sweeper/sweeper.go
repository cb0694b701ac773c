package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiebiao/warehouse/internal/application/allocation"
	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/outbox"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
	"github.com/xiebiao/warehouse/internal/domain/shared"
	"github.com/xiebiao/warehouse/pkg/metrics"
)

// Sweeper 过期临时预留清理器
// 教学要点:后台清理任务的设计
// 1. 临时预留带expires_at,到点没转正就该释放,容量还给别人
// 2. 每条预留独立小事务:一条失败不拖累整轮,下一轮自然重试
// 3. 分批处理(limit),避免一次捞出海量过期行长事务锁表
type Sweeper struct {
	lotRepo    lot.Repository
	resvRepo   reservation.Repository
	auditRepo  reservation.AuditRepository
	outboxRepo outbox.Repository
	txManager  shared.TxManager
	cache      allocation.AvailabilityCache
	logger     *zap.Logger
	interval   time.Duration
	batchSize  int
}

// NewSweeper 创建清理器
func NewSweeper(
	lotRepo lot.Repository,
	resvRepo reservation.Repository,
	auditRepo reservation.AuditRepository,
	outboxRepo outbox.Repository,
	txManager shared.TxManager,
	cache allocation.AvailabilityCache,
	logger *zap.Logger,
	interval time.Duration,
	batchSize int,
) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		lotRepo:    lotRepo,
		resvRepo:   resvRepo,
		auditRepo:  auditRepo,
		outboxRepo: outboxRepo,
		txManager:  txManager,
		cache:      cache,
		logger:     logger,
		interval:   interval,
		batchSize:  batchSize,
	}
}

// SweepStats 单轮清理统计
type SweepStats struct {
	Scanned  int // 扫到的过期预留数
	Released int // 成功释放数
	Failed   int // 失败数(下一轮重试)
}

// Run 启动后台清理循环,Context取消时退出
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("过期预留清理器启动",
		zap.Duration("interval", s.interval),
		zap.Int("batch_size", s.batchSize))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("过期预留清理器退出")
			return
		case <-ticker.C:
			stats, err := s.SweepExpired(ctx)
			if err != nil {
				s.logger.Error("清理轮次失败", zap.Error(err))
				continue
			}
			if stats.Scanned > 0 {
				s.logger.Info("清理轮次完成",
					zap.Int("scanned", stats.Scanned),
					zap.Int("released", stats.Released),
					zap.Int("failed", stats.Failed))
			}
		}
	}
}

// SweepExpired 执行一轮清理
func (s *Sweeper) SweepExpired(ctx context.Context) (*SweepStats, error) {
	now := time.Now()
	expired, err := s.resvRepo.ListExpiredTemporary(ctx, now, s.batchSize)
	if err != nil {
		return nil, err
	}

	stats := &SweepStats{Scanned: len(expired)}
	for _, r := range expired {
		if err := s.sweepOne(ctx, r, now); err != nil {
			stats.Failed++
			s.logger.Warn("释放过期预留失败",
				zap.Uint("reservation_id", r.ID),
				zap.Error(err))
			continue
		}
		stats.Released++
		s.cache.Invalidate(ctx, r.LotID)
	}

	metrics.SweeperReleasedTotal.Add(float64(stats.Released))
	return stats, nil
}

// sweepOne 在独立事务里释放一条过期临时预留
// 批次ID取扫描结果里的(不可变),锁行是事务的第一条语句
// (REPEATABLE READ下锁前的普通读会钉死快照,锁内重读就不新鲜了)
func (s *Sweeper) sweepOne(ctx context.Context, scanned *reservation.Reservation, now time.Time) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.lotRepo.LockByID(txCtx, scanned.LotID); err != nil {
			return err
		}

		// 锁内重读:扫到之后、锁到之前,预留可能已被转正或释放
		r, err := s.resvRepo.FindByID(txCtx, scanned.ID)
		if err != nil {
			return err
		}
		if !r.IsExpired(now) {
			return nil
		}

		fromStatus := r.Status
		if err := r.Release(); err != nil {
			return err
		}
		if err := s.resvRepo.Update(txCtx, r); err != nil {
			return err
		}
		if err := s.auditRepo.Append(txCtx,
			reservation.NewAuditEntry(r, reservation.AuditActionExpired, fromStatus,
				"临时预留超时未转正")); err != nil {
			return err
		}
		evt, err := outbox.NewEvent(outbox.EventReservationReleased, r.ID, map[string]interface{}{
			"reservation_id": r.ID,
			"lot_id":         r.LotID,
			"reason":         "expired_sweep",
		})
		if err != nil {
			return err
		}
		return s.outboxRepo.Append(txCtx, evt)
	})
}
