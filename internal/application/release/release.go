package release

import (
	"context"
	"sort"

	"github.com/xiebiao/warehouse/internal/application/allocation"
	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/outbox"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
	"github.com/xiebiao/warehouse/internal/domain/shared"
	"github.com/xiebiao/warehouse/pkg/metrics"
)

// 释放原因(审计备注与指标标签共用)
const (
	ReasonManual          = "manual"
	ReasonSourceCancelled = "source_cancelled"
)

// ReleaseUseCase 预留释放用例
// 教学要点:
// 1. 释放的瞬间容量回池——预留行转released与批次可用量恢复
//    在同一个事务里生效,没有中间态
// 2. 对已确认预留的释放永远失败(状态机拒绝),绝不静默成功,
//    已确认预留只能走补偿流程(见confirmation包)
// 3. 按来源/批量释放是集合级原子操作:全部成功或全部回滚,
//    不允许"订单取消了一半"的中间状态
type ReleaseUseCase struct {
	lotRepo    lot.Repository
	resvRepo   reservation.Repository
	auditRepo  reservation.AuditRepository
	outboxRepo outbox.Repository
	txManager  shared.TxManager
	cache      allocation.AvailabilityCache
}

// NewReleaseUseCase 创建释放用例
func NewReleaseUseCase(
	lotRepo lot.Repository,
	resvRepo reservation.Repository,
	auditRepo reservation.AuditRepository,
	outboxRepo outbox.Repository,
	txManager shared.TxManager,
	cache allocation.AvailabilityCache,
) *ReleaseUseCase {
	return &ReleaseUseCase{
		lotRepo:    lotRepo,
		resvRepo:   resvRepo,
		auditRepo:  auditRepo,
		outboxRepo: outboxRepo,
		txManager:  txManager,
		cache:      cache,
	}
}

// Execute 释放单条预留
func (uc *ReleaseUseCase) Execute(ctx context.Context, reservationID uint) error {
	// 锁外定位批次:事务内锁前不做普通读
	// (REPEATABLE READ下会钉死快照,锁内重读就读不到最新状态)
	located, err := uc.resvRepo.FindByID(ctx, reservationID)
	if err != nil {
		return err
	}

	err = uc.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		// 锁批次行是事务的第一条语句
		if _, err := uc.lotRepo.LockByID(txCtx, located.LotID); err != nil {
			return err
		}
		// 锁内重读,快照建立于锁后
		r, err := uc.resvRepo.FindByID(txCtx, reservationID)
		if err != nil {
			return err
		}
		return uc.releaseOne(txCtx, r, ReasonManual)
	})
	if err != nil {
		return err
	}

	uc.cache.Invalidate(ctx, located.LotID)
	metrics.ReservationsReleasedTotal.WithLabelValues(ReasonManual).Inc()
	return nil
}

// ExecuteForSource 释放某需求来源下的全部未确认预留
// 返回本次释放的预留ID列表;已确认预留不在匹配范围内,原样保留
func (uc *ReleaseUseCase) ExecuteForSource(ctx context.Context,
	sourceType reservation.SourceType, sourceID string) ([]uint, error) {
	if !sourceType.Valid() {
		return nil, reservation.ErrInvalidSourceType
	}

	// 锁外圈定名单:匹配集合以请求时刻为准,
	// 事务内第一条语句必须是锁行(快照纪律同单条释放)
	all, err := uc.resvRepo.ListBySource(ctx, sourceType, sourceID)
	if err != nil {
		return nil, err
	}

	// 只匹配未确认的(temporary/active)
	matched := make([]*reservation.Reservation, 0, len(all))
	for _, r := range all {
		if r.Status == reservation.StatusTemporary || r.Status == reservation.StatusActive {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	var releasedIDs []uint
	var touchedLots []uint
	err = uc.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		touchedLots, err = lockLotsOrdered(txCtx, uc.lotRepo, matched)
		if err != nil {
			return err
		}

		for _, r := range matched {
			// 锁内重读,跳过已被并发流程处理掉的
			fresh, err := uc.resvRepo.FindByID(txCtx, r.ID)
			if err != nil {
				return err
			}
			if fresh.Status != reservation.StatusTemporary &&
				fresh.Status != reservation.StatusActive {
				continue
			}
			if err := uc.releaseOne(txCtx, fresh, ReasonSourceCancelled); err != nil {
				return err
			}
			releasedIDs = append(releasedIDs, fresh.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, lotID := range touchedLots {
		uc.cache.Invalidate(ctx, lotID)
	}
	metrics.ReservationsReleasedTotal.WithLabelValues(ReasonSourceCancelled).
		Add(float64(len(releasedIDs)))
	return releasedIDs, nil
}

// ExecuteBulk 批量释放指定预留
// 集合级原子:名单里任何一条释放失败(含已确认被拒),整批回滚
func (uc *ReleaseUseCase) ExecuteBulk(ctx context.Context, ids []uint) ([]uint, error) {
	// 锁外定位全部预留,事务内第一条语句必须是锁行
	matched := make([]*reservation.Reservation, 0, len(ids))
	for _, id := range ids {
		r, err := uc.resvRepo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		matched = append(matched, r)
	}
	if len(matched) == 0 {
		return nil, nil
	}

	var releasedIDs []uint
	var touchedLots []uint
	err := uc.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var lockErr error
		touchedLots, lockErr = lockLotsOrdered(txCtx, uc.lotRepo, matched)
		if lockErr != nil {
			return lockErr
		}

		for _, r := range matched {
			// 锁内重读,快照建立于锁后
			fresh, err := uc.resvRepo.FindByID(txCtx, r.ID)
			if err != nil {
				return err
			}
			if err := uc.releaseOne(txCtx, fresh, ReasonManual); err != nil {
				return err
			}
			releasedIDs = append(releasedIDs, fresh.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, lotID := range touchedLots {
		uc.cache.Invalidate(ctx, lotID)
	}
	metrics.ReservationsReleasedTotal.WithLabelValues(ReasonManual).
		Add(float64(len(releasedIDs)))
	return releasedIDs, nil
}

// releaseOne 释放一条预留并写审计与发件箱(调用方已持有批次锁)
func (uc *ReleaseUseCase) releaseOne(txCtx context.Context,
	r *reservation.Reservation, reason string) error {
	fromStatus := r.Status
	if err := r.Release(); err != nil {
		return err
	}
	if err := uc.resvRepo.Update(txCtx, r); err != nil {
		return err
	}
	if err := uc.auditRepo.Append(txCtx,
		reservation.NewAuditEntry(r, reservation.AuditActionReleased, fromStatus, reason)); err != nil {
		return err
	}
	evt, err := outbox.NewEvent(outbox.EventReservationReleased, r.ID, map[string]interface{}{
		"reservation_id": r.ID,
		"lot_id":         r.LotID,
		"reason":         reason,
		"qty":            r.ReservedQty.String(),
	})
	if err != nil {
		return err
	}
	return uc.outboxRepo.Append(txCtx, evt)
}

// lockLotsOrdered 按批次ID升序去重锁行
// 固定的加锁顺序让并发的集合级释放不会互相死锁
func lockLotsOrdered(txCtx context.Context, lotRepo lot.Repository,
	rs []*reservation.Reservation) ([]uint, error) {
	seen := make(map[uint]struct{}, len(rs))
	lotIDs := make([]uint, 0, len(rs))
	for _, r := range rs {
		if _, ok := seen[r.LotID]; ok {
			continue
		}
		seen[r.LotID] = struct{}{}
		lotIDs = append(lotIDs, r.LotID)
	}
	sort.Slice(lotIDs, func(i, j int) bool { return lotIDs[i] < lotIDs[j] })

	for _, id := range lotIDs {
		if _, err := lotRepo.LockByID(txCtx, id); err != nil {
			return nil, err
		}
	}
	return lotIDs, nil
}
