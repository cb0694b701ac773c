package allocation

import (
	"context"

	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
	"github.com/xiebiao/warehouse/internal/domain/shared"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// PromoteUseCase 临时预留转正用例
// 教学要点:转正是临时预留第一次计入硬不变量的时刻
// 必须在批次行锁内重验不变量——临时预留创建后批次容量可能已被别人占走
type PromoteUseCase struct {
	lotRepo   lot.Repository
	resvRepo  reservation.Repository
	auditRepo reservation.AuditRepository
	txManager shared.TxManager
	cache     AvailabilityCache
}

// NewPromoteUseCase 创建转正用例
func NewPromoteUseCase(
	lotRepo lot.Repository,
	resvRepo reservation.Repository,
	auditRepo reservation.AuditRepository,
	txManager shared.TxManager,
	cache AvailabilityCache,
) *PromoteUseCase {
	return &PromoteUseCase{
		lotRepo:   lotRepo,
		resvRepo:  resvRepo,
		auditRepo: auditRepo,
		txManager: txManager,
		cache:     cache,
	}
}

// Execute 执行转正
func (uc *PromoteUseCase) Execute(ctx context.Context, reservationID uint) error {
	// 锁外定位与预检:普通读放事务外,状态以锁内重读为准
	// (REPEATABLE READ下事务内锁前的普通读会钉死快照,
	// 锁内重验就会漏看等锁期间已提交的占用,见reserve的说明)
	located, err := uc.resvRepo.FindByID(ctx, reservationID)
	if err != nil {
		return err
	}
	if located.Status != reservation.StatusTemporary {
		return reservation.ErrInvalidStateTransition
	}

	lotID := located.LotID
	err = uc.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		// 锁批次行是事务的第一条语句,转正与确认/预留在同一批次上串行
		locked, err := uc.lotRepo.LockByID(txCtx, lotID)
		if err != nil {
			return err
		}

		// 锁内重读,等锁期间预留可能已被清理器释放或并发转正
		r, err := uc.resvRepo.FindByID(txCtx, reservationID)
		if err != nil {
			return err
		}
		if r.Status != reservation.StatusTemporary {
			return reservation.ErrInvalidStateTransition
		}

		// 锁内校验硬不变量:转正后 active+confirmed+冻结 ≤ 收货量
		hard, err := uc.resvRepo.SumByLotIDs(txCtx, []uint{r.LotID}, reservation.HardStatuses)
		if err != nil {
			return err
		}
		if !locked.CanAccommodate(hard[r.LotID], r.ReservedQty) {
			return apperrors.ErrInsufficientStock
		}

		fromStatus := r.Status
		if err := r.Promote(); err != nil {
			return err
		}
		if err := uc.resvRepo.Update(txCtx, r); err != nil {
			return err
		}
		if err := uc.auditRepo.Append(txCtx,
			reservation.NewAuditEntry(r, reservation.AuditActionPromoted, fromStatus, "")); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	uc.cache.Invalidate(ctx, lotID)
	return nil
}
