package confirmation

import (
	"context"
	"time"

	"github.com/xiebiao/warehouse/internal/application/allocation"
	"github.com/xiebiao/warehouse/internal/domain/gateway"
	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/outbox"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
	"github.com/xiebiao/warehouse/internal/domain/shared"
	"github.com/xiebiao/warehouse/pkg/metrics"
	"github.com/xiebiao/warehouse/pkg/saga"
)

// ReleaseConfirmedUseCase 已确认预留的补偿释放用例
// 教学要点:Saga补偿事务的实战场景
//
// 已确认预留在外部ERP有登记单据,普通释放被状态机永远拒绝
// 唯一出路是补偿流程,顺序不能颠倒:
// 步骤1:撤销外部登记(先让外部系统放手)
// 步骤2:释放本地预留(ReleaseCompensated,唯一的confirmed→released通道)
//
// 步骤2失败时,Saga逆序补偿步骤1:用原幂等键重新登记,
// 恢复"本地confirmed+外部已登记"的一致状态,等待下次重试
// 步骤1之后进程崩溃也安全:外部已撤销,本地仍confirmed,
// 重试时CancelRegistration幂等成功,流程继续走完
type ReleaseConfirmedUseCase struct {
	lotRepo     lot.Repository
	resvRepo    reservation.Repository
	auditRepo   reservation.AuditRepository
	outboxRepo  outbox.Repository
	gw          gateway.RegistrationGateway
	txManager   shared.TxManager
	cache       allocation.AvailabilityCache
	sagaTimeout time.Duration
}

// NewReleaseConfirmedUseCase 创建补偿释放用例
func NewReleaseConfirmedUseCase(
	lotRepo lot.Repository,
	resvRepo reservation.Repository,
	auditRepo reservation.AuditRepository,
	outboxRepo outbox.Repository,
	gw gateway.RegistrationGateway,
	txManager shared.TxManager,
	cache allocation.AvailabilityCache,
	sagaTimeout time.Duration,
) *ReleaseConfirmedUseCase {
	return &ReleaseConfirmedUseCase{
		lotRepo:     lotRepo,
		resvRepo:    resvRepo,
		auditRepo:   auditRepo,
		outboxRepo:  outboxRepo,
		gw:          gw,
		txManager:   txManager,
		cache:       cache,
		sagaTimeout: sagaTimeout,
	}
}

// Execute 执行补偿释放
func (uc *ReleaseConfirmedUseCase) Execute(ctx context.Context, reservationID uint) error {
	// 预检:必须是带单据号的已确认预留
	r, err := uc.resvRepo.FindByID(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.Status != reservation.StatusConfirmed || !r.HasDocument() {
		return reservation.ErrInvalidStateTransition
	}
	documentNo := *r.DocumentNo

	var lotID uint
	sg := saga.NewSaga(uc.sagaTimeout)

	sg.AddStep("撤销外部登记",
		func(stepCtx context.Context) error {
			// 对已撤销单据重复调用幂等成功,崩溃后重试安全
			return uc.gw.CancelRegistration(stepCtx, documentNo)
		},
		func(stepCtx context.Context) error {
			// 本地释放失败时恢复外部登记,幂等键不变,ERP侧去重
			l, err := uc.lotRepo.FindByID(stepCtx, r.LotID)
			if err != nil {
				return err
			}
			_, err = uc.gw.Register(stepCtx, &gateway.RegisterRequest{
				ReservationID:  r.ID,
				LotNo:          l.LotNo,
				ProductID:      l.ProductID,
				Quantity:       r.ReservedQty,
				SourceType:     string(r.SourceType),
				SourceID:       r.SourceID,
				IdempotencyKey: gateway.IdempotencyKeyFor(r.ID),
			})
			return err
		},
	)

	sg.AddStep("释放本地预留",
		func(stepCtx context.Context) error {
			return uc.txManager.WithTransaction(stepCtx, func(txCtx context.Context) error {
				locked, err := uc.lotRepo.LockByID(txCtx, r.LotID)
				if err != nil {
					return err
				}
				lotID = locked.ID

				// 锁内重读,防止与并发流程交错
				fresh, err := uc.resvRepo.FindByID(txCtx, reservationID)
				if err != nil {
					return err
				}
				if fresh.Status == reservation.StatusReleased {
					// 上一轮崩溃后的重试,本地已释放完毕
					return nil
				}

				fromStatus := fresh.Status
				if err := fresh.ReleaseCompensated(); err != nil {
					return err
				}
				if err := uc.resvRepo.Update(txCtx, fresh); err != nil {
					return err
				}
				if err := uc.auditRepo.Append(txCtx, reservation.NewAuditEntry(
					fresh, reservation.AuditActionCompensated, fromStatus,
					"外部登记已撤销:"+documentNo)); err != nil {
					return err
				}
				evt, err := outbox.NewEvent(outbox.EventReservationReleased, fresh.ID,
					map[string]interface{}{
						"reservation_id": fresh.ID,
						"lot_id":         fresh.LotID,
						"reason":         "compensated",
						"document_no":    documentNo,
					})
				if err != nil {
					return err
				}
				return uc.outboxRepo.Append(txCtx, evt)
			})
		},
		nil, // 最后一步无需补偿
	)

	if err := sg.Execute(ctx); err != nil {
		return err
	}

	uc.cache.Invalidate(ctx, lotID)
	metrics.ReservationsReleasedTotal.WithLabelValues("compensated").Inc()
	return nil
}
