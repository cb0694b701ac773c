package confirmation

import (
	"context"
	"errors"
	"time"

	"github.com/xiebiao/warehouse/internal/application/allocation"
	"github.com/xiebiao/warehouse/internal/domain/gateway"
	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/outbox"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
	"github.com/xiebiao/warehouse/internal/domain/shared"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
	"github.com/xiebiao/warehouse/pkg/metrics"
)

// ConfirmUseCase 预留确认用例
// 教学要点:这是全项目并发与幂等要求最高的一段代码
//
// 难点:外部登记是真实副作用,不在本地事务的保护伞下
// 场景:登记成功了,但本地COMMIT失败——单据号丢了就会二次登记
// 解法:登记成功后,单据号先用独立短事务写入登记标记表,
// 再写预留主事务;重试时第一眼先查标记表,查到就跳过外部调用
//
// 锁序(必须严格遵守):
// 锁批次行 → 锁内校验 → 查标记 → 外部调用 → 落库COMMIT → 锁释放
// COMMIT在前、释放锁在后,堵死了"第二个并发confirm抢在落库前
// 再次发起外部调用"的窗口
//
// 快照纪律:FOR UPDATE必须是事务的第一条语句
// InnoDB默认REPEATABLE READ下,事务的第一条普通SELECT会钉死快照;
// 若在等锁之前就读过,锁到手后的重读和查标记读到的仍是等锁前的
// 旧世界——前一个确认明明已提交,这里却看到active且无标记,
// 于是第二次发起外部登记。定位批次的普通读必须放在事务外面
type ConfirmUseCase struct {
	lotRepo    lot.Repository
	resvRepo   reservation.Repository
	markerRepo reservation.MarkerRepository
	auditRepo  reservation.AuditRepository
	outboxRepo outbox.Repository
	gw         gateway.RegistrationGateway
	txManager  shared.TxManager
	cache      allocation.AvailabilityCache
}

// NewConfirmUseCase 创建确认用例
func NewConfirmUseCase(
	lotRepo lot.Repository,
	resvRepo reservation.Repository,
	markerRepo reservation.MarkerRepository,
	auditRepo reservation.AuditRepository,
	outboxRepo outbox.Repository,
	gw gateway.RegistrationGateway,
	txManager shared.TxManager,
	cache allocation.AvailabilityCache,
) *ConfirmUseCase {
	return &ConfirmUseCase{
		lotRepo:    lotRepo,
		resvRepo:   resvRepo,
		markerRepo: markerRepo,
		auditRepo:  auditRepo,
		outboxRepo: outboxRepo,
		gw:         gw,
		txManager:  txManager,
		cache:      cache,
	}
}

// ConfirmRequest 确认请求DTO
type ConfirmRequest struct {
	ReservationID uint
	RefDate       time.Time // 效期参考日期(零值取当天)
}

// ConfirmResponse 确认响应DTO
type ConfirmResponse struct {
	ReservationID uint   `json:"reservation_id"`
	LotID         uint   `json:"lot_id"`
	DocumentNo    string `json:"document_no"`
	Status        string `json:"status"`
	ConfirmedAt   string `json:"confirmed_at"`
}

// Execute 执行确认
// 对已确认且带单据号的预留重复调用是幂等成功(返回既有单据号)
func (uc *ConfirmUseCase) Execute(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error) {
	refDate := req.RefDate
	if refDate.IsZero() {
		refDate = time.Now()
	}

	// 定位批次:锁外普通读只取lot_id(预留归属的批次不可变)
	// 这条读绝不能放进事务,否则快照钉在等锁之前(见类型注释)
	located, err := uc.resvRepo.FindByID(ctx, req.ReservationID)
	if err != nil {
		return nil, err
	}

	var resp *ConfirmResponse
	var lotID uint
	err = uc.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		// 步骤1:锁批次行,事务的第一条语句
		// 同一批次上的并发确认从这里开始排队;锁定读不建快照
		locked, err := uc.lotRepo.LockByID(txCtx, located.LotID)
		if err != nil {
			return err
		}
		lotID = locked.ID

		// 步骤2:锁内重读预留并校验
		// 快照建立于拿到锁之后,排在前面的确认已提交的结果在此可见
		r, err := uc.resvRepo.FindByID(txCtx, req.ReservationID)
		if err != nil {
			return err
		}

		// 幂等路径:已确认且有单据号,直接返回既有结果
		if r.Status == reservation.StatusConfirmed && r.HasDocument() {
			resp = buildConfirmResponse(r)
			return nil
		}

		if r.Status != reservation.StatusActive {
			metrics.ReservationsConfirmFailedTotal.WithLabelValues("not_active").Inc()
			return reservation.ErrInvalidStateTransition
		}
		if !locked.IsActive() {
			metrics.ReservationsConfirmFailedTotal.WithLabelValues("lot_not_active").Inc()
			return lot.ErrLotNotActive
		}
		// 效期边界:到期日==参考日期的批次拒绝确认(宁紧勿松)
		if !locked.ConfirmableOn(refDate) {
			metrics.ReservationsConfirmFailedTotal.WithLabelValues("expired").Inc()
			return lot.ErrLotExpired
		}

		// 步骤3:查登记标记(重放安全路径)
		// 上一轮"外部登记成功但本地COMMIT失败"会在这里被接住
		documentNo := ""
		marker, err := uc.markerRepo.FindByReservationID(txCtx, r.ID)
		if err != nil {
			return err
		}
		if marker != nil {
			documentNo = marker.DocumentNo
		}

		// 步骤4:外部登记(仅在没有标记时调用,每次尝试至多一次)
		if documentNo == "" {
			result, err := uc.register(txCtx, r, locked)
			if err != nil {
				metrics.ReservationsConfirmFailedTotal.WithLabelValues("gateway").Inc()
				return err
			}
			documentNo = result.DocumentNo

			// 关键一步:单据号用独立短事务立刻落盘(注意传ctx而非txCtx)
			// 此后即使主事务COMMIT失败,下一次重试也能查到标记,不会二次登记
			if err := uc.markerRepo.Record(ctx, r.ID, documentNo); err != nil {
				return err
			}
		}

		// 步骤5:写预留主事务(单据号与状态同时落库)
		fromStatus := r.Status
		if err := r.Confirm(documentNo); err != nil {
			return err
		}
		if err := uc.resvRepo.Update(txCtx, r); err != nil {
			return err
		}
		if err := uc.auditRepo.Append(txCtx,
			reservation.NewAuditEntry(r, reservation.AuditActionConfirmed, fromStatus, "")); err != nil {
			return err
		}
		evt, err := outbox.NewEvent(outbox.EventReservationConfirmed, r.ID, map[string]interface{}{
			"reservation_id": r.ID,
			"lot_id":         r.LotID,
			"document_no":    documentNo,
			"qty":            r.ReservedQty.String(),
		})
		if err != nil {
			return err
		}
		if err := uc.outboxRepo.Append(txCtx, evt); err != nil {
			return err
		}

		resp = buildConfirmResponse(r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.cache.Invalidate(ctx, lotID)
	metrics.ReservationsConfirmedTotal.Inc()
	return resp, nil
}

// register 调用外部登记网关并上报指标
func (uc *ConfirmUseCase) register(ctx context.Context, r *reservation.Reservation,
	l *lot.Lot) (*gateway.RegisterResult, error) {
	req := &gateway.RegisterRequest{
		ReservationID:  r.ID,
		LotNo:          l.LotNo,
		ProductID:      l.ProductID,
		Quantity:       r.ReservedQty,
		SourceType:     string(r.SourceType),
		SourceID:       r.SourceID,
		IdempotencyKey: gateway.IdempotencyKeyFor(r.ID),
	}

	start := time.Now()
	result, err := uc.gw.Register(ctx, req)
	metrics.GatewayCallDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if apperrors.IsRetryable(err) {
			metrics.GatewayCallsTotal.WithLabelValues("retryable_error").Inc()
			return nil, err
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			metrics.GatewayCallsTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
		// 未分类错误按可重试处理:网关没有明说拒绝,就不能认定失败是终局的
		metrics.GatewayCallsTotal.WithLabelValues("retryable_error").Inc()
		return nil, apperrors.ErrExternalRegistration.WithCause(err)
	}

	metrics.GatewayCallsTotal.WithLabelValues("success").Inc()
	return result, nil
}

func buildConfirmResponse(r *reservation.Reservation) *ConfirmResponse {
	resp := &ConfirmResponse{
		ReservationID: r.ID,
		LotID:         r.LotID,
		Status:        r.Status.String(),
	}
	if r.DocumentNo != nil {
		resp.DocumentNo = *r.DocumentNo
	}
	if r.ConfirmedAt != nil {
		resp.ConfirmedAt = r.ConfirmedAt.Format("2006-01-02 15:04:05")
	}
	return resp
}
