package allocation

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/outbox"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
	"github.com/xiebiao/warehouse/internal/domain/shared"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
	"github.com/xiebiao/warehouse/pkg/metrics"
)

// ReserveMode 预留模式
type ReserveMode string

const (
	// ModeActive 直接创建生效预留(订单行分配、人工指定)
	ModeActive ReserveMode = "active"
	// ModeTemporary 创建临时预留(需求预测软分配,带过期时间,需后续转正)
	ModeTemporary ReserveMode = "temporary"
)

// ReserveUseCase 预留分配用例
// 教学要点:这是整个引擎最核心的写路径之一
// 涉及:候选筛选、分配规划、悲观锁、硬不变量校验、审计与发件箱
type ReserveUseCase struct {
	selector   *CandidateSelector
	lotRepo    lot.Repository
	resvRepo   reservation.Repository
	auditRepo  reservation.AuditRepository
	outboxRepo outbox.Repository
	txManager  shared.TxManager
	cache      AvailabilityCache
	tempTTL    time.Duration // 临时预留存活时长
}

// NewReserveUseCase 创建预留用例
func NewReserveUseCase(
	selector *CandidateSelector,
	lotRepo lot.Repository,
	resvRepo reservation.Repository,
	auditRepo reservation.AuditRepository,
	outboxRepo outbox.Repository,
	txManager shared.TxManager,
	cache AvailabilityCache,
	tempTTL time.Duration,
) *ReserveUseCase {
	return &ReserveUseCase{
		selector:   selector,
		lotRepo:    lotRepo,
		resvRepo:   resvRepo,
		auditRepo:  auditRepo,
		outboxRepo: outboxRepo,
		txManager:  txManager,
		cache:      cache,
		tempTTL:    tempTTL,
	}
}

// ReserveRequest 预留请求DTO
type ReserveRequest struct {
	ProductID    uint                   // 产品ID
	WarehouseID  uint                   // 仓库ID(0表示不限)
	RequiredQty  decimal.Decimal        // 需求数量
	SourceType   reservation.SourceType // 需求来源类型
	SourceID     string                 // 需求来源单据ID
	AllowPartial bool                   // 是否允许部分分配
	Mode         ReserveMode            // 预留模式
	RefDate      time.Time              // 效期参考日期(零值取当天)
}

// ReservedItem 预留结果明细
type ReservedItem struct {
	ReservationID uint   `json:"reservation_id"`
	LotID         uint   `json:"lot_id"`
	LotNo         string `json:"lot_no"`
	Qty           string `json:"qty"`
	Status        string `json:"status"`
}

// ReserveResponse 预留响应DTO
// 部分分配是一等公民的成功:Shortage>0时方案照常返回
type ReserveResponse struct {
	Items    []ReservedItem `json:"items"`
	Shortage string         `json:"shortage"`
}

// Execute 执行预留分配
// 教学重点:防止超卖的完整流程
//
// 核心问题:可用量是推导值,锁外读到的任何汇总都可能瞬间过期
// 正确实现:
//  1. 事务外筛选候选+规划方案(只读,便宜)
//  2. 事务内按批次ID升序 SELECT FOR UPDATE 锁全部方案批次
//  3. 锁内重新汇总占用量,重验可用量(这是不变量的唯一守门点)
//  4. 创建预留+审计+发件箱事件,同事务COMMIT
//
// 筛选规划必须在事务外:InnoDB默认REPEATABLE READ下,事务的
// 第一条普通SELECT会钉死快照,等锁期间别人提交的预留行在锁内
// 重验时就看不见了,两边都过校验,硬不变量被击穿。FOR UPDATE
// 作为事务的第一条语句不建快照,快照建立于全部锁到手之后,
// 先行持锁者提交的预留行必然可见
//
// 锁内重验失败说明规划期间有并发写入,整个事务回滚,
// 调用方收到可重试的冲突错误,重新走一遍筛选-规划
func (uc *ReserveUseCase) Execute(ctx context.Context, req ReserveRequest) (*ReserveResponse, error) {
	if !req.SourceType.Valid() {
		return nil, reservation.ErrInvalidSourceType
	}
	if req.RequiredQty.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.ErrInvalidQuantity
	}
	if req.Mode == "" {
		req.Mode = ModeActive
	}
	refDate := req.RefDate
	if refDate.IsZero() {
		refDate = time.Now()
	}

	// 步骤1:事务外筛选候选并物化(FEFO全序)
	candidates, err := uc.selector.Select(ctx, req.ProductID, req.WarehouseID, refDate)
	if err != nil {
		return nil, err
	}

	// 步骤2:构建分配方案(单批次整配优先,其次FEFO贪心)
	plan, err := BuildPlan(req.RequiredQty, candidates, req.AllowPartial)
	if err != nil {
		return nil, err
	}

	lotNoByID := make(map[uint]string, len(candidates))
	for _, c := range candidates {
		lotNoByID[c.LotID] = c.LotNo
	}

	var resp *ReserveResponse
	var touchedLots []uint
	err = uc.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		// 步骤3:按批次ID升序锁全部方案批次,FOR UPDATE是事务的第一条语句
		// 固定加锁顺序,并发预留不会互相死锁
		lockedLots, err := lockPlanLots(txCtx, uc.lotRepo, plan.Items)
		if err != nil {
			return err
		}

		// 步骤4:锁内一次汇总全部方案批次的占用量
		// 这是事务的第一条普通读,快照建立于全部锁到手之后
		planLotIDs := make([]uint, 0, len(plan.Items))
		for _, pi := range plan.Items {
			planLotIDs = append(planLotIDs, pi.LotID)
		}
		holding, err := uc.resvRepo.SumByLotIDs(txCtx, planLotIDs, reservation.HoldingStatuses)
		if err != nil {
			return err
		}

		// 步骤5:按方案顺序逐批次重验、落库
		items := make([]ReservedItem, 0, len(plan.Items))
		for _, pi := range plan.Items {
			locked := lockedLots[pi.LotID]
			if !locked.IsActive() {
				return lot.ErrLotNotActive
			}
			if locked.IsExpiredBefore(refDate) {
				return lot.ErrLotExpired
			}

			// 锁内重验可用量(占用口径包含临时预留,是硬不变量口径的超集,
			// 这一道校验通过则硬不变量必然成立)
			if locked.AvailableQty(holding[pi.LotID]).LessThan(pi.Qty) {
				// 规划期间被并发写入抢走了容量
				return apperrors.ErrConcurrencyConflict
			}

			// 创建预留行
			var expiresAt *time.Time
			status := reservation.StatusActive
			if req.Mode == ModeTemporary {
				status = reservation.StatusTemporary
				t := time.Now().Add(uc.tempTTL)
				expiresAt = &t
			}
			r, err := reservation.NewReservation(pi.LotID, req.SourceType, req.SourceID,
				pi.Qty, status, expiresAt)
			if err != nil {
				return err
			}
			if err := uc.resvRepo.Create(txCtx, r); err != nil {
				return err
			}

			// 审计与发件箱与业务写同事务
			if err := uc.auditRepo.Append(txCtx,
				reservation.NewAuditEntry(r, reservation.AuditActionCreated, 0, "")); err != nil {
				return err
			}
			evt, err := outbox.NewEvent(outbox.EventReservationCreated, r.ID, map[string]interface{}{
				"reservation_id": r.ID,
				"lot_id":         r.LotID,
				"source_type":    r.SourceType,
				"source_id":      r.SourceID,
				"qty":            r.ReservedQty.String(),
				"status":         int(r.Status),
			})
			if err != nil {
				return err
			}
			if err := uc.outboxRepo.Append(txCtx, evt); err != nil {
				return err
			}

			items = append(items, ReservedItem{
				ReservationID: r.ID,
				LotID:         r.LotID,
				LotNo:         lotNoByID[r.LotID],
				Qty:           r.ReservedQty.String(),
				Status:        r.Status.String(),
			})
			touchedLots = append(touchedLots, r.LotID)
		}

		resp = &ReserveResponse{
			Items:    items,
			Shortage: plan.Shortage.String(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 事务已提交:失效缓存、上报指标(失败只影响观测,不影响结果)
	for _, lotID := range touchedLots {
		uc.cache.Invalidate(ctx, lotID)
	}
	metrics.ReservationsCreatedTotal.WithLabelValues(string(req.SourceType)).
		Add(float64(len(resp.Items)))

	return resp, nil
}

// lockPlanLots 按批次ID升序对方案批次逐一FOR UPDATE锁行
func lockPlanLots(txCtx context.Context, lotRepo lot.Repository,
	items []PlanItem) (map[uint]*lot.Lot, error) {
	ids := make([]uint, 0, len(items))
	for _, pi := range items {
		ids = append(ids, pi.LotID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	locked := make(map[uint]*lot.Lot, len(ids))
	for _, id := range ids {
		l, err := lotRepo.LockByID(txCtx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = l
	}
	return locked, nil
}
