package receiving

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/outbox"
	"github.com/xiebiao/warehouse/internal/domain/shared"
)

// ReceiveLotUseCase 批次收货用例
// 教学要点:写触发的汇总重算
// 批次族(产品+仓库)的汇总视图不做增量修补,收货写入后
// 在同一事务里整族重算——重算是收货行的纯函数,不会漂移
type ReceiveLotUseCase struct {
	lotRepo     lot.Repository
	summaryRepo lot.SummaryRepository
	outboxRepo  outbox.Repository
	txManager   shared.TxManager
}

// NewReceiveLotUseCase 创建收货用例
func NewReceiveLotUseCase(
	lotRepo lot.Repository,
	summaryRepo lot.SummaryRepository,
	outboxRepo outbox.Repository,
	txManager shared.TxManager,
) *ReceiveLotUseCase {
	return &ReceiveLotUseCase{
		lotRepo:     lotRepo,
		summaryRepo: summaryRepo,
		outboxRepo:  outboxRepo,
		txManager:   txManager,
	}
}

// ReceiveLotRequest 收货请求DTO
type ReceiveLotRequest struct {
	ProductID    uint
	WarehouseID  uint
	SupplierID   uint
	ReceivedQty  decimal.Decimal
	ExpiryDate   *time.Time // 可为空(无效期商品)
	ReceivedDate time.Time  // 零值取当天
}

// ReceiveLotResponse 收货响应DTO
type ReceiveLotResponse struct {
	LotID        uint   `json:"lot_id"`
	LotNo        string `json:"lot_no"`
	ReceivedQty  string `json:"received_qty"`
	ReceivedDate string `json:"received_date"`
}

// Execute 执行收货
func (uc *ReceiveLotUseCase) Execute(ctx context.Context, req ReceiveLotRequest) (*ReceiveLotResponse, error) {
	receivedDate := req.ReceivedDate
	if receivedDate.IsZero() {
		receivedDate = time.Now()
	}

	newLot := lot.NewLot(lot.GenerateLotNo(), req.ProductID, req.WarehouseID,
		req.SupplierID, req.ReceivedQty, req.ExpiryDate, receivedDate)
	if err := newLot.Validate(); err != nil {
		return nil, err
	}

	err := uc.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := uc.lotRepo.Create(txCtx, newLot); err != nil {
			return err
		}

		// 收货行变了,同事务整族重算汇总
		if err := uc.summaryRepo.Recompute(txCtx, newLot.ProductID, newLot.WarehouseID); err != nil {
			return err
		}

		evt, err := outbox.NewEvent(outbox.EventLotReceived, newLot.ID, map[string]interface{}{
			"lot_id":       newLot.ID,
			"lot_no":       newLot.LotNo,
			"product_id":   newLot.ProductID,
			"warehouse_id": newLot.WarehouseID,
			"received_qty": newLot.ReceivedQty.String(),
		})
		if err != nil {
			return err
		}
		return uc.outboxRepo.Append(txCtx, evt)
	})
	if err != nil {
		return nil, err
	}

	return &ReceiveLotResponse{
		LotID:        newLot.ID,
		LotNo:        newLot.LotNo,
		ReceivedQty:  newLot.ReceivedQty.String(),
		ReceivedDate: newLot.ReceivedDate.Format("2006-01-02"),
	}, nil
}
