package mysql

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xiebiao/warehouse/internal/domain/lot"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// summaryRepository 批次族汇总仓储实现(MySQL)
// 教学要点:物化汇总的正确姿势是"写触发全量重算"
// 增量修补(total += delta)在重试、回滚、并发下迟早漂移,
// 全量重算是收货行的纯函数,怎么算都是对的
type summaryRepository struct {
	db *gorm.DB
}

// NewSummaryRepository 创建汇总仓储
func NewSummaryRepository(db *gorm.DB) lot.SummaryRepository {
	return &summaryRepository{db: db}
}

// Recompute 全量重算指定批次族的汇总
// 必须与触发它的收货写在同一事务(getDB取事务DB)
func (r *summaryRepository) Recompute(ctx context.Context, productID, warehouseID uint) error {
	db := getDB(ctx, r.db)

	var row struct {
		TotalReceivedQty decimal.Decimal
		TotalLockedQty   decimal.Decimal
		LotCount         int
	}
	err := db.Model(&LotModel{}).
		Select("COALESCE(SUM(received_qty),0) AS total_received_qty, "+
			"COALESCE(SUM(locked_qty),0) AS total_locked_qty, "+
			"COUNT(*) AS lot_count").
		Where("product_id = ? AND warehouse_id = ?", productID, warehouseID).
		Scan(&row).Error
	if err != nil {
		return apperrors.Wrap(err, "重算批次族汇总失败")
	}

	// UPSERT:整行覆盖,不做增量
	model := &LotFamilySummaryModel{
		ProductID:        productID,
		WarehouseID:      warehouseID,
		TotalReceivedQty: row.TotalReceivedQty,
		TotalLockedQty:   row.TotalLockedQty,
		LotCount:         row.LotCount,
	}
	err = db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}, {Name: "warehouse_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_received_qty", "total_locked_qty", "lot_count", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		return apperrors.Wrap(err, "写入批次族汇总失败")
	}
	return nil
}

// Find 查询汇总
func (r *summaryRepository) Find(ctx context.Context, productID, warehouseID uint) (*lot.FamilySummary, error) {
	var model LotFamilySummaryModel
	db := getDB(ctx, r.db)
	err := db.Where("product_id = ? AND warehouse_id = ?", productID, warehouseID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lot.ErrLotNotFound
		}
		return nil, apperrors.Wrap(err, "查询批次族汇总失败")
	}
	return &lot.FamilySummary{
		ProductID:        model.ProductID,
		WarehouseID:      model.WarehouseID,
		TotalReceivedQty: model.TotalReceivedQty,
		TotalLockedQty:   model.TotalLockedQty,
		LotCount:         model.LotCount,
	}, nil
}
