package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xiebiao/warehouse/internal/domain/lot"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// lotRepository 批次仓储实现(MySQL)
// 设计说明:
// 1. 实现domain/lot/repository.go定义的接口
// 2. 负责domain实体与GORM模型之间的转换
// 3. LockByID是引擎的写串行化点,必须在事务中调用
type lotRepository struct {
	db *gorm.DB
}

// NewLotRepository 创建批次仓储
func NewLotRepository(db *gorm.DB) lot.Repository {
	return &lotRepository{db: db}
}

// Create 创建批次
func (r *lotRepository) Create(ctx context.Context, l *lot.Lot) error {
	model := toLotModel(l)

	db := getDB(ctx, r.db)
	if err := db.Create(model).Error; err != nil {
		if isDuplicateError(err) {
			return apperrors.New(apperrors.ErrCodeDuplicateEntry, "批次号已存在")
		}
		return apperrors.Wrap(err, "创建批次失败")
	}

	// 回填自增ID
	l.ID = model.ID
	l.CreatedAt = model.CreatedAt
	l.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID 根据ID查找批次
func (r *lotRepository) FindByID(ctx context.Context, id uint) (*lot.Lot, error) {
	var model LotModel
	db := getDB(ctx, r.db)
	if err := db.First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lot.ErrLotNotFound
		}
		return nil, apperrors.Wrap(err, "查询批次失败")
	}
	return toLotEntity(&model), nil
}

// LockByID 悲观锁查询批次
// 教学要点:SELECT FOR UPDATE锁定行,同批次上的确认/预留/释放在这里排队
// 必须在事务中调用,getDB会从context取出事务DB
func (r *lotRepository) LockByID(ctx context.Context, id uint) (*lot.Lot, error) {
	var model LotModel
	db := getDB(ctx, r.db)
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lot.ErrLotNotFound
		}
		return nil, apperrors.Wrap(err, "锁定批次失败")
	}
	return toLotEntity(&model), nil
}

// ListAllocatable 列出可分配批次
// 排序交给应用层的FEFO比较器,这里只按主键稳定输出
func (r *lotRepository) ListAllocatable(ctx context.Context, productID, warehouseID uint) ([]*lot.Lot, error) {
	db := getDB(ctx, r.db)
	query := db.Where("product_id = ? AND status = ?", productID, int(lot.LotStatusActive))
	if warehouseID != 0 {
		query = query.Where("warehouse_id = ?", warehouseID)
	}

	var models []LotModel
	if err := query.Order("id ASC").Find(&models).Error; err != nil {
		return nil, apperrors.Wrap(err, "查询可分配批次失败")
	}

	lots := make([]*lot.Lot, 0, len(models))
	for i := range models {
		lots = append(lots, toLotEntity(&models[i]))
	}
	return lots, nil
}

// Update 更新批次(乐观锁)
// 教学要点:WHERE version=?,影响行数为0说明版本冲突
func (r *lotRepository) Update(ctx context.Context, l *lot.Lot) error {
	db := getDB(ctx, r.db)
	result := db.Model(&LotModel{}).
		Where("id = ? AND version = ?", l.ID, l.Version).
		Updates(map[string]interface{}{
			"received_qty": l.ReceivedQty,
			"locked_qty":   l.LockedQty,
			"status":       int(l.Status),
			"expiry_date":  l.ExpiryDate,
			"version":      l.Version + 1,
		})
	if result.Error != nil {
		return apperrors.Wrap(result.Error, "更新批次失败")
	}
	if result.RowsAffected == 0 {
		return lot.ErrVersionConflict
	}
	l.Version++
	return nil
}

// List 分页查询批次
func (r *lotRepository) List(ctx context.Context, productID uint, page, pageSize int) ([]*lot.Lot, int64, error) {
	db := getDB(ctx, r.db)
	query := db.Model(&LotModel{})
	if productID != 0 {
		query = query.Where("product_id = ?", productID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Wrap(err, "统计批次失败")
	}

	var models []LotModel
	offset := (page - 1) * pageSize
	if err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&models).Error; err != nil {
		return nil, 0, apperrors.Wrap(err, "查询批次列表失败")
	}

	lots := make([]*lot.Lot, 0, len(models))
	for i := range models {
		lots = append(lots, toLotEntity(&models[i]))
	}
	return lots, total, nil
}

// toLotModel 领域实体 → GORM模型
func toLotModel(l *lot.Lot) *LotModel {
	return &LotModel{
		ID:           l.ID,
		LotNo:        l.LotNo,
		ProductID:    l.ProductID,
		WarehouseID:  l.WarehouseID,
		SupplierID:   l.SupplierID,
		ReceivedQty:  l.ReceivedQty,
		LockedQty:    l.LockedQty,
		Status:       int(l.Status),
		ExpiryDate:   l.ExpiryDate,
		ReceivedDate: l.ReceivedDate,
		Version:      l.Version,
	}
}

// toLotEntity GORM模型 → 领域实体
func toLotEntity(m *LotModel) *lot.Lot {
	return &lot.Lot{
		ID:           m.ID,
		LotNo:        m.LotNo,
		ProductID:    m.ProductID,
		WarehouseID:  m.WarehouseID,
		SupplierID:   m.SupplierID,
		ReceivedQty:  m.ReceivedQty,
		LockedQty:    m.LockedQty,
		Status:       lot.LotStatus(m.Status),
		ExpiryDate:   m.ExpiryDate,
		ReceivedDate: m.ReceivedDate,
		Version:      m.Version,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
