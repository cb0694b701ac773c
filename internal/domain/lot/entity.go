package lot

import (
	"time"

	"github.com/shopspring/decimal"
)

// LotStatus 批次状态
// 教学要点:
// 1. 使用int类型而非string(节省存储空间,便于索引)
// 2. 批次永不物理删除,生命周期全部通过状态流转表达(软生命周期)
type LotStatus int

const (
	LotStatusActive     LotStatus = 1 // 在库可用
	LotStatusDepleted   LotStatus = 2 // 已耗尽
	LotStatusExpired    LotStatus = 3 // 已过期
	LotStatusQuarantine LotStatus = 4 // 质检隔离
	LotStatusLocked     LotStatus = 5 // 行政锁定
	LotStatusArchived   LotStatus = 6 // 已归档
)

// String 实现Stringer接口(方便日志输出)
func (s LotStatus) String() string {
	switch s {
	case LotStatusActive:
		return "在库可用"
	case LotStatusDepleted:
		return "已耗尽"
	case LotStatusExpired:
		return "已过期"
	case LotStatusQuarantine:
		return "质检隔离"
	case LotStatusLocked:
		return "行政锁定"
	case LotStatusArchived:
		return "已归档"
	default:
		return "未知状态"
	}
}

// Lot 批次实体(聚合根)
// 教学要点:
// 1. 一个批次对应一次物理收货,有自己的效期和数量
// 2. LockedQty是质检/行政冻结数量,与预留占用相互独立
// 3. Version乐观锁版本号,数量字段的非锁定路径更新用它检测并发冲突
// 4. 可用量不落库,始终按 收货量 - 冻结量 - 预留占用 推导,避免冗余字段漂移
type Lot struct {
	ID           uint
	LotNo        string          // 批次号(业务主键,全局唯一)
	ProductID    uint            // 产品ID
	WarehouseID  uint            // 仓库ID
	SupplierID   uint            // 供应商ID
	ReceivedQty  decimal.Decimal // 收货数量
	LockedQty    decimal.Decimal // 冻结数量(质检/行政锁定)
	Status       LotStatus       // 批次状态
	ExpiryDate   *time.Time      // 到期日(可为空,无效期商品)
	ReceivedDate time.Time       // 收货日期
	Version      int             // 乐观锁版本号
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewLot 创建新批次(工厂方法)
// 教学要点:工厂方法封装创建逻辑,保证实体的有效性
func NewLot(lotNo string, productID, warehouseID, supplierID uint,
	receivedQty decimal.Decimal, expiryDate *time.Time, receivedDate time.Time) *Lot {
	now := time.Now()
	return &Lot{
		LotNo:        lotNo,
		ProductID:    productID,
		WarehouseID:  warehouseID,
		SupplierID:   supplierID,
		ReceivedQty:  receivedQty,
		LockedQty:    decimal.Zero,
		Status:       LotStatusActive,
		ExpiryDate:   expiryDate,
		ReceivedDate: receivedDate,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Validate 验证批次实体
func (l *Lot) Validate() error {
	if l.ProductID == 0 {
		return ErrInvalidProduct
	}
	if l.WarehouseID == 0 {
		return ErrInvalidWarehouse
	}
	if l.ReceivedQty.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidReceivedQty
	}
	if l.LockedQty.IsNegative() {
		return ErrInvalidLockedQty
	}
	return nil
}

// IsActive 批次是否处于可分配状态
func (l *Lot) IsActive() bool {
	return l.Status == LotStatusActive
}

// IsExpiredBefore 在参考日期之前是否已过期
// 候选筛选用:到期日早于参考日期的批次不参与分配
// 注意与ConfirmableOn的边界差异:筛选时"当天到期"仍可选入,确认时被拒绝
func (l *Lot) IsExpiredBefore(refDate time.Time) bool {
	if l.ExpiryDate == nil {
		return false
	}
	return l.ExpiryDate.Before(refDate)
}

// ConfirmableOn 在参考日期当天是否允许确认
// 教学要点:效期边界必须"宁紧勿松"(fail closed)
// 到期日等于参考日期的批次视为不可确认——货到客户手里时已经过期
// 参考日期前移一天应允许确认,后移一天应拒绝,边界行为有专门测试覆盖
func (l *Lot) ConfirmableOn(refDate time.Time) bool {
	if l.ExpiryDate == nil {
		return true
	}
	return l.ExpiryDate.After(refDate)
}

// AvailableQty 计算可用数量
// 参数reservedQty为该批次上占用中的预留数量之和(由调用方按口径汇总)
func (l *Lot) AvailableQty(reservedQty decimal.Decimal) decimal.Decimal {
	return l.ReceivedQty.Sub(l.LockedQty).Sub(reservedQty)
}

// CanAccommodate 校验硬不变量:
// 占用中预留(active+confirmed) + 冻结量 + 新增数量 ≤ 收货量
// 教学要点:必须在批次行锁内校验,锁外读到的汇总值可能已经过期
func (l *Lot) CanAccommodate(hardReservedQty, additionalQty decimal.Decimal) bool {
	return hardReservedQty.Add(l.LockedQty).Add(additionalQty).
		LessThanOrEqual(l.ReceivedQty)
}
