package lot

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository 批次仓储接口
// 教学要点:
// 1. 接口定义在domain层,实现在infrastructure层(依赖倒置)
// 2. LockByID是整个引擎的写串行化点:同一批次上的确认/预留互斥
// 3. 所有方法都接受context,事务DB通过context传递
type Repository interface {
	// Create 创建批次(收货时调用)
	Create(ctx context.Context, l *Lot) error

	// FindByID 根据ID查找批次
	FindByID(ctx context.Context, id uint) (*Lot, error)

	// LockByID 锁定批次行(SELECT ... FOR UPDATE)
	// 必须在事务中调用,锁在事务COMMIT/ROLLBACK时释放
	LockByID(ctx context.Context, id uint) (*Lot, error)

	// ListAllocatable 列出可分配批次(status=active)
	// warehouseID为0表示不限仓库
	ListAllocatable(ctx context.Context, productID, warehouseID uint) ([]*Lot, error)

	// Update 更新批次(乐观锁:WHERE version=?,失败返回ErrVersionConflict)
	Update(ctx context.Context, l *Lot) error

	// List 分页查询批次
	List(ctx context.Context, productID uint, page, pageSize int) ([]*Lot, int64, error)
}

// FamilySummary 批次族(产品+仓库)汇总视图
// 教学要点:写触发全量重算的物化汇总,不做增量修补(防漂移)
type FamilySummary struct {
	ProductID        uint
	WarehouseID      uint
	TotalReceivedQty decimal.Decimal // 收货总量
	TotalLockedQty   decimal.Decimal // 冻结总量
	LotCount         int             // 批次数
}

// SummaryRepository 批次族汇总仓储
type SummaryRepository interface {
	// Recompute 全量重算指定批次族的汇总
	// 必须与触发它的收货写操作在同一事务中执行
	Recompute(ctx context.Context, productID, warehouseID uint) error

	// Find 查询汇总
	Find(ctx context.Context, productID, warehouseID uint) (*FamilySummary, error)
}
