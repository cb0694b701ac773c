package reservation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository 预留仓储接口
type Repository interface {
	// Create 创建预留记录
	Create(ctx context.Context, r *Reservation) error

	// FindByID 根据ID查找预留
	FindByID(ctx context.Context, id uint) (*Reservation, error)

	// Update 更新预留(乐观锁:WHERE version=?,失败返回ErrVersionConflict)
	// 教学要点:预留行只被拥有它的流程更新,版本号守住误并发
	Update(ctx context.Context, r *Reservation) error

	// SumByLotIDs 按批次汇总指定状态的预留数量
	// 候选筛选口径传HoldingStatuses,硬不变量校验口径传HardStatuses
	SumByLotIDs(ctx context.Context, lotIDs []uint, statuses []Status) (map[uint]decimal.Decimal, error)

	// ListBySource 查询某需求来源下的全部预留
	ListBySource(ctx context.Context, sourceType SourceType, sourceID string) ([]*Reservation, error)

	// ListExpiredTemporary 查询已过期的临时预留(后台清理用)
	ListExpiredTemporary(ctx context.Context, before time.Time, limit int) ([]*Reservation, error)
}

// RegistrationMarker 外部登记标记
// 教学要点:确认协调器的幂等基石
// 外部登记成功后,单据号先用独立短事务写入本表,再写预留主事务
// 即使主事务COMMIT失败,下一次确认重试也能在这里找到单据号,不会二次登记
type RegistrationMarker struct {
	ID            uint
	ReservationID uint   // 预留ID(唯一索引,天然幂等键)
	DocumentNo    string // 外部登记单据号
	CreatedAt     time.Time
}

// MarkerRepository 外部登记标记仓储
type MarkerRepository interface {
	// Record 记录登记标记
	// 实现必须是幂等插入(唯一索引冲突视为成功),且不参与调用方的事务
	Record(ctx context.Context, reservationID uint, documentNo string) error

	// FindByReservationID 查找登记标记,不存在时返回(nil, nil)
	FindByReservationID(ctx context.Context, reservationID uint) (*RegistrationMarker, error)
}
