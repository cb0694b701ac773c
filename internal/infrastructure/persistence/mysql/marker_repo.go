package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/xiebiao/warehouse/internal/domain/reservation"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// markerRepository 外部登记标记仓储实现(MySQL)
// 教学要点:这是幂等机制的物理载体,两条铁律:
// 1. Record绝不参与调用方事务——故意用根DB连接开独立短事务,
//    这样预留主事务COMMIT失败时标记依然在库里
// 2. 唯一索引冲突视为成功——两个并发确认同时插入,后到的静默接受
type markerRepository struct {
	db *gorm.DB
}

// NewMarkerRepository 创建登记标记仓储
func NewMarkerRepository(db *gorm.DB) reservation.MarkerRepository {
	return &markerRepository{db: db}
}

// Record 记录登记标记(独立短事务,幂等插入)
// 注意:这里故意不走getDB(ctx)——标记必须在调用方事务之外落盘
func (r *markerRepository) Record(ctx context.Context, reservationID uint, documentNo string) error {
	model := &RegistrationMarkerModel{
		ReservationID: reservationID,
		DocumentNo:    documentNo,
	}
	err := r.db.WithContext(ctx).Create(model).Error
	if err != nil {
		if isDuplicateError(err) {
			// 标记已存在:说明并发的另一次确认先落盘了,同样是成功
			return nil
		}
		return apperrors.Wrap(err, "记录登记标记失败")
	}
	return nil
}

// FindByReservationID 查找登记标记,不存在时返回(nil, nil)
func (r *markerRepository) FindByReservationID(ctx context.Context,
	reservationID uint) (*reservation.RegistrationMarker, error) {
	var model RegistrationMarkerModel
	db := getDB(ctx, r.db)
	err := db.Where("reservation_id = ?", reservationID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, "查询登记标记失败")
	}
	return &reservation.RegistrationMarker{
		ID:            model.ID,
		ReservationID: model.ReservationID,
		DocumentNo:    model.DocumentNo,
		CreatedAt:     model.CreatedAt,
	}, nil
}
