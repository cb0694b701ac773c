package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/xiebiao/warehouse/internal/domain/reservation"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// reservationRepository 预留仓储实现(MySQL)
type reservationRepository struct {
	db *gorm.DB
}

// NewReservationRepository 创建预留仓储
func NewReservationRepository(db *gorm.DB) reservation.Repository {
	return &reservationRepository{db: db}
}

// Create 创建预留记录
func (r *reservationRepository) Create(ctx context.Context, resv *reservation.Reservation) error {
	model := toReservationModel(resv)

	db := getDB(ctx, r.db)
	if err := db.Create(model).Error; err != nil {
		return apperrors.Wrap(err, "创建预留失败")
	}

	resv.ID = model.ID
	resv.CreatedAt = model.CreatedAt
	resv.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID 根据ID查找预留
func (r *reservationRepository) FindByID(ctx context.Context, id uint) (*reservation.Reservation, error) {
	var model ReservationModel
	db := getDB(ctx, r.db)
	if err := db.First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, apperrors.Wrap(err, "查询预留失败")
	}
	return toReservationEntity(&model), nil
}

// Update 更新预留(乐观锁)
// 教学要点:WHERE version=?,影响行数为0即版本冲突
// 预留行只被拥有它的流程更新,版本冲突意味着流程交错,调用方整体重试
func (r *reservationRepository) Update(ctx context.Context, resv *reservation.Reservation) error {
	db := getDB(ctx, r.db)
	result := db.Model(&ReservationModel{}).
		Where("id = ? AND version = ?", resv.ID, resv.Version).
		Updates(map[string]interface{}{
			"status":       int(resv.Status),
			"document_no":  resv.DocumentNo,
			"expires_at":   resv.ExpiresAt,
			"confirmed_at": resv.ConfirmedAt,
			"released_at":  resv.ReleasedAt,
			"version":      resv.Version + 1,
		})
	if result.Error != nil {
		return apperrors.Wrap(result.Error, "更新预留失败")
	}
	if result.RowsAffected == 0 {
		return reservation.ErrVersionConflict
	}
	resv.Version++
	return nil
}

// SumByLotIDs 按批次汇总指定状态的预留数量
// 教学要点:一条GROUP BY解决,绝不逐批次循环查询(N+1)
func (r *reservationRepository) SumByLotIDs(ctx context.Context, lotIDs []uint,
	statuses []reservation.Status) (map[uint]decimal.Decimal, error) {
	result := make(map[uint]decimal.Decimal, len(lotIDs))
	if len(lotIDs) == 0 || len(statuses) == 0 {
		return result, nil
	}

	statusInts := make([]int, 0, len(statuses))
	for _, s := range statuses {
		statusInts = append(statusInts, int(s))
	}

	var rows []struct {
		LotID uint
		Total decimal.Decimal
	}
	db := getDB(ctx, r.db)
	err := db.Model(&ReservationModel{}).
		Select("lot_id, SUM(reserved_qty) AS total").
		Where("lot_id IN ? AND status IN ?", lotIDs, statusInts).
		Group("lot_id").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.Wrap(err, "汇总预留数量失败")
	}

	for _, row := range rows {
		result[row.LotID] = row.Total
	}
	return result, nil
}

// ListBySource 查询某需求来源下的全部预留
func (r *reservationRepository) ListBySource(ctx context.Context,
	sourceType reservation.SourceType, sourceID string) ([]*reservation.Reservation, error) {
	var models []ReservationModel
	db := getDB(ctx, r.db)
	err := db.Where("source_type = ? AND source_id = ?", string(sourceType), sourceID).
		Order("id ASC").Find(&models).Error
	if err != nil {
		return nil, apperrors.Wrap(err, "查询来源预留失败")
	}

	resvs := make([]*reservation.Reservation, 0, len(models))
	for i := range models {
		resvs = append(resvs, toReservationEntity(&models[i]))
	}
	return resvs, nil
}

// ListExpiredTemporary 查询已过期的临时预留
func (r *reservationRepository) ListExpiredTemporary(ctx context.Context,
	before time.Time, limit int) ([]*reservation.Reservation, error) {
	var models []ReservationModel
	db := getDB(ctx, r.db)
	err := db.Where("status = ? AND expires_at < ?", int(reservation.StatusTemporary), before).
		Order("expires_at ASC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, apperrors.Wrap(err, "查询过期预留失败")
	}

	resvs := make([]*reservation.Reservation, 0, len(models))
	for i := range models {
		resvs = append(resvs, toReservationEntity(&models[i]))
	}
	return resvs, nil
}

// toReservationModel 领域实体 → GORM模型
func toReservationModel(resv *reservation.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:          resv.ID,
		LotID:       resv.LotID,
		SourceType:  string(resv.SourceType),
		SourceID:    resv.SourceID,
		ReservedQty: resv.ReservedQty,
		Status:      int(resv.Status),
		DocumentNo:  resv.DocumentNo,
		ExpiresAt:   resv.ExpiresAt,
		ConfirmedAt: resv.ConfirmedAt,
		ReleasedAt:  resv.ReleasedAt,
		Version:     resv.Version,
	}
}

// toReservationEntity GORM模型 → 领域实体
func toReservationEntity(m *ReservationModel) *reservation.Reservation {
	return &reservation.Reservation{
		ID:          m.ID,
		LotID:       m.LotID,
		SourceType:  reservation.SourceType(m.SourceType),
		SourceID:    m.SourceID,
		ReservedQty: m.ReservedQty,
		Status:      reservation.Status(m.Status),
		DocumentNo:  m.DocumentNo,
		ExpiresAt:   m.ExpiresAt,
		ConfirmedAt: m.ConfirmedAt,
		ReleasedAt:  m.ReleasedAt,
		Version:     m.Version,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
