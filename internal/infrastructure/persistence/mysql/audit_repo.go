package mysql

import (
	"context"

	"gorm.io/gorm"

	"github.com/xiebiao/warehouse/internal/domain/reservation"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// auditRepository 预留审计仓储实现(MySQL,只追加)
type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository 创建审计仓储
func NewAuditRepository(db *gorm.DB) reservation.AuditRepository {
	return &auditRepository{db: db}
}

// Append 追加审计日志(在业务事务内)
func (r *auditRepository) Append(ctx context.Context, entry *reservation.AuditEntry) error {
	model := &ReservationAuditModel{
		ReservationID: entry.ReservationID,
		LotID:         entry.LotID,
		Action:        entry.Action,
		Quantity:      entry.Quantity,
		FromStatus:    int(entry.FromStatus),
		ToStatus:      int(entry.ToStatus),
		DocumentNo:    entry.DocumentNo,
		Remark:        entry.Remark,
	}

	db := getDB(ctx, r.db)
	if err := db.Create(model).Error; err != nil {
		return apperrors.Wrap(err, "写入审计日志失败")
	}
	entry.ID = model.ID
	return nil
}

// ListByReservationID 查询预留的完整历史
func (r *auditRepository) ListByReservationID(ctx context.Context,
	reservationID uint) ([]*reservation.AuditEntry, error) {
	var models []ReservationAuditModel
	db := getDB(ctx, r.db)
	err := db.Where("reservation_id = ?", reservationID).
		Order("id ASC").Find(&models).Error
	if err != nil {
		return nil, apperrors.Wrap(err, "查询审计日志失败")
	}

	entries := make([]*reservation.AuditEntry, 0, len(models))
	for i := range models {
		m := &models[i]
		entries = append(entries, &reservation.AuditEntry{
			ID:            m.ID,
			ReservationID: m.ReservationID,
			LotID:         m.LotID,
			Action:        m.Action,
			Quantity:      m.Quantity,
			FromStatus:    reservation.Status(m.FromStatus),
			ToStatus:      reservation.Status(m.ToStatus),
			DocumentNo:    m.DocumentNo,
			Remark:        m.Remark,
			CreatedAt:     m.CreatedAt,
		})
	}
	return entries, nil
}
