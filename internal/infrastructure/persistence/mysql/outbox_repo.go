package mysql

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/xiebiao/warehouse/internal/domain/outbox"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// outboxRepository 发件箱仓储实现(MySQL)
// 教学要点:Append走getDB参与业务事务,这正是Outbox模式的意义——
// "状态变了一定有事件",两者同生共死
type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository 创建发件箱仓储
func NewOutboxRepository(db *gorm.DB) outbox.Repository {
	return &outboxRepository{db: db}
}

// Append 追加事件(业务事务内)
func (r *outboxRepository) Append(ctx context.Context, event *outbox.Event) error {
	model := &OutboxEventModel{
		EventID:     event.EventID,
		EventType:   event.EventType,
		AggregateID: event.AggregateID,
		Payload:     event.Payload,
		Published:   false,
	}

	db := getDB(ctx, r.db)
	if err := db.Create(model).Error; err != nil {
		return apperrors.Wrap(err, "写入发件箱失败")
	}
	event.ID = model.ID
	return nil
}

// ListUnpublished 查询未投递事件(按创建时间升序)
func (r *outboxRepository) ListUnpublished(ctx context.Context, limit int) ([]*outbox.Event, error) {
	var models []OutboxEventModel
	db := getDB(ctx, r.db)
	err := db.Where("published = ?", false).
		Order("created_at ASC, id ASC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, apperrors.Wrap(err, "查询未投递事件失败")
	}

	events := make([]*outbox.Event, 0, len(models))
	for i := range models {
		m := &models[i]
		events = append(events, &outbox.Event{
			ID:          m.ID,
			EventID:     m.EventID,
			EventType:   m.EventType,
			AggregateID: m.AggregateID,
			Payload:     m.Payload,
			Published:   m.Published,
			PublishedAt: m.PublishedAt,
			CreatedAt:   m.CreatedAt,
		})
	}
	return events, nil
}

// MarkPublished 标记事件已投递
func (r *outboxRepository) MarkPublished(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	db := getDB(ctx, r.db)
	err := db.Model(&OutboxEventModel{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"published":    true,
			"published_at": now,
		}).Error
	if err != nil {
		return apperrors.Wrap(err, "标记事件已投递失败")
	}
	return nil
}

// CountUnpublished 统计积压事件数
func (r *outboxRepository) CountUnpublished(ctx context.Context) (int64, error) {
	var n int64
	db := getDB(ctx, r.db)
	err := db.Model(&OutboxEventModel{}).Where("published = ?", false).Count(&n).Error
	if err != nil {
		return 0, apperrors.Wrap(err, "统计积压事件失败")
	}
	return n, nil
}
