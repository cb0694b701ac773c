package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// 事件类型常量
const (
	EventReservationCreated   = "reservation.created"
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationReleased  = "reservation.released"
	EventLotReceived          = "lot.received"
)

// Event 事务性发件箱事件
// 教学要点:Transactional Outbox模式
// 1. 业务写与事件写在同一个本地事务,保证"状态变了事件必在"
// 2. 独立的投递协程轮询未发布事件推送到MQ,发布成功后打标
// 3. 投递至少一次,消费方按EventID去重
type Event struct {
	ID          uint
	EventID     string    // 全局唯一事件ID(uuid,消费端幂等键)
	EventType   string    // 事件类型
	AggregateID uint      // 聚合根ID(预留ID或批次ID)
	Payload     []byte    // JSON载荷
	Published   bool      // 是否已投递
	PublishedAt *time.Time
	CreatedAt   time.Time
}

// NewEvent 创建发件箱事件
func NewEvent(eventType string, aggregateID uint, payload interface{}) (*Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     body,
		CreatedAt:   time.Now(),
	}, nil
}

// Repository 发件箱仓储
type Repository interface {
	// Append 追加事件(必须在业务事务内调用)
	Append(ctx context.Context, event *Event) error

	// ListUnpublished 查询未投递事件(按创建时间升序)
	ListUnpublished(ctx context.Context, limit int) ([]*Event, error)

	// MarkPublished 标记事件已投递
	MarkPublished(ctx context.Context, ids []uint) error

	// CountUnpublished 统计积压事件数(监控用)
	CountUnpublished(ctx context.Context) (int64, error)
}
