package reservation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// 审计动作常量
const (
	AuditActionCreated     = "created"     // 预留创建
	AuditActionPromoted    = "promoted"    // 临时转正
	AuditActionConfirmed   = "confirmed"   // 确认(外部登记完成)
	AuditActionReleased    = "released"    // 释放
	AuditActionExpired     = "expired"     // 过期清理
	AuditActionCompensated = "compensated" // 补偿释放(撤销外部登记后)
)

// AuditEntry 预留审计日志
// 教学要点:
// 1. 只追加,不更新,不删除(预留行本身会被状态机改写,历史靠这里还原)
// 2. 每次状态变化与业务事务同库同事务写入,不会丢
type AuditEntry struct {
	ID            uint
	ReservationID uint            // 预留ID
	LotID         uint            // 批次ID(冗余,便于按批次查历史)
	Action        string          // 动作
	Quantity      decimal.Decimal // 涉及数量
	FromStatus    Status          // 变化前状态(创建时为0)
	ToStatus      Status          // 变化后状态
	DocumentNo    string          // 外部单据号(确认/补偿动作携带)
	Remark        string          // 备注(失败原因、操作来源等)
	CreatedAt     time.Time
}

// NewAuditEntry 创建审计日志
func NewAuditEntry(r *Reservation, action string, fromStatus Status, remark string) *AuditEntry {
	entry := &AuditEntry{
		ReservationID: r.ID,
		LotID:         r.LotID,
		Action:        action,
		Quantity:      r.ReservedQty,
		FromStatus:    fromStatus,
		ToStatus:      r.Status,
		Remark:        remark,
		CreatedAt:     time.Now(),
	}
	if r.DocumentNo != nil {
		entry.DocumentNo = *r.DocumentNo
	}
	return entry
}

// AuditRepository 审计日志仓储(只追加)
type AuditRepository interface {
	// Append 追加一条审计日志(必须在业务事务内调用)
	Append(ctx context.Context, entry *AuditEntry) error

	// ListByReservationID 查询预留的完整历史
	ListByReservationID(ctx context.Context, reservationID uint) ([]*AuditEntry, error)
}
