package reservation

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceType 需求来源类型
type SourceType string

const (
	SourceTypeForecast SourceType = "forecast" // 需求预测软分配
	SourceTypeOrder    SourceType = "order"    // 订单行分配
	SourceTypeManual   SourceType = "manual"   // 人工指定
)

// Valid 校验来源类型
func (s SourceType) Valid() bool {
	switch s {
	case SourceTypeForecast, SourceTypeOrder, SourceTypeManual:
		return true
	}
	return false
}

// Status 预留状态
// 教学要点:
// 1. 使用int类型存储,便于索引
// 2. 状态值1-4递增,便于理解流转方向
type Status int

const (
	StatusTemporary Status = 1 // 临时(多步规划未提交,不计入硬不变量,带过期时间)
	StatusActive    Status = 2 // 生效(计入硬不变量,可释放)
	StatusConfirmed Status = 3 // 已确认(已在外部ERP登记,不可直接释放)
	StatusReleased  Status = 4 // 已释放(终态,容量在转换瞬间回池)
)

// String 实现Stringer接口(方便日志输出)
func (s Status) String() string {
	switch s {
	case StatusTemporary:
		return "临时"
	case StatusActive:
		return "生效"
	case StatusConfirmed:
		return "已确认"
	case StatusReleased:
		return "已释放"
	default:
		return "未知状态"
	}
}

// HardStatuses 计入硬不变量的状态集合
// 不变量:sum(active+confirmed预留量) + 批次冻结量 ≤ 批次收货量
// 临时预留不计入硬不变量,但候选可用量计算必须把它扣掉(防止多步规划期间超卖)
var HardStatuses = []Status{StatusActive, StatusConfirmed}

// HoldingStatuses 占用可用量的状态集合(候选筛选口径)
var HoldingStatuses = []Status{StatusTemporary, StatusActive, StatusConfirmed}

// Reservation 预留实体(聚合根)
// 教学要点:
// 1. 一条预留只指向一个批次,创建后永不改指(排他关系)
// 2. (SourceType, SourceID)是对需求方的回引,不是所有权边
// 3. DocumentNo是外部登记标记,只有确认协调器会写入
// 4. 预留永不物理删除,历史通过审计日志追加记录
type Reservation struct {
	ID          uint
	LotID       uint            // 所属批次ID(必填,排他)
	SourceType  SourceType      // 需求来源类型
	SourceID    string          // 需求来源单据ID
	ReservedQty decimal.Decimal // 预留数量(>0)
	Status      Status          // 预留状态
	DocumentNo  *string         // 外部登记单据号(仅确认协调器写入)
	ExpiresAt   *time.Time      // 过期时间(仅临时预留有意义)
	ConfirmedAt *time.Time      // 确认时间
	ReleasedAt  *time.Time      // 释放时间
	Version     int             // 乐观锁版本号
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewReservation 创建新预留(工厂方法)
// status只允许temporary或active;临时预留必须带过期时间
func NewReservation(lotID uint, sourceType SourceType, sourceID string,
	qty decimal.Decimal, status Status, expiresAt *time.Time) (*Reservation, error) {
	if !sourceType.Valid() {
		return nil, ErrInvalidSourceType
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidReservedQty
	}
	if status != StatusTemporary && status != StatusActive {
		return nil, ErrInvalidInitialStatus
	}
	if status == StatusTemporary && expiresAt == nil {
		return nil, ErrTemporaryNeedsExpiry
	}

	now := time.Now()
	return &Reservation{
		LotID:       lotID,
		SourceType:  sourceType,
		SourceID:    sourceID,
		ReservedQty: qty,
		Status:      status,
		ExpiresAt:   expiresAt,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CanTransitionTo 检查是否可以转换到目标状态
// 教学要点:状态机设计,防止非法状态跳转
// 合法转换:temporary→active→confirmed,temporary/active→released
// confirmed→released被刻意排除:已确认预留必须走补偿流程(先撤销外部登记)
func (r *Reservation) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusTemporary: {StatusActive, StatusReleased}, // 临时→生效/释放
		StatusActive:    {StatusConfirmed, StatusReleased},
		StatusConfirmed: {}, // 已确认→普通流转无后续(只能走补偿释放)
		StatusReleased:  {}, // 已释放→终态
	}

	allowedTargets, exists := transitions[r.Status]
	if !exists {
		return false
	}

	for _, allowed := range allowedTargets {
		if allowed == target {
			return true
		}
	}
	return false
}

// TransitionTo 状态转换
func (r *Reservation) TransitionTo(target Status) error {
	if !r.CanTransitionTo(target) {
		return ErrInvalidStateTransition
	}
	r.Status = target
	r.UpdatedAt = time.Now()
	return nil
}

// Promote 临时预留转正(领域行为)
// 转正后计入硬不变量,过期时间清空
func (r *Reservation) Promote() error {
	if r.Status != StatusTemporary {
		return ErrInvalidStateTransition
	}
	if err := r.TransitionTo(StatusActive); err != nil {
		return err
	}
	r.ExpiresAt = nil
	return nil
}

// Confirm 确认预留(领域行为)
// 教学要点:DocumentNo与状态必须同时写入——
// 外部登记单据号就是幂等标记,没有单据号的"已确认"是非法状态
func (r *Reservation) Confirm(documentNo string) error {
	if documentNo == "" {
		return ErrEmptyDocumentNo
	}
	if err := r.TransitionTo(StatusConfirmed); err != nil {
		return err
	}
	now := time.Now()
	r.DocumentNo = &documentNo
	r.ConfirmedAt = &now
	return nil
}

// Release 释放预留(领域行为)
// 仅temporary/active可释放;对confirmed调用永远返回错误,绝不静默成功
func (r *Reservation) Release() error {
	if err := r.TransitionTo(StatusReleased); err != nil {
		return err
	}
	now := time.Now()
	r.ReleasedAt = &now
	return nil
}

// ReleaseCompensated 补偿释放(领域行为)
// 唯一允许confirmed→released的路径,调用方必须已经成功撤销外部登记
// 普通Release对confirmed永远拒绝,这里绕过状态机是刻意设计
func (r *Reservation) ReleaseCompensated() error {
	if r.Status != StatusConfirmed {
		return ErrInvalidStateTransition
	}
	now := time.Now()
	r.Status = StatusReleased
	r.ReleasedAt = &now
	r.UpdatedAt = now
	return nil
}

// IsExpired 临时预留是否已过期
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == StatusTemporary && r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// HasDocument 是否已有外部登记标记
func (r *Reservation) HasDocument() bool {
	return r.DocumentNo != nil && *r.DocumentNo != ""
}
