package dto

// ReserveRequest HTTP预留请求
// validator tag说明:
// - required: 必填字段
// - oneof: 枚举值校验
// - 数量用decimal字符串传输,避免JSON浮点精度丢失
type ReserveRequest struct {
	ProductID    uint   `json:"product_id" binding:"required" example:"1001"`
	WarehouseID  uint   `json:"warehouse_id" binding:"omitempty" example:"1"` // 0表示不限仓库
	RequiredQty  string `json:"required_qty" binding:"required" example:"120.000"`
	SourceType   string `json:"source_type" binding:"required,oneof=forecast order manual" example:"order"`
	SourceID     string `json:"source_id" binding:"required,max=64" example:"SO-20260901-0001"`
	AllowPartial bool   `json:"allow_partial" example:"false"`
	Temporary    bool   `json:"temporary" example:"false"` // true创建临时预留(带TTL)
	RefDate      string `json:"ref_date" binding:"omitempty,datetime=2006-01-02" example:"2026-09-01"`
}

// ReserveItemResponse 预留明细响应
type ReserveItemResponse struct {
	ReservationID uint   `json:"reservation_id" example:"1"`
	LotID         uint   `json:"lot_id" example:"10"`
	LotNo         string `json:"lot_no" example:"LOT20260901123456"`
	Qty           string `json:"qty" example:"100.000"`
	Status        string `json:"status" example:"active"`
}

// ReserveResponse HTTP预留响应
// shortage>0表示部分分配(allow_partial=true时的正常结果)
type ReserveResponse struct {
	Items    []ReserveItemResponse `json:"items"`
	Shortage string                `json:"shortage" example:"0"`
}

// ConfirmRequest HTTP确认请求
type ConfirmRequest struct {
	RefDate string `json:"ref_date" binding:"omitempty,datetime=2006-01-02" example:"2026-09-01"`
}

// ConfirmResponse HTTP确认响应
type ConfirmResponse struct {
	ReservationID uint   `json:"reservation_id" example:"1"`
	LotID         uint   `json:"lot_id" example:"10"`
	DocumentNo    string `json:"document_no" example:"DOC-000042"`
	Status        string `json:"status" example:"confirmed"`
	ConfirmedAt   string `json:"confirmed_at" example:"2026-09-01 10:30:00"`
}

// ConfirmBatchRequest HTTP批量确认请求
type ConfirmBatchRequest struct {
	ReservationIDs []uint `json:"reservation_ids" binding:"required,min=1,max=1000,dive,required"`
	RefDate        string `json:"ref_date" binding:"omitempty,datetime=2006-01-02" example:"2026-09-01"`
}

// ConfirmBatchFailure 批量确认的单条失败
type ConfirmBatchFailure struct {
	ReservationID uint   `json:"reservation_id" example:"5"`
	Reason        string `json:"reason" example:"批次已过期，拒绝确认"`
	Retryable     bool   `json:"retryable" example:"false"`
}

// ConfirmBatchResponse HTTP批量确认响应
// 逐条隔离:单条失败不影响其他条目
type ConfirmBatchResponse struct {
	Confirmed []uint                `json:"confirmed"`
	Failed    []ConfirmBatchFailure `json:"failed"`
}

// ReleaseBySourceRequest HTTP按来源释放请求
type ReleaseBySourceRequest struct {
	SourceType string `json:"source_type" binding:"required,oneof=forecast order manual" example:"order"`
	SourceID   string `json:"source_id" binding:"required,max=64" example:"SO-20260901-0001"`
}

// ReleaseBulkRequest HTTP批量释放请求
type ReleaseBulkRequest struct {
	ReservationIDs []uint `json:"reservation_ids" binding:"required,min=1,max=1000,dive,required"`
}

// ReleasedResponse HTTP释放响应
type ReleasedResponse struct {
	ReleasedIDs []uint `json:"released_ids"`
	Count       int    `json:"count" example:"3"`
}

// AvailabilityResponse HTTP可用量响应
type AvailabilityResponse struct {
	LotID        uint   `json:"lot_id" example:"10"`
	AvailableQty string `json:"available_qty" example:"80.000"`
}
