package dto

// ReceiveLotRequest HTTP收货请求
type ReceiveLotRequest struct {
	ProductID    uint   `json:"product_id" binding:"required" example:"1001"`
	WarehouseID  uint   `json:"warehouse_id" binding:"required" example:"1"`
	SupplierID   uint   `json:"supplier_id" binding:"required" example:"201"`
	ReceivedQty  string `json:"received_qty" binding:"required" example:"500.000"`
	ExpiryDate   string `json:"expiry_date" binding:"omitempty,datetime=2006-01-02" example:"2027-03-01"` // 空表示无效期商品
	ReceivedDate string `json:"received_date" binding:"omitempty,datetime=2006-01-02" example:"2026-09-01"`
}

// ReceiveLotResponse HTTP收货响应
type ReceiveLotResponse struct {
	LotID        uint   `json:"lot_id" example:"10"`
	LotNo        string `json:"lot_no" example:"LOT20260901123456"`
	ReceivedQty  string `json:"received_qty" example:"500.000"`
	ReceivedDate string `json:"received_date" example:"2026-09-01"`
}

// LotListItem HTTP批次列表项
type LotListItem struct {
	ID           uint   `json:"id" example:"10"`
	LotNo        string `json:"lot_no" example:"LOT20260901123456"`
	ProductID    uint   `json:"product_id" example:"1001"`
	WarehouseID  uint   `json:"warehouse_id" example:"1"`
	ReceivedQty  string `json:"received_qty" example:"500.000"`
	LockedQty    string `json:"locked_qty" example:"0"`
	Status       string `json:"status" example:"active"`
	ExpiryDate   string `json:"expiry_date,omitempty" example:"2027-03-01"`
	ReceivedDate string `json:"received_date" example:"2026-09-01"`
}

// ListLotsRequest HTTP批次列表请求
type ListLotsRequest struct {
	ProductID uint `form:"product_id" binding:"required" example:"1001"`
	Page      int  `form:"page" binding:"omitempty,min=1" example:"1"`
	PageSize  int  `form:"page_size" binding:"omitempty,min=1,max=100" example:"20"`
}

// FamilySummaryResponse HTTP批次族汇总响应
type FamilySummaryResponse struct {
	ProductID        uint   `json:"product_id" example:"1001"`
	WarehouseID      uint   `json:"warehouse_id" example:"1"`
	TotalReceivedQty string `json:"total_received_qty" example:"1500.000"`
	TotalLockedQty   string `json:"total_locked_qty" example:"100.000"`
	LotCount         int    `json:"lot_count" example:"3"`
}
