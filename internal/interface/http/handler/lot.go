package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/xiebiao/warehouse/internal/application/receiving"
	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/interface/http/dto"
	"github.com/xiebiao/warehouse/pkg/response"
)

// LotHandler 批次HTTP处理器
type LotHandler struct {
	receiveUseCase *receiving.ReceiveLotUseCase
	lotRepo        lot.Repository
	summaryRepo    lot.SummaryRepository
}

// NewLotHandler 创建批次处理器
func NewLotHandler(receiveUseCase *receiving.ReceiveLotUseCase,
	lotRepo lot.Repository, summaryRepo lot.SummaryRepository) *LotHandler {
	return &LotHandler{
		receiveUseCase: receiveUseCase,
		lotRepo:        lotRepo,
		summaryRepo:    summaryRepo,
	}
}

// Receive 批次收货
// @Summary      批次收货
// @Description  创建新批次并在同一事务内重算批次族汇总
// @Tags         批次
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body dto.ReceiveLotRequest true "收货信息"
// @Success      200 {object} response.Response{data=dto.ReceiveLotResponse}
// @Failure      400 {object} response.Response "参数错误"
// @Router       /api/v1/lots [post]
func (h *LotHandler) Receive(c *gin.Context) {
	var req dto.ReceiveLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, 40901, "参数错误: "+err.Error())
		return
	}

	qty, err := decimal.NewFromString(req.ReceivedQty)
	if err != nil {
		response.ErrorWithCode(c, 40900, "received_qty格式错误")
		return
	}

	var expiryDate *time.Time
	if req.ExpiryDate != "" {
		t, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			response.ErrorWithCode(c, 40900, "expiry_date格式错误,应为YYYY-MM-DD")
			return
		}
		expiryDate = &t
	}

	var receivedDate time.Time
	if req.ReceivedDate != "" {
		receivedDate, err = time.Parse("2006-01-02", req.ReceivedDate)
		if err != nil {
			response.ErrorWithCode(c, 40900, "received_date格式错误,应为YYYY-MM-DD")
			return
		}
	}

	result, err := h.receiveUseCase.Execute(c.Request.Context(), receiving.ReceiveLotRequest{
		ProductID:    req.ProductID,
		WarehouseID:  req.WarehouseID,
		SupplierID:   req.SupplierID,
		ReceivedQty:  qty,
		ExpiryDate:   expiryDate,
		ReceivedDate: receivedDate,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, &dto.ReceiveLotResponse{
		LotID:        result.LotID,
		LotNo:        result.LotNo,
		ReceivedQty:  result.ReceivedQty,
		ReceivedDate: result.ReceivedDate,
	})
}

// List 分页查询批次
// @Summary      批次列表
// @Tags         批次
// @Produce      json
// @Param        product_id query int true "产品ID"
// @Param        page query int false "页码"
// @Param        page_size query int false "每页大小"
// @Success      200 {object} response.Response{data=response.PageData}
// @Router       /api/v1/lots [get]
func (h *LotHandler) List(c *gin.Context) {
	var req dto.ListLotsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorWithCode(c, 40901, "参数错误: "+err.Error())
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	lots, total, err := h.lotRepo.List(c.Request.Context(), req.ProductID, req.Page, req.PageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.LotListItem, 0, len(lots))
	for _, l := range lots {
		item := dto.LotListItem{
			ID:           l.ID,
			LotNo:        l.LotNo,
			ProductID:    l.ProductID,
			WarehouseID:  l.WarehouseID,
			ReceivedQty:  l.ReceivedQty.String(),
			LockedQty:    l.LockedQty.String(),
			Status:       l.Status.String(),
			ReceivedDate: l.ReceivedDate.Format("2006-01-02"),
		}
		if l.ExpiryDate != nil {
			item.ExpiryDate = l.ExpiryDate.Format("2006-01-02")
		}
		items = append(items, item)
	}
	response.SuccessWithPage(c, items, total, req.Page, req.PageSize)
}

// Summary 查询批次族汇总
// @Summary      批次族汇总
// @Description  产品+仓库维度的物化汇总(收货时写触发全量重算)
// @Tags         批次
// @Produce      json
// @Param        product_id query int true "产品ID"
// @Param        warehouse_id query int true "仓库ID"
// @Success      200 {object} response.Response{data=dto.FamilySummaryResponse}
// @Router       /api/v1/lots/summary [get]
func (h *LotHandler) Summary(c *gin.Context) {
	productID, err1 := strconv.ParseUint(c.Query("product_id"), 10, 64)
	warehouseID, err2 := strconv.ParseUint(c.Query("warehouse_id"), 10, 64)
	if err1 != nil || err2 != nil || productID == 0 {
		response.ErrorWithCode(c, 40900, "product_id/warehouse_id参数错误")
		return
	}

	summary, err := h.summaryRepo.Find(c.Request.Context(), uint(productID), uint(warehouseID))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, &dto.FamilySummaryResponse{
		ProductID:        summary.ProductID,
		WarehouseID:      summary.WarehouseID,
		TotalReceivedQty: summary.TotalReceivedQty.String(),
		TotalLockedQty:   summary.TotalLockedQty.String(),
		LotCount:         summary.LotCount,
	})
}
