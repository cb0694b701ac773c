package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/xiebiao/warehouse/internal/application/allocation"
	"github.com/xiebiao/warehouse/internal/application/confirmation"
	"github.com/xiebiao/warehouse/internal/application/release"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
	"github.com/xiebiao/warehouse/internal/interface/http/dto"
	"github.com/xiebiao/warehouse/pkg/response"
)

// ReservationHandler 预留HTTP处理器
type ReservationHandler struct {
	reserveUseCase          *allocation.ReserveUseCase
	promoteUseCase          *allocation.PromoteUseCase
	availabilityQuery       *allocation.AvailabilityQuery
	confirmUseCase          *confirmation.ConfirmUseCase
	confirmBatchUseCase     *confirmation.ConfirmBatchUseCase
	releaseConfirmedUseCase *confirmation.ReleaseConfirmedUseCase
	releaseUseCase          *release.ReleaseUseCase
}

// NewReservationHandler 创建预留处理器
func NewReservationHandler(
	reserveUseCase *allocation.ReserveUseCase,
	promoteUseCase *allocation.PromoteUseCase,
	availabilityQuery *allocation.AvailabilityQuery,
	confirmUseCase *confirmation.ConfirmUseCase,
	confirmBatchUseCase *confirmation.ConfirmBatchUseCase,
	releaseConfirmedUseCase *confirmation.ReleaseConfirmedUseCase,
	releaseUseCase *release.ReleaseUseCase,
) *ReservationHandler {
	return &ReservationHandler{
		reserveUseCase:          reserveUseCase,
		promoteUseCase:          promoteUseCase,
		availabilityQuery:       availabilityQuery,
		confirmUseCase:          confirmUseCase,
		confirmBatchUseCase:     confirmBatchUseCase,
		releaseConfirmedUseCase: releaseConfirmedUseCase,
		releaseUseCase:          releaseUseCase,
	}
}

// Reserve 创建预留
// @Summary      创建预留
// @Description  FEFO筛选候选批次并按单批满足优先策略分配预留
// @Tags         预留
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body dto.ReserveRequest true "预留请求"
// @Success      200 {object} response.Response{data=dto.ReserveResponse}
// @Failure      400 {object} response.Response "参数错误"
// @Failure      409 {object} response.Response "可用库存不足"
// @Router       /api/v1/reservations [post]
func (h *ReservationHandler) Reserve(c *gin.Context) {
	var req dto.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, 40901, "参数错误: "+err.Error())
		return
	}

	qty, err := decimal.NewFromString(req.RequiredQty)
	if err != nil {
		response.ErrorWithCode(c, 40900, "required_qty格式错误")
		return
	}

	refDate, ok := parseDate(c, req.RefDate)
	if !ok {
		return
	}

	mode := allocation.ModeActive
	if req.Temporary {
		mode = allocation.ModeTemporary
	}

	result, err := h.reserveUseCase.Execute(c.Request.Context(), allocation.ReserveRequest{
		ProductID:    req.ProductID,
		WarehouseID:  req.WarehouseID,
		RequiredQty:  qty,
		SourceType:   reservation.SourceType(req.SourceType),
		SourceID:     req.SourceID,
		AllowPartial: req.AllowPartial,
		Mode:         mode,
		RefDate:      refDate,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.ReserveItemResponse, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, dto.ReserveItemResponse{
			ReservationID: item.ReservationID,
			LotID:         item.LotID,
			LotNo:         item.LotNo,
			Qty:           item.Qty,
			Status:        item.Status,
		})
	}
	response.Success(c, &dto.ReserveResponse{
		Items:    items,
		Shortage: result.Shortage,
	})
}

// Promote 临时预留转正
// @Summary      临时预留转正
// @Description  将临时预留提升为活动预留(锁内重验硬性占用不变量)
// @Tags         预留
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "预留ID"
// @Success      200 {object} response.Response
// @Failure      409 {object} response.Response "可用库存不足"
// @Router       /api/v1/reservations/{id}/promote [post]
func (h *ReservationHandler) Promote(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.promoteUseCase.Execute(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"reservation_id": id, "status": "active"})
}

// Confirm 确认预留
// @Summary      确认预留
// @Description  向外部ERP登记并将预留置为已确认;重复确认幂等返回既有单据号
// @Tags         预留
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "预留ID"
// @Param        request body dto.ConfirmRequest false "确认参数"
// @Success      200 {object} response.Response{data=dto.ConfirmResponse}
// @Failure      409 {object} response.Response "状态不允许/批次已过期"
// @Failure      502 {object} response.Response "外部登记失败(可重试)"
// @Router       /api/v1/reservations/{id}/confirm [post]
func (h *ReservationHandler) Confirm(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req dto.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.ErrorWithCode(c, 40901, "参数错误: "+err.Error())
		return
	}

	refDate, ok := parseDate(c, req.RefDate)
	if !ok {
		return
	}

	result, err := h.confirmUseCase.Execute(c.Request.Context(), confirmation.ConfirmRequest{
		ReservationID: id,
		RefDate:       refDate,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, &dto.ConfirmResponse{
		ReservationID: result.ReservationID,
		LotID:         result.LotID,
		DocumentNo:    result.DocumentNo,
		Status:        result.Status,
		ConfirmedAt:   result.ConfirmedAt,
	})
}

// ConfirmBatch 批量确认预留
// @Summary      批量确认预留
// @Description  逐条确认,单条失败不影响其他条目,失败明细随响应返回
// @Tags         预留
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body dto.ConfirmBatchRequest true "批量确认请求"
// @Success      200 {object} response.Response{data=dto.ConfirmBatchResponse}
// @Router       /api/v1/reservations/confirm-batch [post]
func (h *ReservationHandler) ConfirmBatch(c *gin.Context) {
	var req dto.ConfirmBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, 40901, "参数错误: "+err.Error())
		return
	}

	refDate, ok := parseDate(c, req.RefDate)
	if !ok {
		return
	}

	result, err := h.confirmBatchUseCase.Execute(c.Request.Context(), req.ReservationIDs, refDate)
	if err != nil {
		response.Error(c, err)
		return
	}

	failed := make([]dto.ConfirmBatchFailure, 0, len(result.Failed))
	for _, f := range result.Failed {
		failed = append(failed, dto.ConfirmBatchFailure{
			ReservationID: f.ReservationID,
			Reason:        f.Reason,
			Retryable:     f.Retryable,
		})
	}
	response.Success(c, &dto.ConfirmBatchResponse{
		Confirmed: result.Confirmed,
		Failed:    failed,
	})
}

// Release 释放单条预留
// @Summary      释放预留
// @Description  释放临时/活动预留;已确认预留必须走补偿释放接口
// @Tags         预留
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "预留ID"
// @Success      200 {object} response.Response
// @Failure      409 {object} response.Response "已确认预留不允许直接释放"
// @Router       /api/v1/reservations/{id} [delete]
func (h *ReservationHandler) Release(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.releaseUseCase.Execute(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"reservation_id": id, "status": "released"})
}

// ReleaseBySource 按需求来源释放
// @Summary      按需求来源释放
// @Description  释放某来源单据下全部未确认预留(已确认预留原样保留)
// @Tags         预留
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body dto.ReleaseBySourceRequest true "来源单据"
// @Success      200 {object} response.Response{data=dto.ReleasedResponse}
// @Router       /api/v1/reservations/release-by-source [post]
func (h *ReservationHandler) ReleaseBySource(c *gin.Context) {
	var req dto.ReleaseBySourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, 40901, "参数错误: "+err.Error())
		return
	}

	ids, err := h.releaseUseCase.ExecuteForSource(c.Request.Context(),
		reservation.SourceType(req.SourceType), req.SourceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, &dto.ReleasedResponse{ReleasedIDs: ids, Count: len(ids)})
}

// ReleaseBulk 批量释放指定预留
// @Summary      批量释放预留
// @Description  集合级原子:名单中任何一条失败(含已确认),整批回滚
// @Tags         预留
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body dto.ReleaseBulkRequest true "预留ID列表"
// @Success      200 {object} response.Response{data=dto.ReleasedResponse}
// @Router       /api/v1/reservations/release-bulk [post]
func (h *ReservationHandler) ReleaseBulk(c *gin.Context) {
	var req dto.ReleaseBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, 40901, "参数错误: "+err.Error())
		return
	}

	ids, err := h.releaseUseCase.ExecuteBulk(c.Request.Context(), req.ReservationIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, &dto.ReleasedResponse{ReleasedIDs: ids, Count: len(ids)})
}

// ReleaseConfirmed 补偿释放已确认预留
// @Summary      补偿释放已确认预留
// @Description  先撤销外部ERP登记,成功后再释放本地预留(Saga补偿)
// @Tags         预留
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "预留ID"
// @Success      200 {object} response.Response
// @Failure      502 {object} response.Response "外部撤销失败(预留保持已确认)"
// @Router       /api/v1/reservations/{id}/release-confirmed [post]
func (h *ReservationHandler) ReleaseConfirmed(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.releaseConfirmedUseCase.Execute(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"reservation_id": id, "status": "released"})
}

// Availability 查询批次对外可用量
// @Summary      查询批次可用量
// @Description  received - locked - 硬性占用(active+confirmed),临时预留不扣减
// @Tags         批次
// @Produce      json
// @Param        id path int true "批次ID"
// @Success      200 {object} response.Response{data=dto.AvailabilityResponse}
// @Router       /api/v1/lots/{id}/availability [get]
func (h *ReservationHandler) Availability(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	qty, err := h.availabilityQuery.AvailableQuantity(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, &dto.AvailabilityResponse{
		LotID:        id,
		AvailableQty: qty.String(),
	})
}

// parseIDParam 解析路径中的:id参数
func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.ErrorWithCode(c, 40900, "无效的ID")
		return 0, false
	}
	return uint(id), true
}

// parseDate 解析YYYY-MM-DD日期,空串返回零值(用例层取当天)
func parseDate(c *gin.Context, s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, true
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		response.ErrorWithCode(c, 40900, "日期格式错误,应为YYYY-MM-DD")
		return time.Time{}, false
	}
	return t, true
}
