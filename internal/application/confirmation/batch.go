package confirmation

import (
	"context"
	"time"

	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// ConfirmBatchUseCase 批量确认用例
// 教学要点:批量是外层调度循环,不是一个大事务
// 每个预留独立走一遍单条确认算法(各自的批次锁、各自的事务),
// 单条失败只记入失败清单,绝不中断其余预留的处理
type ConfirmBatchUseCase struct {
	confirm *ConfirmUseCase
}

// NewConfirmBatchUseCase 创建批量确认用例
func NewConfirmBatchUseCase(confirm *ConfirmUseCase) *ConfirmBatchUseCase {
	return &ConfirmBatchUseCase{confirm: confirm}
}

// BatchFailure 批量确认中的单条失败
type BatchFailure struct {
	ReservationID uint   `json:"reservation_id"`
	Reason        string `json:"reason"`
	Retryable     bool   `json:"retryable"`
}

// BatchResponse 批量确认响应DTO
type BatchResponse struct {
	Confirmed []uint         `json:"confirmed"`
	Failed    []BatchFailure `json:"failed"`
}

// Execute 执行批量确认
func (uc *ConfirmBatchUseCase) Execute(ctx context.Context, ids []uint, refDate time.Time) (*BatchResponse, error) {
	resp := &BatchResponse{
		Confirmed: make([]uint, 0, len(ids)),
		Failed:    make([]BatchFailure, 0),
	}

	for i, id := range ids {
		// 外层Context取消时停止调度:剩余预留整批记入失败清单(可重试)
		// 响应永远覆盖全部入参,调用方不必在错误路径上翻找部分结果
		select {
		case <-ctx.Done():
			for _, rest := range ids[i:] {
				resp.Failed = append(resp.Failed, BatchFailure{
					ReservationID: rest,
					Reason:        "处理被中断,本条未执行",
					Retryable:     true,
				})
			}
			return resp, nil
		default:
		}

		_, err := uc.confirm.Execute(ctx, ConfirmRequest{ReservationID: id, RefDate: refDate})
		if err != nil {
			appErr := apperrors.GetAppError(err)
			resp.Failed = append(resp.Failed, BatchFailure{
				ReservationID: id,
				Reason:        appErr.Message,
				Retryable:     appErr.Retryable,
			})
			continue
		}
		resp.Confirmed = append(resp.Confirmed, id)
	}

	return resp, nil
}
