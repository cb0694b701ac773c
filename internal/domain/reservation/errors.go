package reservation

import (
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// 预留领域错误定义
var (
	// ErrReservationNotFound 预留记录不存在
	ErrReservationNotFound = apperrors.New(apperrors.ErrCodeReservationNotFound, "预留记录不存在")

	// ErrInvalidStateTransition 非法的状态转换
	// 典型场景:对已确认预留调用普通释放
	ErrInvalidStateTransition = apperrors.New(apperrors.ErrCodeInvalidStateTransition, "预留状态不允许此操作")

	// ErrInvalidSourceType 需求来源类型不合法
	ErrInvalidSourceType = apperrors.New(apperrors.ErrCodeInvalidParams, "需求来源类型不合法")

	// ErrInvalidReservedQty 预留数量不合法
	ErrInvalidReservedQty = apperrors.New(apperrors.ErrCodeInvalidQuantity, "预留数量必须大于0")

	// ErrInvalidInitialStatus 非法的初始状态
	ErrInvalidInitialStatus = apperrors.New(apperrors.ErrCodeInvalidParams, "预留初始状态只能是临时或生效")

	// ErrTemporaryNeedsExpiry 临时预留缺少过期时间
	ErrTemporaryNeedsExpiry = apperrors.New(apperrors.ErrCodeInvalidParams, "临时预留必须设置过期时间")

	// ErrEmptyDocumentNo 外部登记单据号为空
	ErrEmptyDocumentNo = apperrors.New(apperrors.ErrCodeInvalidParams, "外部登记单据号不能为空")

	// ErrVersionConflict 乐观锁版本冲突
	ErrVersionConflict = apperrors.ErrConcurrencyConflict
)
