package lot

import (
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// 批次领域错误定义
var (
	// ErrLotNotFound 批次不存在
	ErrLotNotFound = apperrors.New(apperrors.ErrCodeLotNotFound, "批次不存在")

	// ErrLotNotActive 批次不在可用状态(隔离/锁定/归档等)
	ErrLotNotActive = apperrors.New(apperrors.ErrCodeLotNotActive, "批次不在可用状态")

	// ErrLotExpired 批次已过期(确认时效期校验失败)
	ErrLotExpired = apperrors.New(apperrors.ErrCodeLotExpired, "批次已过期，拒绝确认")

	// ErrInvalidProduct 产品ID不合法
	ErrInvalidProduct = apperrors.New(apperrors.ErrCodeInvalidParams, "产品ID不能为空")

	// ErrInvalidWarehouse 仓库ID不合法
	ErrInvalidWarehouse = apperrors.New(apperrors.ErrCodeInvalidParams, "仓库ID不能为空")

	// ErrInvalidReceivedQty 收货数量不合法
	ErrInvalidReceivedQty = apperrors.New(apperrors.ErrCodeInvalidQuantity, "收货数量必须大于0")

	// ErrInvalidLockedQty 冻结数量不合法
	ErrInvalidLockedQty = apperrors.New(apperrors.ErrCodeInvalidParams, "冻结数量不能为负数")

	// ErrVersionConflict 乐观锁版本冲突
	ErrVersionConflict = apperrors.ErrConcurrencyConflict
)
