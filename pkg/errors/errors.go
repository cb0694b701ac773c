package errors

import (
	"errors"
	"fmt"
)

// AppError 自定义应用错误
// 设计说明：
// 1. Code用于客户端判断错误类型（不要直接暴露HTTP状态码）
// 2. Message是用户友好的提示信息
// 3. Err是内部错误，仅记录到日志，不返回给客户端（防止泄露敏感信息）
// 4. Retryable标记调用方是否可以安全重试
//    外部登记接口的网络/超时错误可重试，业务拒绝不可重试
type AppError struct {
	Code      int    `json:"code"`      // 业务错误码
	Message   string `json:"message"`   // 用户友好的错误提示
	Retryable bool   `json:"retryable"` // 是否可重试
	Err       error  `json:"-"`         // 内部错误（不序列化）
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Is和errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// New 创建新的AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewRetryable 创建可重试的AppError
// 用途：外部登记网关超时、锁等待超时等瞬时故障
func NewRetryable(code int, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// Wrap 包装系统错误（如数据库错误、网络错误）
// 用途：将底层错误转换为业务错误，隐藏实现细节
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// Wrapf 格式化包装错误
func Wrapf(err error, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// WithCause 基于预定义错误附加内部原因
// 示例：apperrors.ErrExternalRegistration.WithCause(err)
func (e *AppError) WithCause(err error) *AppError {
	return &AppError{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Err:       err,
	}
}

// =========================================
// 错误码定义
// =========================================
// 规范：
// - 4xxxx: 客户端错误（参数错误、业务规则校验失败）
// - 5xxxx: 服务端错误（数据库异常、外部服务调用失败）

const (
	// 系统级错误码（50000-50099）
	ErrCodeInternal      = 50000 // 内部错误
	ErrCodeDatabaseError = 50001 // 数据库错误
	ErrCodeRedisError    = 50002 // Redis错误
	ErrCodeMQError       = 50003 // 消息队列错误

	// 外部系统错误（50200-50299）
	ErrCodeExternalRegistration = 50201 // 外部登记失败（网络/超时，可重试）
	ErrCodeExternalRejected     = 50202 // 外部登记被业务拒绝（不可重试）

	// 认证授权错误（40100-40199）
	ErrCodeUnauthorized = 40100 // 未登录
	ErrCodeInvalidToken = 40101 // Token无效
	ErrCodeTokenExpired = 40102 // Token过期
	ErrCodeForbidden    = 40104 // 无权限

	// 资源错误（40400-40499）
	ErrCodeNotFound            = 40400 // 资源不存在(通用)
	ErrCodeLotNotFound         = 40401 // 批次不存在
	ErrCodeReservationNotFound = 40402 // 预留记录不存在

	// 业务规则错误（40000-40099）
	ErrCodeBusinessError          = 40000 // 业务错误(通用)
	ErrCodeInsufficientStock      = 40001 // 可用库存不足
	ErrCodeInvalidStateTransition = 40002 // 非法的状态转换
	ErrCodeLotNotActive           = 40003 // 批次不在可用状态
	ErrCodeLotExpired             = 40004 // 批次已过期
	ErrCodeInvalidQuantity        = 40005 // 数量不合法
	ErrCodeDuplicateEntry         = 40009 // 重复记录(通用)

	// 参数错误（40900-40999）
	ErrCodeInvalidParams       = 40900 // 参数错误
	ErrCodeBindError           = 40901 // 参数绑定失败
	ErrCodeConcurrencyConflict = 40902 // 并发冲突(乐观锁版本不匹配,可重试)
)

// =========================================
// 预定义错误（避免每次都New）
// =========================================

var (
	// 系统错误
	ErrInternal      = New(ErrCodeInternal, "系统内部错误")
	ErrDatabaseError = New(ErrCodeDatabaseError, "数据库错误")
	ErrRedisError    = New(ErrCodeRedisError, "缓存服务错误")
	ErrMQError       = New(ErrCodeMQError, "消息队列错误")

	// 外部系统
	ErrExternalRegistration = NewRetryable(ErrCodeExternalRegistration, "外部登记失败，请稍后重试")
	ErrExternalRejected     = New(ErrCodeExternalRejected, "外部系统拒绝本次登记")

	// 认证授权
	ErrUnauthorized = New(ErrCodeUnauthorized, "请先登录")
	ErrInvalidToken = New(ErrCodeInvalidToken, "无效的Token")
	ErrTokenExpired = New(ErrCodeTokenExpired, "Token已过期")
	ErrForbidden    = New(ErrCodeForbidden, "无权限访问")

	// 资源不存在
	ErrLotNotFound         = New(ErrCodeLotNotFound, "批次不存在")
	ErrReservationNotFound = New(ErrCodeReservationNotFound, "预留记录不存在")

	// 业务规则
	ErrInsufficientStock      = New(ErrCodeInsufficientStock, "可用库存不足")
	ErrInvalidStateTransition = New(ErrCodeInvalidStateTransition, "预留状态不允许此操作")
	ErrLotNotActive           = New(ErrCodeLotNotActive, "批次不在可用状态")
	ErrLotExpired             = New(ErrCodeLotExpired, "批次已过期，拒绝确认")
	ErrInvalidQuantity        = New(ErrCodeInvalidQuantity, "数量必须大于0")

	// 参数/并发
	ErrInvalidParams       = New(ErrCodeInvalidParams, "参数错误")
	ErrBindError           = New(ErrCodeBindError, "参数格式错误")
	ErrConcurrencyConflict = NewRetryable(ErrCodeConcurrencyConflict, "并发冲突，请重试")
)

// =========================================
// 辅助函数
// =========================================

// IsAppError 判断是否为AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError 提取AppError（如果不是AppError则包装成Internal错误）
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, "系统内部错误")
}

// IsRetryable 判断错误是否可重试
// 非AppError一律视为不可重试（调用方无法判断副作用）
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}
