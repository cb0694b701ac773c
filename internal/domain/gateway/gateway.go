package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// IdempotencyKeyFor 由预留ID派生幂等键
// 同一预留的所有登记重试共用一个键,ERP侧据此去重
func IdempotencyKeyFor(reservationID uint) string {
	return fmt.Sprintf("resv-%d", reservationID)
}

// RegisterRequest 外部登记请求
type RegisterRequest struct {
	ReservationID  uint            // 本地预留ID
	LotNo          string          // 批次号
	ProductID      uint            // 商品ID
	Quantity       decimal.Decimal // 登记数量
	SourceType     string          // 需求来源类型
	SourceID       string          // 需求来源单据ID
	IdempotencyKey string          // 幂等键(预留ID派生,重试时不变)
}

// RegisterResult 外部登记结果
type RegisterResult struct {
	DocumentNo string // ERP侧生成的登记单据号
}

// RegistrationGateway 外部ERP登记网关
// 教学要点:防腐层(Anti-Corruption Layer)
// 1. 领域层只认这个接口,HTTP细节、熔断、超时全部压在基础设施实现里
// 2. Register必须携带幂等键:网关超时后无法区分成功/失败,重试靠ERP侧幂等去重
// 3. 返回的错误必须区分可重试(网络/超时/熔断)与不可重试(业务拒绝)
type RegistrationGateway interface {
	// Register 向ERP登记一笔预留,成功返回单据号
	Register(ctx context.Context, req *RegisterRequest) (*RegisterResult, error)

	// CancelRegistration 撤销一笔已登记单据(补偿释放的第一步)
	// 对已撤销单据重复调用必须幂等成功
	CancelRegistration(ctx context.Context, documentNo string) error
}
