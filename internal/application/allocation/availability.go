package allocation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
)

// AvailabilityCache 可用量读缓存
// 接口定义在使用方,Redis实现在infrastructure层
// Get未命中返回(zero, false, nil);Invalidate在每次影响数量的写提交后调用
type AvailabilityCache interface {
	Get(ctx context.Context, lotID uint) (decimal.Decimal, bool, error)
	Set(ctx context.Context, lotID uint, qty decimal.Decimal) error
	Invalidate(ctx context.Context, lotID uint) error
}

// AvailabilityQuery 可用量查询用例
// 教学要点:对外口径与候选筛选口径不同
// 对外可用量只扣 active+confirmed(硬占用),临时预留是内部规划细节,
// 不对外暴露;候选筛选则必须扣掉临时预留(见CandidateSelector)
type AvailabilityQuery struct {
	lotRepo  lot.Repository
	resvRepo reservation.Repository
	cache    AvailabilityCache
}

// NewAvailabilityQuery 创建可用量查询用例
func NewAvailabilityQuery(lotRepo lot.Repository, resvRepo reservation.Repository,
	cache AvailabilityCache) *AvailabilityQuery {
	return &AvailabilityQuery{
		lotRepo:  lotRepo,
		resvRepo: resvRepo,
		cache:    cache,
	}
}

// AvailableQuantity 查询批次对外可用量
// 缓存策略:Cache-Aside
// 1. 先查缓存,命中直接返回
// 2. 未命中回源数据库计算,写回缓存
// 3. 写路径提交后失效缓存(而不是更新缓存,避免并发写序错乱)
func (q *AvailabilityQuery) AvailableQuantity(ctx context.Context, lotID uint) (decimal.Decimal, error) {
	if qty, ok, err := q.cache.Get(ctx, lotID); err == nil && ok {
		return qty, nil
	}
	// 缓存错误降级回源,可用量查询不能因为Redis故障而失败

	l, err := q.lotRepo.FindByID(ctx, lotID)
	if err != nil {
		return decimal.Zero, err
	}
	hard, err := q.resvRepo.SumByLotIDs(ctx, []uint{lotID}, reservation.HardStatuses)
	if err != nil {
		return decimal.Zero, err
	}
	available := l.AvailableQty(hard[lotID])

	// 回写失败不影响查询结果
	_ = q.cache.Set(ctx, lotID, available)
	return available, nil
}
