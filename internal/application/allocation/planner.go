package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// PlanItem 分配明细:从哪个批次取多少
type PlanItem struct {
	LotID uint
	Qty   decimal.Decimal
}

// Plan 分配方案
// 教学要点:结果对象只有两种形态——完整方案(Shortage=0)或部分方案(Shortage>0)
// 部分分配是一等公民的成功结果,不是错误
type Plan struct {
	Items    []PlanItem      // 按候选顺序排列的分配明细
	Shortage decimal.Decimal // 缺口数量(允许部分分配时>0)
}

// IsPartial 是否为部分方案
func (p *Plan) IsPartial() bool {
	return p.Shortage.GreaterThan(decimal.Zero)
}

// BuildPlan 构建分配方案
// 教学要点:单批次整配优先(Single-lot-fit)
//
// 规则1:若存在可用量≥需求量的候选,选FEFO序最靠前的那一个整配
// 这是刻意覆盖严格FEFO拆分的业务偏好:一个批次装得下就不要把一张单
// 拆到一堆小批次上(拣货/追溯成本都更高),不是性能优化
//
// 规则2:没有批次装得下时,按FEFO顺序贪心消耗,每个批次取
// min(剩余需求, 候选可用量),直到满足或耗尽
//
// 规则3:耗尽仍有缺口时,allowPartial=false返回库存不足错误,
// allowPartial=true返回部分方案并报告缺口
//
// 输出顺序严格跟随候选顺序,调用方按同一顺序创建预留行(结果可复现)
func BuildPlan(requiredQty decimal.Decimal, candidates []*LotCandidate, allowPartial bool) (*Plan, error) {
	if requiredQty.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.ErrInvalidQuantity
	}

	// 规则1:单批次整配
	for _, c := range candidates {
		if c.AvailableQty.GreaterThanOrEqual(requiredQty) {
			return &Plan{
				Items:    []PlanItem{{LotID: c.LotID, Qty: requiredQty}},
				Shortage: decimal.Zero,
			}, nil
		}
	}

	// 规则2:FEFO贪心拆分
	items := make([]PlanItem, 0, len(candidates))
	remaining := requiredQty
	for _, c := range candidates {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := decimal.Min(remaining, c.AvailableQty)
		if take.LessThanOrEqual(decimal.Zero) {
			continue
		}
		items = append(items, PlanItem{LotID: c.LotID, Qty: take})
		remaining = remaining.Sub(take)
	}

	// 规则3:缺口处理
	if remaining.GreaterThan(decimal.Zero) {
		if !allowPartial {
			available := requiredQty.Sub(remaining)
			return nil, apperrors.ErrInsufficientStock.WithCause(
				fmt.Errorf("需求%s,可分配%s", requiredQty.String(), available.String()))
		}
		return &Plan{Items: items, Shortage: remaining}, nil
	}

	return &Plan{Items: items, Shortage: decimal.Zero}, nil
}
