package allocation

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
)

// LotCandidate 候选批次
// 候选是筛选时刻的快照,规划前必须整体物化,规划过程中不回头重读
type LotCandidate struct {
	LotID        uint
	LotNo        string
	AvailableQty decimal.Decimal
	ExpiryDate   *time.Time
	ReceivedDate time.Time
}

// CandidateSelector 候选批次筛选器
// 教学要点:FEFO(先到期先出)排序
// 1. 到期日升序,无效期批次排最后(先消耗快过期的货)
// 2. 到期日相同按收货日期升序,再按批次ID升序(全序,结果可复现)
// 3. 可用量按"占用口径"扣减:临时+生效+已确认全部扣掉
//    临时预留虽不计入硬不变量,但筛选时必须扣,否则多步规划期间会超卖
type CandidateSelector struct {
	lotRepo  lot.Repository
	resvRepo reservation.Repository
}

// NewCandidateSelector 创建候选筛选器
func NewCandidateSelector(lotRepo lot.Repository, resvRepo reservation.Repository) *CandidateSelector {
	return &CandidateSelector{
		lotRepo:  lotRepo,
		resvRepo: resvRepo,
	}
}

// Select 筛选可分配候选批次
// warehouseID为0表示不限仓库;refDate是效期参考日期
// 过滤规则:status=active、未过期(到期日早于参考日期的剔除)、可用量>0
func (s *CandidateSelector) Select(ctx context.Context,
	productID, warehouseID uint, refDate time.Time) ([]*LotCandidate, error) {
	lots, err := s.lotRepo.ListAllocatable(ctx, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	if len(lots) == 0 {
		return nil, nil
	}

	lotIDs := make([]uint, 0, len(lots))
	for _, l := range lots {
		lotIDs = append(lotIDs, l.ID)
	}

	// 一次汇总全部候选的占用量,避免N+1查询
	holding, err := s.resvRepo.SumByLotIDs(ctx, lotIDs, reservation.HoldingStatuses)
	if err != nil {
		return nil, err
	}

	candidates := make([]*LotCandidate, 0, len(lots))
	for _, l := range lots {
		if l.IsExpiredBefore(refDate) {
			continue
		}
		available := l.AvailableQty(holding[l.ID])
		if available.LessThanOrEqual(decimal.Zero) {
			continue
		}
		candidates = append(candidates, &LotCandidate{
			LotID:        l.ID,
			LotNo:        l.LotNo,
			AvailableQty: available,
			ExpiryDate:   l.ExpiryDate,
			ReceivedDate: l.ReceivedDate,
		})
	}

	sortFEFO(candidates)
	return candidates, nil
}

// sortFEFO 按FEFO全序排序候选
func sortFEFO(candidates []*LotCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		// 到期日升序,NULL(无效期)排最后
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate != nil:
			return false
		case a.ExpiryDate != nil && b.ExpiryDate == nil:
			return true
		case a.ExpiryDate != nil && b.ExpiryDate != nil:
			if !a.ExpiryDate.Equal(*b.ExpiryDate) {
				return a.ExpiryDate.Before(*b.ExpiryDate)
			}
		}
		// 收货日期升序
		if !a.ReceivedDate.Equal(b.ReceivedDate) {
			return a.ReceivedDate.Before(b.ReceivedDate)
		}
		// 批次ID升序兜底,保证全序
		return a.LotID < b.LotID
	})
}
