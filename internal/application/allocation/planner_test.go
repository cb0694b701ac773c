package allocation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// 教学说明:分配规划器单元测试
// 规划器是纯函数,不碰数据库,测试只需要构造候选列表

func day(offset int) *time.Time {
	t := time.Now().AddDate(0, 0, offset).Truncate(24 * time.Hour)
	return &t
}

func candidate(lotID uint, qty int64, expiry *time.Time, receivedOffset int) *LotCandidate {
	return &LotCandidate{
		LotID:        lotID,
		AvailableQty: decimal.NewFromInt(qty),
		ExpiryDate:   expiry,
		ReceivedDate: time.Now().AddDate(0, 0, receivedOffset),
	}
}

// TestBuildPlan_SingleLotFit 单批次整配优先于FEFO拆分
// 批次A(5天后到期,可用50)、批次B(10天后到期,可用100),需求80:
// 虽然A到期更早,但只有B独自装得下,全部80从B出,不拆单
func TestBuildPlan_SingleLotFit(t *testing.T) {
	candidates := []*LotCandidate{
		candidate(1, 50, day(5), -10),
		candidate(2, 100, day(10), -5),
	}

	plan, err := BuildPlan(decimal.NewFromInt(80), candidates, false)
	require.NoError(t, err)

	require.Len(t, plan.Items, 1, "应该只从一个批次分配")
	assert.Equal(t, uint(2), plan.Items[0].LotID, "应该选独自装得下的批次B")
	assert.True(t, plan.Items[0].Qty.Equal(decimal.NewFromInt(80)))
	assert.False(t, plan.IsPartial())
}

// TestBuildPlan_SingleLotFitPrefersEarliest 多个批次都装得下时选FEFO序最靠前的
func TestBuildPlan_SingleLotFitPrefersEarliest(t *testing.T) {
	candidates := []*LotCandidate{
		candidate(1, 90, day(5), -10),
		candidate(2, 100, day(10), -5),
	}

	plan, err := BuildPlan(decimal.NewFromInt(80), candidates, false)
	require.NoError(t, err)

	require.Len(t, plan.Items, 1)
	assert.Equal(t, uint(1), plan.Items[0].LotID, "两个都装得下时选到期更早的A")
}

// TestBuildPlan_FEFOSplit 没有批次独自装得下时按FEFO顺序贪心拆分
// 批次A(可用30,5天后到期)、批次B(可用30,10天后到期),需求50:
// A出30,B出20,顺序固定
func TestBuildPlan_FEFOSplit(t *testing.T) {
	candidates := []*LotCandidate{
		candidate(1, 30, day(5), -10),
		candidate(2, 30, day(10), -5),
	}

	plan, err := BuildPlan(decimal.NewFromInt(50), candidates, false)
	require.NoError(t, err)

	require.Len(t, plan.Items, 2)
	assert.Equal(t, uint(1), plan.Items[0].LotID)
	assert.True(t, plan.Items[0].Qty.Equal(decimal.NewFromInt(30)), "先耗尽到期早的A")
	assert.Equal(t, uint(2), plan.Items[1].LotID)
	assert.True(t, plan.Items[1].Qty.Equal(decimal.NewFromInt(20)), "缺口从B补20")
}

// TestBuildPlan_InsufficientStock 不允许部分分配时缺口即失败
func TestBuildPlan_InsufficientStock(t *testing.T) {
	candidates := []*LotCandidate{
		candidate(1, 30, day(5), -10),
	}

	_, err := BuildPlan(decimal.NewFromInt(50), candidates, false)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrCodeInsufficientStock, appErr.Code)
	assert.False(t, appErr.Retryable, "库存不足不是瞬时故障,不应标记可重试")
}

// TestBuildPlan_PartialAllowed 允许部分分配时缺口是一等公民的成功
func TestBuildPlan_PartialAllowed(t *testing.T) {
	candidates := []*LotCandidate{
		candidate(1, 30, day(5), -10),
	}

	plan, err := BuildPlan(decimal.NewFromInt(50), candidates, true)
	require.NoError(t, err, "部分分配不是错误")

	require.Len(t, plan.Items, 1)
	assert.True(t, plan.Items[0].Qty.Equal(decimal.NewFromInt(30)))
	assert.True(t, plan.Shortage.Equal(decimal.NewFromInt(20)), "缺口必须如实报告")
	assert.True(t, plan.IsPartial())
}

// TestBuildPlan_EmptyCandidates 无候选且不允许部分分配
func TestBuildPlan_EmptyCandidates(t *testing.T) {
	_, err := BuildPlan(decimal.NewFromInt(10), nil, false)
	require.Error(t, err)

	plan, err := BuildPlan(decimal.NewFromInt(10), nil, true)
	require.NoError(t, err)
	assert.Empty(t, plan.Items)
	assert.True(t, plan.Shortage.Equal(decimal.NewFromInt(10)))
}

// TestBuildPlan_InvalidQty 需求数量必须大于0
func TestBuildPlan_InvalidQty(t *testing.T) {
	_, err := BuildPlan(decimal.Zero, nil, false)
	assert.Error(t, err)

	_, err = BuildPlan(decimal.NewFromInt(-5), nil, true)
	assert.Error(t, err)
}

// TestSortFEFO FEFO全序:到期日升序、无效期最后、同到期按收货日、再按ID
func TestSortFEFO(t *testing.T) {
	noExpiry := candidate(4, 10, nil, -1)
	late := candidate(3, 10, day(10), -1)
	earlySameDayOlderReceipt := candidate(2, 10, day(5), -9)
	earlySameDayNewerReceipt := candidate(5, 10, day(5), -2)

	candidates := []*LotCandidate{noExpiry, late, earlySameDayNewerReceipt, earlySameDayOlderReceipt}
	sortFEFO(candidates)

	ids := make([]uint, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.LotID)
	}
	assert.Equal(t, []uint{2, 5, 3, 4}, ids,
		"顺序应为:同到期先收货的2、后收货的5、晚到期的3、无效期的4")
}

// TestSortFEFO_TieBreakByID 到期日与收货日都相同时按批次ID兜底
func TestSortFEFO_TieBreakByID(t *testing.T) {
	received := time.Now().AddDate(0, 0, -3)
	a := &LotCandidate{LotID: 7, AvailableQty: decimal.NewFromInt(1), ExpiryDate: day(5), ReceivedDate: received}
	b := &LotCandidate{LotID: 3, AvailableQty: decimal.NewFromInt(1), ExpiryDate: day(5), ReceivedDate: received}

	candidates := []*LotCandidate{a, b}
	sortFEFO(candidates)

	assert.Equal(t, uint(3), candidates[0].LotID)
	assert.Equal(t, uint(7), candidates[1].LotID)
}
