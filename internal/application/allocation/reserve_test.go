package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
	"github.com/xiebiao/warehouse/internal/testutil"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
	"github.com/xiebiao/warehouse/pkg/metrics"
)

// 教学说明:预留分配用例测试
// 用内存仓储跑完整的筛选-规划-锁行-落库流程,
// 重点验证候选口径、部分分配、审计与发件箱的联动

type reserveFixture struct {
	reserve  *ReserveUseCase
	promote  *PromoteUseCase
	query    *AvailabilityQuery
	lotRepo  *testutil.FakeLotRepo
	resvRepo *testutil.FakeReservationRepo
	audit    *testutil.FakeAuditRepo
	outbox   *testutil.FakeOutboxRepo
	cache    *testutil.FakeAvailabilityCache
}

func newReserveFixture() *reserveFixture {
	metrics.InitMetrics()

	lotRepo := testutil.NewFakeLotRepo()
	resvRepo := testutil.NewFakeReservationRepo()
	audit := testutil.NewFakeAuditRepo()
	ob := testutil.NewFakeOutboxRepo()
	tx := testutil.NewFakeTxManager()
	cache := testutil.NewFakeAvailabilityCache()
	selector := NewCandidateSelector(lotRepo, resvRepo)

	return &reserveFixture{
		reserve:  NewReserveUseCase(selector, lotRepo, resvRepo, audit, ob, tx, cache, 30*time.Minute),
		promote:  NewPromoteUseCase(lotRepo, resvRepo, audit, tx, cache),
		query:    NewAvailabilityQuery(lotRepo, resvRepo, cache),
		lotRepo:  lotRepo,
		resvRepo: resvRepo,
		audit:    audit,
		outbox:   ob,
		cache:    cache,
	}
}

// seedLot 造一个在库批次,返回批次ID
func (f *reserveFixture) seedLot(t *testing.T, qty int64, expiryOffset int, receivedOffset int) uint {
	t.Helper()
	var expiry *time.Time
	if expiryOffset != 0 {
		e := time.Now().AddDate(0, 0, expiryOffset)
		expiry = &e
	}
	l := lot.NewLot(lot.GenerateLotNo(), 100, 1, 7,
		decimal.NewFromInt(qty), expiry, time.Now().AddDate(0, 0, receivedOffset))
	require.NoError(t, f.lotRepo.Create(context.Background(), l))
	return l.ID
}

// TestReserve_ActiveMode 正常分配生效预留
func TestReserve_ActiveMode(t *testing.T) {
	f := newReserveFixture()
	lotID := f.seedLot(t, 100, 30, -3)

	resp, err := f.reserve.Execute(context.Background(), ReserveRequest{
		ProductID:   100,
		RequiredQty: decimal.NewFromInt(40),
		SourceType:  reservation.SourceTypeOrder,
		SourceID:    "SO-1001",
		Mode:        ModeActive,
	})
	require.NoError(t, err)

	require.Len(t, resp.Items, 1)
	assert.Equal(t, lotID, resp.Items[0].LotID)
	assert.Equal(t, "40", resp.Items[0].Qty)
	assert.Equal(t, "0", resp.Shortage)

	// 预留行已落库且为生效状态
	r, err := f.resvRepo.FindByID(context.Background(), resp.Items[0].ReservationID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusActive, r.Status)
	assert.Nil(t, r.ExpiresAt, "生效预留不带过期时间")

	// 审计与发件箱同步写入
	entries, err := f.audit.ListByReservationID(context.Background(), r.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, reservation.AuditActionCreated, entries[0].Action)
	assert.Equal(t, []string{"reservation.created"}, f.outbox.EventTypes())

	// 写路径提交后缓存被失效
	assert.Equal(t, 1, f.cache.Invalidated[lotID])
}

// TestReserve_TemporaryMode 临时预留带过期时间,且占住候选可用量
func TestReserve_TemporaryMode(t *testing.T) {
	f := newReserveFixture()
	lotID := f.seedLot(t, 100, 30, -3)

	resp, err := f.reserve.Execute(context.Background(), ReserveRequest{
		ProductID:   100,
		RequiredQty: decimal.NewFromInt(60),
		SourceType:  reservation.SourceTypeForecast,
		SourceID:    "FC-2001",
		Mode:        ModeTemporary,
	})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)

	r, err := f.resvRepo.FindByID(context.Background(), resp.Items[0].ReservationID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusTemporary, r.Status)
	require.NotNil(t, r.ExpiresAt, "临时预留必须带过期时间")

	// 临时预留不计入对外可用量(硬口径只算active+confirmed)
	available, err := f.query.AvailableQuantity(context.Background(), lotID)
	require.NoError(t, err)
	assert.True(t, available.Equal(decimal.NewFromInt(100)),
		"对外可用量不扣临时预留,实际:%s", available)

	// 但候选筛选必须把它扣掉,防止多步规划期间超卖
	_, err = f.reserve.Execute(context.Background(), ReserveRequest{
		ProductID:   100,
		RequiredQty: decimal.NewFromInt(50),
		SourceType:  reservation.SourceTypeOrder,
		SourceID:    "SO-1002",
	})
	require.Error(t, err, "100-60=40,不够50,必须拒绝")
	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.ErrCodeInsufficientStock, appErr.Code)
}

// TestReserve_PartialAllowed 部分分配作为成功返回并报告缺口
func TestReserve_PartialAllowed(t *testing.T) {
	f := newReserveFixture()
	f.seedLot(t, 30, 30, -3)

	resp, err := f.reserve.Execute(context.Background(), ReserveRequest{
		ProductID:    100,
		RequiredQty:  decimal.NewFromInt(50),
		SourceType:   reservation.SourceTypeOrder,
		SourceID:     "SO-1003",
		AllowPartial: true,
	})
	require.NoError(t, err)

	require.Len(t, resp.Items, 1)
	assert.Equal(t, "30", resp.Items[0].Qty)
	assert.Equal(t, "20", resp.Shortage)
}

// TestReserve_SingleLotFitEndToEnd 单批次整配穿透整个用例
func TestReserve_SingleLotFitEndToEnd(t *testing.T) {
	f := newReserveFixture()
	f.seedLot(t, 50, 5, -10)           // A:到期早但装不下
	bigLot := f.seedLot(t, 100, 10, -5) // B:到期晚但独自装得下

	resp, err := f.reserve.Execute(context.Background(), ReserveRequest{
		ProductID:   100,
		RequiredQty: decimal.NewFromInt(80),
		SourceType:  reservation.SourceTypeOrder,
		SourceID:    "SO-1004",
	})
	require.NoError(t, err)

	require.Len(t, resp.Items, 1, "不应拆单")
	assert.Equal(t, bigLot, resp.Items[0].LotID)
}

// TestReserve_SkipsExpiredLots 到期日早于参考日期的批次不参与分配
func TestReserve_SkipsExpiredLots(t *testing.T) {
	f := newReserveFixture()
	f.seedLot(t, 100, -1, -10) // 昨天已到期
	fresh := f.seedLot(t, 100, 30, -5)

	resp, err := f.reserve.Execute(context.Background(), ReserveRequest{
		ProductID:   100,
		RequiredQty: decimal.NewFromInt(50),
		SourceType:  reservation.SourceTypeOrder,
		SourceID:    "SO-1005",
	})
	require.NoError(t, err)

	require.Len(t, resp.Items, 1)
	assert.Equal(t, fresh, resp.Items[0].LotID, "只能从未过期批次分配")
}

// TestPromote_Success 临时预留转正后计入硬口径
func TestPromote_Success(t *testing.T) {
	f := newReserveFixture()
	lotID := f.seedLot(t, 100, 30, -3)

	resp, err := f.reserve.Execute(context.Background(), ReserveRequest{
		ProductID:   100,
		RequiredQty: decimal.NewFromInt(60),
		SourceType:  reservation.SourceTypeForecast,
		SourceID:    "FC-2002",
		Mode:        ModeTemporary,
	})
	require.NoError(t, err)
	resvID := resp.Items[0].ReservationID

	require.NoError(t, f.promote.Execute(context.Background(), resvID))

	r, err := f.resvRepo.FindByID(context.Background(), resvID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusActive, r.Status)
	assert.Nil(t, r.ExpiresAt, "转正后过期时间清空")

	// 转正后对外可用量立刻反映硬占用
	available, err := f.query.AvailableQuantity(context.Background(), lotID)
	require.NoError(t, err)
	assert.True(t, available.Equal(decimal.NewFromInt(40)))
}

// TestPromote_RejectsNonTemporary 只有临时预留能转正
func TestPromote_RejectsNonTemporary(t *testing.T) {
	f := newReserveFixture()
	f.seedLot(t, 100, 30, -3)

	resp, err := f.reserve.Execute(context.Background(), ReserveRequest{
		ProductID:   100,
		RequiredQty: decimal.NewFromInt(10),
		SourceType:  reservation.SourceTypeOrder,
		SourceID:    "SO-1006",
	})
	require.NoError(t, err)

	err = f.promote.Execute(context.Background(), resp.Items[0].ReservationID)
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.ErrCodeInvalidStateTransition, appErr.Code)
}

// TestAvailability_CacheAside 缓存命中路径与失效路径
func TestAvailability_CacheAside(t *testing.T) {
	f := newReserveFixture()
	lotID := f.seedLot(t, 100, 30, -3)

	// 第一次查询回源并写缓存
	available, err := f.query.AvailableQuantity(context.Background(), lotID)
	require.NoError(t, err)
	assert.True(t, available.Equal(decimal.NewFromInt(100)))

	cached, ok, err := f.cache.Get(context.Background(), lotID)
	require.NoError(t, err)
	require.True(t, ok, "查询后应已写入缓存")
	assert.True(t, cached.Equal(decimal.NewFromInt(100)))

	// 写路径提交后缓存失效,下次查询拿到新值
	_, err = f.reserve.Execute(context.Background(), ReserveRequest{
		ProductID:   100,
		RequiredQty: decimal.NewFromInt(30),
		SourceType:  reservation.SourceTypeOrder,
		SourceID:    "SO-1007",
	})
	require.NoError(t, err)

	_, ok, err = f.cache.Get(context.Background(), lotID)
	require.NoError(t, err)
	assert.False(t, ok, "预留提交后缓存应被失效")

	available, err = f.query.AvailableQuantity(context.Background(), lotID)
	require.NoError(t, err)
	assert.True(t, available.Equal(decimal.NewFromInt(70)))
}
