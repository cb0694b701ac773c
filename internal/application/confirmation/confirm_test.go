package confirmation

import (
	"context"
	"sync"
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

// 教学说明:确认协调器测试
//
// 这里验证的是整个引擎最关键的三条性质:
// 1. 幂等:同一预留并发/重复确认,外部登记有且只有一次
// 2. 重放安全:外部登记成功但本地落库失败,重试不二次登记
// 3. 效期边界:到期日==参考日期拒绝确认,参考日期前后移一天结果翻转

type confirmFixture struct {
	confirm  *ConfirmUseCase
	batch    *ConfirmBatchUseCase
	lotRepo  *testutil.FakeLotRepo
	resvRepo *testutil.FakeReservationRepo
	markers  *testutil.FakeMarkerRepo
	audit    *testutil.FakeAuditRepo
	outbox   *testutil.FakeOutboxRepo
	gw       *testutil.FakeGateway
	cache    *testutil.FakeAvailabilityCache
}

func newConfirmFixture() *confirmFixture {
	metrics.InitMetrics()

	lotRepo := testutil.NewFakeLotRepo()
	resvRepo := testutil.NewFakeReservationRepo()
	markers := testutil.NewFakeMarkerRepo()
	audit := testutil.NewFakeAuditRepo()
	ob := testutil.NewFakeOutboxRepo()
	gw := testutil.NewFakeGateway()
	tx := testutil.NewFakeTxManager()
	cache := testutil.NewFakeAvailabilityCache()

	return &confirmFixture{
		confirm:  NewConfirmUseCase(lotRepo, resvRepo, markers, audit, ob, gw, tx, cache),
		batch:    NewConfirmBatchUseCase(NewConfirmUseCase(lotRepo, resvRepo, markers, audit, ob, gw, tx, cache)),
		lotRepo:  lotRepo,
		resvRepo: resvRepo,
		markers:  markers,
		audit:    audit,
		outbox:   ob,
		gw:       gw,
		cache:    cache,
	}
}

// seedActiveReservation 造一个批次和其上的生效预留
func (f *confirmFixture) seedActiveReservation(t *testing.T, expiryOffset int) (uint, uint) {
	t.Helper()
	var expiry *time.Time
	if expiryOffset != 0 {
		e := time.Now().AddDate(0, 0, expiryOffset)
		expiry = &e
	}
	l := lot.NewLot(lot.GenerateLotNo(), 100, 1, 7,
		decimal.NewFromInt(100), expiry, time.Now().AddDate(0, 0, -3))
	require.NoError(t, f.lotRepo.Create(context.Background(), l))

	r, err := reservation.NewReservation(l.ID, reservation.SourceTypeOrder, "SO-9001",
		decimal.NewFromInt(20), reservation.StatusActive, nil)
	require.NoError(t, err)
	require.NoError(t, f.resvRepo.Create(context.Background(), r))
	return l.ID, r.ID
}

// TestConfirm_Success 正常确认
func TestConfirm_Success(t *testing.T) {
	f := newConfirmFixture()
	lotID, resvID := f.seedActiveReservation(t, 30)

	resp, err := f.confirm.Execute(context.Background(), ConfirmRequest{ReservationID: resvID})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.DocumentNo, "确认必须带回外部单据号")
	assert.Equal(t, 1, f.gw.RegisterCalls[resvID], "外部登记恰好一次")

	r, err := f.resvRepo.FindByID(context.Background(), resvID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, r.Status)
	require.NotNil(t, r.DocumentNo)
	assert.Equal(t, resp.DocumentNo, *r.DocumentNo)
	assert.NotNil(t, r.ConfirmedAt)

	// 登记标记已落盘
	marker, err := f.markers.FindByReservationID(context.Background(), resvID)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, resp.DocumentNo, marker.DocumentNo)

	// 审计与发件箱
	entries, err := f.audit.ListByReservationID(context.Background(), resvID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, reservation.AuditActionConfirmed, entries[0].Action)
	assert.Equal(t, []string{"reservation.confirmed"}, f.outbox.EventTypes())
	assert.Equal(t, 1, f.cache.Invalidated[lotID])
}

// TestConfirm_IdempotentSequential 重复确认是幂等成功
func TestConfirm_IdempotentSequential(t *testing.T) {
	f := newConfirmFixture()
	_, resvID := f.seedActiveReservation(t, 30)

	first, err := f.confirm.Execute(context.Background(), ConfirmRequest{ReservationID: resvID})
	require.NoError(t, err)

	second, err := f.confirm.Execute(context.Background(), ConfirmRequest{ReservationID: resvID})
	require.NoError(t, err, "对已确认预留重复确认应幂等成功")

	assert.Equal(t, first.DocumentNo, second.DocumentNo, "两次必须返回同一单据号")
	assert.Equal(t, 1, f.gw.RegisterCalls[resvID], "外部登记仍然只有一次")
}

// TestConfirm_ConcurrentDoubleConfirm 并发双重确认只登记一次
// 两个goroutine同时确认同一预留:批次锁串行化后,
// 先到的走完整流程,后到的命中幂等路径
func TestConfirm_ConcurrentDoubleConfirm(t *testing.T) {
	f := newConfirmFixture()
	_, resvID := f.seedActiveReservation(t, 30)

	var wg sync.WaitGroup
	results := make([]error, 2)
	docs := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			resp, err := f.confirm.Execute(context.Background(),
				ConfirmRequest{ReservationID: resvID})
			results[idx] = err
			if err == nil {
				docs[idx] = resp.DocumentNo
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, results[0])
	require.NoError(t, results[1])
	assert.Equal(t, docs[0], docs[1], "两个并发调用拿到同一单据号")
	assert.Equal(t, 1, f.gw.RegisterCalls[resvID], "外部登记有且只有一次")

	r, err := f.resvRepo.FindByID(context.Background(), resvID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, r.Status)
}

// TestConfirm_BoundaryExpiry 效期边界三连:等于拒绝,前一天拒绝,后一天通过
func TestConfirm_BoundaryExpiry(t *testing.T) {
	f := newConfirmFixture()

	expiry := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	l := lot.NewLot(lot.GenerateLotNo(), 100, 1, 7,
		decimal.NewFromInt(100), &expiry, expiry.AddDate(0, 0, -30))
	require.NoError(t, f.lotRepo.Create(context.Background(), l))

	newResv := func() uint {
		r, err := reservation.NewReservation(l.ID, reservation.SourceTypeOrder, "SO-9002",
			decimal.NewFromInt(5), reservation.StatusActive, nil)
		require.NoError(t, err)
		require.NoError(t, f.resvRepo.Create(context.Background(), r))
		return r.ID
	}

	t.Run("到期日等于参考日期必须拒绝", func(t *testing.T) {
		resvID := newResv()
		_, err := f.confirm.Execute(context.Background(),
			ConfirmRequest{ReservationID: resvID, RefDate: expiry})
		require.Error(t, err)
		appErr := apperrors.GetAppError(err)
		assert.Equal(t, apperrors.ErrCodeLotExpired, appErr.Code)
		assert.Equal(t, 0, f.gw.RegisterCalls[resvID], "拒绝发生在外部调用之前")
	})

	t.Run("参考日期前移一天应通过", func(t *testing.T) {
		resvID := newResv()
		_, err := f.confirm.Execute(context.Background(),
			ConfirmRequest{ReservationID: resvID, RefDate: expiry.AddDate(0, 0, -1)})
		require.NoError(t, err)
	})

	t.Run("参考日期后移一天应拒绝", func(t *testing.T) {
		resvID := newResv()
		_, err := f.confirm.Execute(context.Background(),
			ConfirmRequest{ReservationID: resvID, RefDate: expiry.AddDate(0, 0, 1)})
		require.Error(t, err)
	})
}

// TestConfirm_MarkerReplay 外部登记成功+本地落库失败,重试不二次登记
// 这是整个协调器存在的意义所在
func TestConfirm_MarkerReplay(t *testing.T) {
	f := newConfirmFixture()
	_, resvID := f.seedActiveReservation(t, 30)

	// 第一次尝试:登记成功后,预留主事务落库失败
	f.resvRepo.FailUpdateOnce = true
	_, err := f.confirm.Execute(context.Background(), ConfirmRequest{ReservationID: resvID})
	require.Error(t, err, "落库失败应报错")

	// 预留仍是active,但标记已经落盘
	r, err := f.resvRepo.FindByID(context.Background(), resvID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusActive, r.Status)
	marker, err := f.markers.FindByReservationID(context.Background(), resvID)
	require.NoError(t, err)
	require.NotNil(t, marker, "单据号必须在独立短事务里挺过主事务失败")

	// 第二次尝试:命中标记,跳过外部调用,直接落库
	resp, err := f.confirm.Execute(context.Background(), ConfirmRequest{ReservationID: resvID})
	require.NoError(t, err)
	assert.Equal(t, marker.DocumentNo, resp.DocumentNo, "必须复用标记里的单据号")
	assert.Equal(t, 1, f.gw.RegisterCalls[resvID], "外部登记只发生在第一次尝试")

	r, err = f.resvRepo.FindByID(context.Background(), resvID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, r.Status)
}

// TestConfirm_GatewayRetryableFailure 网关瞬时故障:预留保持active,错误可重试
func TestConfirm_GatewayRetryableFailure(t *testing.T) {
	f := newConfirmFixture()
	_, resvID := f.seedActiveReservation(t, 30)
	f.gw.FailWith[resvID] = apperrors.ErrExternalRegistration

	_, err := f.confirm.Execute(context.Background(), ConfirmRequest{ReservationID: resvID})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err), "网络类故障必须标记可重试")

	r, err := f.resvRepo.FindByID(context.Background(), resvID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusActive, r.Status, "失败不得推进状态")
	assert.Nil(t, r.DocumentNo)

	marker, err := f.markers.FindByReservationID(context.Background(), resvID)
	require.NoError(t, err)
	assert.Nil(t, marker, "登记没成功就不能有标记")
}

// TestConfirm_GatewayBusinessRejection 业务拒绝不可重试
func TestConfirm_GatewayBusinessRejection(t *testing.T) {
	f := newConfirmFixture()
	_, resvID := f.seedActiveReservation(t, 30)
	f.gw.FailWith[resvID] = apperrors.ErrExternalRejected

	_, err := f.confirm.Execute(context.Background(), ConfirmRequest{ReservationID: resvID})
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryable(err), "业务拒绝重试也不会成功")
}

// TestConfirm_RejectsTemporary 临时预留不能直接确认
func TestConfirm_RejectsTemporary(t *testing.T) {
	f := newConfirmFixture()
	lotID, _ := f.seedActiveReservation(t, 30)

	expiresAt := time.Now().Add(time.Hour)
	r, err := reservation.NewReservation(lotID, reservation.SourceTypeForecast, "FC-9003",
		decimal.NewFromInt(5), reservation.StatusTemporary, &expiresAt)
	require.NoError(t, err)
	require.NoError(t, f.resvRepo.Create(context.Background(), r))

	_, err = f.confirm.Execute(context.Background(), ConfirmRequest{ReservationID: r.ID})
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.ErrCodeInvalidStateTransition, appErr.Code)
	assert.Equal(t, 0, f.gw.RegisterCalls[r.ID])
}

// TestConfirm_NoExpiryLotAlwaysConfirmable 无效期批次任何参考日期都可确认
func TestConfirm_NoExpiryLotAlwaysConfirmable(t *testing.T) {
	f := newConfirmFixture()
	_, resvID := f.seedActiveReservation(t, 0) // expiryOffset=0表示无效期

	_, err := f.confirm.Execute(context.Background(),
		ConfirmRequest{ReservationID: resvID, RefDate: time.Now().AddDate(10, 0, 0)})
	require.NoError(t, err)
}
