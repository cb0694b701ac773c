package confirmation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiebiao/warehouse/internal/domain/lot"
	"github.com/xiebiao/warehouse/internal/domain/reservation"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// 教学说明:批量确认测试
// 批量是调度循环而非大事务:单条失败只进失败清单,不拖累其他预留

// seedBatch 造n个批次,每个批次上一条生效预留,返回预留ID列表
func (f *confirmFixture) seedBatch(t *testing.T, n int) []uint {
	t.Helper()
	ids := make([]uint, 0, n)
	expiry := time.Now().AddDate(0, 0, 30)
	for i := 0; i < n; i++ {
		l := lot.NewLot(lot.GenerateLotNo(), 100, 1, 7,
			decimal.NewFromInt(50), &expiry, time.Now().AddDate(0, 0, -3))
		require.NoError(t, f.lotRepo.Create(context.Background(), l))

		r, err := reservation.NewReservation(l.ID, reservation.SourceTypeOrder,
			fmt.Sprintf("SO-B%04d", i), decimal.NewFromInt(10),
			reservation.StatusActive, nil)
		require.NoError(t, err)
		require.NoError(t, f.resvRepo.Create(context.Background(), r))
		ids = append(ids, r.ID)
	}
	return ids
}

// TestConfirmBatch_AllSuccess 1000条独立预留全部确认,外部登记恰好1000次
func TestConfirmBatch_AllSuccess(t *testing.T) {
	f := newConfirmFixture()
	ids := f.seedBatch(t, 1000)

	resp, err := f.batch.Execute(context.Background(), ids, time.Time{})
	require.NoError(t, err)

	assert.Len(t, resp.Confirmed, 1000)
	assert.Empty(t, resp.Failed)
	assert.Equal(t, 1000, f.gw.TotalRegisterCalls(), "每条预留恰好一次外部登记,不多不少")
}

// TestConfirmBatch_PartialFailureIsolation 中途失败不影响其余预留
func TestConfirmBatch_PartialFailureIsolation(t *testing.T) {
	f := newConfirmFixture()
	ids := f.seedBatch(t, 10)

	// 让第5条的外部登记失败
	failedID := ids[4]
	f.gw.FailWith[failedID] = apperrors.ErrExternalRegistration

	resp, err := f.batch.Execute(context.Background(), ids, time.Time{})
	require.NoError(t, err)

	assert.Len(t, resp.Confirmed, 9, "其余9条照常确认")
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, failedID, resp.Failed[0].ReservationID)
	assert.True(t, resp.Failed[0].Retryable, "网关瞬时故障应标记可重试")

	// 失败那条仍是active,其余都已confirmed
	for _, id := range ids {
		r, err := f.resvRepo.FindByID(context.Background(), id)
		require.NoError(t, err)
		if id == failedID {
			assert.Equal(t, reservation.StatusActive, r.Status)
		} else {
			assert.Equal(t, reservation.StatusConfirmed, r.Status)
		}
	}
}

// TestConfirmBatch_MixedReasons 不同失败原因分别记录
func TestConfirmBatch_MixedReasons(t *testing.T) {
	f := newConfirmFixture()
	ids := f.seedBatch(t, 3)

	f.gw.FailWith[ids[0]] = apperrors.ErrExternalRejected // 业务拒绝
	// ids[1]正常
	f.gw.FailWith[ids[2]] = apperrors.ErrExternalRegistration // 瞬时故障

	resp, err := f.batch.Execute(context.Background(), ids, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, []uint{ids[1]}, resp.Confirmed)
	require.Len(t, resp.Failed, 2)
	assert.False(t, resp.Failed[0].Retryable, "业务拒绝不可重试")
	assert.True(t, resp.Failed[1].Retryable)
}

// TestConfirmBatch_ContextCancelled 取消后剩余预留整批记入失败清单
// 响应必须覆盖全部入参,调用方不用在错误路径上翻找部分结果
func TestConfirmBatch_ContextCancelled(t *testing.T) {
	f := newConfirmFixture()
	ids := f.seedBatch(t, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := f.batch.Execute(ctx, ids, time.Time{})
	require.NoError(t, err, "取消不是错误,响应照常返回")

	assert.Empty(t, resp.Confirmed)
	require.Len(t, resp.Failed, 5, "每条入参都要有交代")
	for _, fail := range resp.Failed {
		assert.True(t, fail.Retryable, "未执行的预留应标记可重试")
	}
	assert.Equal(t, 0, f.gw.TotalRegisterCalls(), "取消后不再发起外部登记")
}
