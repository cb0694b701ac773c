package confirmation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiebiao/warehouse/internal/domain/reservation"
	"github.com/xiebiao/warehouse/internal/testutil"
	apperrors "github.com/xiebiao/warehouse/pkg/errors"
)

// 教学说明:补偿释放测试
// 已确认预留只能通过Saga撤销:先撤外部登记,再释放本地预留
// 第二步失败时必须重新登记,恢复两边一致

type compensateFixture struct {
	*confirmFixture
	release *ReleaseConfirmedUseCase
}

func newCompensateFixture() *compensateFixture {
	f := newConfirmFixture()
	tx := testutil.NewFakeTxManager()
	return &compensateFixture{
		confirmFixture: f,
		release: NewReleaseConfirmedUseCase(f.lotRepo, f.resvRepo, f.audit, f.outbox,
			f.gw, tx, f.cache, 10*time.Second),
	}
}

// confirmOne 造一条预留并走完确认流程,返回预留ID和单据号
func (f *compensateFixture) confirmOne(t *testing.T) (uint, string) {
	t.Helper()
	_, resvID := f.seedActiveReservation(t, 30)
	resp, err := f.confirm.Execute(context.Background(), ConfirmRequest{ReservationID: resvID})
	require.NoError(t, err)
	return resvID, resp.DocumentNo
}

// TestReleaseConfirmed_Success 正常补偿释放
func TestReleaseConfirmed_Success(t *testing.T) {
	f := newCompensateFixture()
	resvID, docNo := f.confirmOne(t)

	require.NoError(t, f.release.Execute(context.Background(), resvID))

	assert.Equal(t, 1, f.gw.CancelCalls[docNo], "外部登记先被撤销")

	r, err := f.resvRepo.FindByID(context.Background(), resvID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusReleased, r.Status)
	assert.NotNil(t, r.ReleasedAt)

	// 审计里有补偿记录
	entries, err := f.audit.ListByReservationID(context.Background(), resvID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, reservation.AuditActionCompensated, last.Action)
	assert.Equal(t, reservation.StatusConfirmed, last.FromStatus)
}

// TestReleaseConfirmed_RejectsUnconfirmed 未确认预留不走补偿通道
func TestReleaseConfirmed_RejectsUnconfirmed(t *testing.T) {
	f := newCompensateFixture()
	_, resvID := f.seedActiveReservation(t, 30)

	err := f.release.Execute(context.Background(), resvID)
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.ErrCodeInvalidStateTransition, appErr.Code)
}

// TestReleaseConfirmed_CancelFailureKeepsConfirmed 撤销失败时本地状态不动
func TestReleaseConfirmed_CancelFailureKeepsConfirmed(t *testing.T) {
	f := newCompensateFixture()
	resvID, docNo := f.confirmOne(t)
	f.gw.CancelFail[docNo] = apperrors.ErrExternalRegistration

	err := f.release.Execute(context.Background(), resvID)
	require.Error(t, err)

	r, err := f.resvRepo.FindByID(context.Background(), resvID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, r.Status, "撤销没成功,本地必须保持confirmed")
}

// TestReleaseConfirmed_LocalFailureReRegisters 本地释放失败触发重新登记
// Saga逆序补偿:步骤2失败 → 补偿步骤1(用原幂等键重新登记)
func TestReleaseConfirmed_LocalFailureReRegisters(t *testing.T) {
	f := newCompensateFixture()
	resvID, docNo := f.confirmOne(t)
	require.Equal(t, 1, f.gw.RegisterCalls[resvID])

	// 本地释放落库失败
	f.resvRepo.FailUpdateOnce = true
	err := f.release.Execute(context.Background(), resvID)
	require.Error(t, err)

	assert.Equal(t, 1, f.gw.CancelCalls[docNo], "撤销已经发出")
	assert.Equal(t, 2, f.gw.RegisterCalls[resvID], "补偿流程必须重新登记恢复外部状态")

	r, err := f.resvRepo.FindByID(context.Background(), resvID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, r.Status, "两边恢复一致:本地confirmed+外部已登记")

	// 故障排除后重试成功
	require.NoError(t, f.release.Execute(context.Background(), resvID))
	r, err = f.resvRepo.FindByID(context.Background(), resvID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusReleased, r.Status)
}
