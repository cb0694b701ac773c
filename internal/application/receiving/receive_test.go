package receiving

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiebiao/warehouse/internal/testutil"
)

// 教学说明:收货用例测试
// 重点:收货写入与批次族汇总重算在同一事务,汇总永远是收货行的纯函数

type receiveFixture struct {
	receive *ReceiveLotUseCase
	lotRepo *testutil.FakeLotRepo
	summary *testutil.FakeSummaryRepo
	outbox  *testutil.FakeOutboxRepo
}

func newReceiveFixture() *receiveFixture {
	lotRepo := testutil.NewFakeLotRepo()
	summary := testutil.NewFakeSummaryRepo(lotRepo)
	ob := testutil.NewFakeOutboxRepo()
	tx := testutil.NewFakeTxManager()

	return &receiveFixture{
		receive: NewReceiveLotUseCase(lotRepo, summary, ob, tx),
		lotRepo: lotRepo,
		summary: summary,
		outbox:  ob,
	}
}

// TestReceiveLot 正常收货
func TestReceiveLot(t *testing.T) {
	f := newReceiveFixture()
	expiry := time.Now().AddDate(0, 1, 0)

	resp, err := f.receive.Execute(context.Background(), ReceiveLotRequest{
		ProductID:   100,
		WarehouseID: 1,
		SupplierID:  7,
		ReceivedQty: decimal.NewFromInt(500),
		ExpiryDate:  &expiry,
	})
	require.NoError(t, err)

	assert.NotZero(t, resp.LotID)
	assert.NotEmpty(t, resp.LotNo)
	assert.Equal(t, "500", resp.ReceivedQty)

	l, err := f.lotRepo.FindByID(context.Background(), resp.LotID)
	require.NoError(t, err)
	assert.True(t, l.IsActive())
	assert.Equal(t, []string{"lot.received"}, f.outbox.EventTypes())
}

// TestReceiveLot_SummaryRecompute 收货触发批次族汇总全量重算
func TestReceiveLot_SummaryRecompute(t *testing.T) {
	f := newReceiveFixture()

	_, err := f.receive.Execute(context.Background(), ReceiveLotRequest{
		ProductID: 100, WarehouseID: 1, SupplierID: 7,
		ReceivedQty: decimal.NewFromInt(300),
	})
	require.NoError(t, err)

	_, err = f.receive.Execute(context.Background(), ReceiveLotRequest{
		ProductID: 100, WarehouseID: 1, SupplierID: 8,
		ReceivedQty: decimal.NewFromInt(200),
	})
	require.NoError(t, err)

	// 别的批次族不该被牵连
	_, err = f.receive.Execute(context.Background(), ReceiveLotRequest{
		ProductID: 200, WarehouseID: 1, SupplierID: 7,
		ReceivedQty: decimal.NewFromInt(999),
	})
	require.NoError(t, err)

	s, err := f.summary.Find(context.Background(), 100, 1)
	require.NoError(t, err)
	assert.True(t, s.TotalReceivedQty.Equal(decimal.NewFromInt(500)), "两次收货累计500")
	assert.Equal(t, 2, s.LotCount)

	other, err := f.summary.Find(context.Background(), 200, 1)
	require.NoError(t, err)
	assert.True(t, other.TotalReceivedQty.Equal(decimal.NewFromInt(999)))
	assert.Equal(t, 1, other.LotCount)
}

// TestReceiveLot_Validation 非法收货被工厂校验拦下
func TestReceiveLot_Validation(t *testing.T) {
	f := newReceiveFixture()

	_, err := f.receive.Execute(context.Background(), ReceiveLotRequest{
		ProductID: 0, WarehouseID: 1,
		ReceivedQty: decimal.NewFromInt(10),
	})
	assert.Error(t, err, "产品ID必填")

	_, err = f.receive.Execute(context.Background(), ReceiveLotRequest{
		ProductID: 100, WarehouseID: 1,
		ReceivedQty: decimal.Zero,
	})
	assert.Error(t, err, "收货数量必须大于0")
}
