package integration

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 教学说明：预留引擎集成测试
//
// 测试场景覆盖：
// 1. 收货与批次族汇总
// 2. 预留创建与可用量扣减
// 3. 临时预留(不扣对外可用量)与转正
// 4. 确认(外部登记)与幂等重试
// 5. 释放(单条/按来源)
// 6. 认证与参数校验
//
// 前置条件：docker-compose启动全部依赖(含模拟ERP),服务监听8080

// TestLotReceiveAndSummary 测试收货与批次族汇总
func TestLotReceiveAndSummary(t *testing.T) {
	token := OperatorToken(t, "operator")
	productID := NextProductID()

	t.Run("收货两个批次后汇总正确", func(t *testing.T) {
		ReceiveTestLot(t, token, productID, "300.000", "2027-06-30")
		ReceiveTestLot(t, token, productID, "200.000", "2027-03-31")

		resp := GetJSON(t, fmt.Sprintf("%s/lots/summary?product_id=%d&warehouse_id=1",
			BaseURL, productID), "")
		require.Equal(t, 0, resp.Code, "查询汇总失败: %s", resp.Message)

		var data SummaryData
		err := json.Unmarshal(resp.Data, &data)
		require.NoError(t, err)

		RequireQtyEqual(t, "500", data.TotalReceivedQty, "收货总量应该是两次之和")
		assert.Equal(t, 2, data.LotCount, "批次数应该是2")

		t.Logf("✓ 汇总正确: 总量=%s 批次数=%d", data.TotalReceivedQty, data.LotCount)
	})

	t.Run("未登录不能收货", func(t *testing.T) {
		resp := PostJSON(t, BaseURL+"/lots", map[string]interface{}{
			"product_id":   productID,
			"warehouse_id": 1,
			"supplier_id":  1,
			"received_qty": "100",
		}, "") // 空token

		assert.Equal(t, 40100, resp.Code, "未登录应该被拒绝")
		t.Logf("✓ 未登录正确被拒绝: %s", resp.Message)
	})
}

// TestReservationLifecycle 测试预留完整生命周期
func TestReservationLifecycle(t *testing.T) {
	token := OperatorToken(t, "operator")
	productID := NextProductID()
	lotID := ReceiveTestLot(t, token, productID, "500.000", "2027-06-30")

	t.Run("预留后可用量扣减", func(t *testing.T) {
		data := ReserveQty(t, token, productID, "120.000", "SO-IT-0001", false)

		require.Len(t, data.Items, 1, "单批满足时应该只有一条明细")
		assert.Equal(t, lotID, data.Items[0].LotID)
		assert.Equal(t, "active", data.Items[0].Status)
		RequireQtyEqual(t, "0", data.Shortage, "足量分配时缺口应该为0")

		RequireQtyEqual(t, "380", LotAvailability(t, lotID), "500-120=380")
		t.Logf("✓ 预留成功: reservation_id=%d 可用量=380", data.Items[0].ReservationID)
	})

	t.Run("确认后重复确认幂等", func(t *testing.T) {
		data := ReserveQty(t, token, productID, "50.000", "SO-IT-0002", false)
		resvID := data.Items[0].ReservationID

		// 第一次确认
		resp1 := PostJSON(t, fmt.Sprintf("%s/reservations/%d/confirm", BaseURL, resvID),
			map[string]interface{}{}, token)
		require.Equal(t, 0, resp1.Code, "确认失败: %s", resp1.Message)

		var c1 ConfirmData
		require.NoError(t, json.Unmarshal(resp1.Data, &c1))
		assert.Equal(t, "confirmed", c1.Status)
		assert.NotEmpty(t, c1.DocumentNo, "确认成功必须带ERP单据号")

		// 重复确认:幂等返回同一单据号
		resp2 := PostJSON(t, fmt.Sprintf("%s/reservations/%d/confirm", BaseURL, resvID),
			map[string]interface{}{}, token)
		require.Equal(t, 0, resp2.Code, "重复确认应该幂等成功: %s", resp2.Message)

		var c2 ConfirmData
		require.NoError(t, json.Unmarshal(resp2.Data, &c2))
		assert.Equal(t, c1.DocumentNo, c2.DocumentNo, "重复确认必须返回同一单据号")

		t.Logf("✓ 确认幂等: document_no=%s", c1.DocumentNo)
	})

	t.Run("已确认预留不能直接释放", func(t *testing.T) {
		data := ReserveQty(t, token, productID, "30.000", "SO-IT-0003", false)
		resvID := data.Items[0].ReservationID

		resp := PostJSON(t, fmt.Sprintf("%s/reservations/%d/confirm", BaseURL, resvID),
			map[string]interface{}{}, token)
		require.Equal(t, 0, resp.Code, "确认失败: %s", resp.Message)

		delResp := DeleteJSON(t, fmt.Sprintf("%s/reservations/%d", BaseURL, resvID), token)
		assert.Equal(t, 40002, delResp.Code, "已确认预留直接释放应该被拒绝")

		t.Logf("✓ 已确认预留正确被拒绝释放: %s", delResp.Message)
	})

	t.Run("释放后可用量恢复", func(t *testing.T) {
		before := LotAvailability(t, lotID)

		data := ReserveQty(t, token, productID, "40.000", "SO-IT-0004", false)
		resvID := data.Items[0].ReservationID

		resp := DeleteJSON(t, fmt.Sprintf("%s/reservations/%d", BaseURL, resvID), token)
		require.Equal(t, 0, resp.Code, "释放失败: %s", resp.Message)

		RequireQtyEqual(t, before, LotAvailability(t, lotID), "释放后可用量应该恢复")
		t.Logf("✓ 释放后可用量恢复: %s", before)
	})
}

// TestTemporaryReservation 测试临时预留
func TestTemporaryReservation(t *testing.T) {
	token := OperatorToken(t, "operator")
	productID := NextProductID()
	lotID := ReceiveTestLot(t, token, productID, "200.000", "2027-06-30")

	t.Run("临时预留不扣对外可用量", func(t *testing.T) {
		data := ReserveQty(t, token, productID, "80.000", "FC-IT-0001", true)
		require.Len(t, data.Items, 1)
		assert.Equal(t, "temporary", data.Items[0].Status)

		// 对外可用量只扣active+confirmed,临时预留不可见
		RequireQtyEqual(t, "200", LotAvailability(t, lotID), "临时预留不应扣减对外可用量")

		t.Logf("✓ 临时预留不影响对外可用量")
	})

	t.Run("临时预留挡住后续候选筛选", func(t *testing.T) {
		// 候选筛选扣全部占用(含临时80):200-80=120,要150不够
		resp := PostJSON(t, BaseURL+"/reservations", map[string]interface{}{
			"product_id":   productID,
			"warehouse_id": 1,
			"required_qty": "150.000",
			"source_type":  "order",
			"source_id":    "SO-IT-0005",
		}, token)

		assert.Equal(t, 40001, resp.Code, "候选筛选应该扣掉临时预留占用")
		t.Logf("✓ 临时预留正确参与候选筛选扣减: %s", resp.Message)
	})

	t.Run("转正后对外可用量扣减", func(t *testing.T) {
		data := ReserveQty(t, token, productID, "50.000", "FC-IT-0002", true)
		resvID := data.Items[0].ReservationID

		resp := PostJSON(t, fmt.Sprintf("%s/reservations/%d/promote", BaseURL, resvID),
			nil, token)
		require.Equal(t, 0, resp.Code, "转正失败: %s", resp.Message)

		RequireQtyEqual(t, "150", LotAvailability(t, lotID), "转正后对外可用量200-50=150")
		t.Logf("✓ 转正后可用量正确扣减")
	})
}

// TestPartialAllocation 测试部分分配与库存不足
func TestPartialAllocation(t *testing.T) {
	token := OperatorToken(t, "operator")
	productID := NextProductID()
	ReceiveTestLot(t, token, productID, "100.000", "2027-06-30")

	t.Run("不允许部分分配时库存不足报错", func(t *testing.T) {
		resp := PostJSON(t, BaseURL+"/reservations", map[string]interface{}{
			"product_id":   productID,
			"warehouse_id": 1,
			"required_qty": "150.000",
			"source_type":  "order",
			"source_id":    "SO-IT-0006",
		}, token)

		assert.Equal(t, 40001, resp.Code, "库存不足应该返回40001")
		assert.False(t, resp.Retryable, "库存不足不是瞬时故障,不应标记可重试")
		t.Logf("✓ 库存不足正确报错: %s", resp.Message)
	})

	t.Run("允许部分分配时返回缺口", func(t *testing.T) {
		resp := PostJSON(t, BaseURL+"/reservations", map[string]interface{}{
			"product_id":    productID,
			"warehouse_id":  1,
			"required_qty":  "150.000",
			"source_type":   "order",
			"source_id":     "SO-IT-0007",
			"allow_partial": true,
		}, token)
		require.Equal(t, 0, resp.Code, "部分分配应该是成功响应: %s", resp.Message)

		var data ReserveData
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		RequireQtyEqual(t, "50", data.Shortage, "缺口应该是150-100=50")
		require.Len(t, data.Items, 1)
		RequireQtyEqual(t, "100", data.Items[0].Qty, "应该分走全部可用量")

		t.Logf("✓ 部分分配成功: 分配=%s 缺口=%s", data.Items[0].Qty, data.Shortage)
	})
}

// TestReleaseBySource 测试按来源释放
func TestReleaseBySource(t *testing.T) {
	token := OperatorToken(t, "operator")
	productID := NextProductID()
	lotID := ReceiveTestLot(t, token, productID, "300.000", "2027-06-30")

	t.Run("取消来源单据释放其全部未确认预留", func(t *testing.T) {
		ReserveQty(t, token, productID, "60.000", "SO-IT-CANCEL", false)
		ReserveQty(t, token, productID, "40.000", "SO-IT-CANCEL", true)
		ReserveQty(t, token, productID, "30.000", "SO-IT-KEEP", false)

		resp := PostJSON(t, BaseURL+"/reservations/release-by-source", map[string]interface{}{
			"source_type": "order",
			"source_id":   "SO-IT-CANCEL",
		}, token)
		require.Equal(t, 0, resp.Code, "按来源释放失败: %s", resp.Message)

		var data ReleasedData
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		assert.Equal(t, 2, data.Count, "应该释放该来源的2条预留")

		// 另一来源的30仍然占用:300-30=270
		RequireQtyEqual(t, "270", LotAvailability(t, lotID), "其他来源的预留不受影响")

		t.Logf("✓ 按来源释放成功: 释放%d条", data.Count)
	})
}
